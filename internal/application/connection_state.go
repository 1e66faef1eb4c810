package application

import "github.com/bnema/jupyter-engine-manager/internal/domain"

type ConnState int

const (
	StateInitializing ConnState = iota
	StateAwaitingHandshake
	StateReady
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingHandshake:
		return "awaiting-handshake"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s ConnState) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

type connEventKind int

const (
	evSetupDone connEventKind = iota
	evSetupFailed
	evInbound
	evChannelLost
	evSendBlocked
	evReconnected
	evReconnectFailed
	evDisconnect
)

type connEvent struct {
	kind connEventKind
	msg  domain.Inbound
	err  error
}

type effectKind int

const (
	effInit effectKind = iota
	effFail
	effLogging
	effRemoteDisconnect
	effDeliver
	effExecuteSuccess
	effExecuteFailure
	effReconnect
	effFlush
	effTeardown
)

type effect struct {
	kind effectKind
	msg  domain.Inbound
	err  error
}

// connMachine is the connection lifecycle as a pure value. step never
// performs I/O; the caller runs the returned effects in order.
type connMachine struct {
	state ConnState
	// attempting is set while a reconnect attempt is in flight.
	attempting bool
	// handshaken remembers that the worker already sent "initialized".
	handshaken bool
}

var inboundEffects = map[domain.MessageKind]effectKind{
	domain.MessageInitialized:    effInit,
	domain.MessageLogging:        effLogging,
	domain.MessageDisconnected:   effRemoteDisconnect,
	domain.MessageMessage:        effDeliver,
	domain.MessageExecuteSuccess: effExecuteSuccess,
	domain.MessageExecuteFailure: effExecuteFailure,
}

func (m connMachine) step(ev connEvent) (connMachine, []effect) {
	if m.state.Terminal() {
		if m.state == StateFailed && ev.kind == evDisconnect {
			m.state = StateDisconnected
			return m, []effect{{kind: effTeardown}}
		}
		return m, nil
	}

	if ev.kind == evDisconnect {
		m.state = StateDisconnected
		m.attempting = false
		return m, []effect{{kind: effTeardown}}
	}

	switch m.state {
	case StateInitializing:
		switch ev.kind {
		case evSetupDone:
			m.state = StateAwaitingHandshake
			return m, []effect{{kind: effFlush}}
		case evSetupFailed:
			m.state = StateFailed
			return m, []effect{{kind: effFail, err: ev.err}}
		}
		return m, nil

	case StateAwaitingHandshake, StateReady:
		switch ev.kind {
		case evInbound:
			return m.dispatch(ev.msg)
		case evChannelLost, evSendBlocked:
			m.state = StateReconnecting
			m.attempting = true
			return m, []effect{{kind: effReconnect}}
		}
		return m, nil

	case StateReconnecting:
		switch ev.kind {
		case evInbound:
			return m.dispatch(ev.msg)
		case evReconnected:
			m.attempting = false
			if m.handshaken {
				m.state = StateReady
			} else {
				m.state = StateAwaitingHandshake
			}
			return m, []effect{{kind: effFlush}}
		case evReconnectFailed:
			m.attempting = false
			return m, nil
		case evSendBlocked:
			if m.attempting {
				return m, nil
			}
			m.attempting = true
			return m, []effect{{kind: effReconnect}}
		}
		return m, nil
	}

	return m, nil
}

// dispatch maps one inbound control message to its effect. The first
// "initialized" completes the handshake.
func (m connMachine) dispatch(msg domain.Inbound) (connMachine, []effect) {
	kind, ok := inboundEffects[msg.Kind]
	if !ok {
		kind = effDeliver
	}
	if m.state == StateAwaitingHandshake && !m.handshaken && kind != effInit {
		// No execution can be outstanding before the handshake.
		if kind == effExecuteSuccess || kind == effExecuteFailure {
			kind = effDeliver
		}
	}
	if kind == effInit {
		m.handshaken = true
		if m.state == StateAwaitingHandshake {
			m.state = StateReady
		}
	}
	return m, []effect{{kind: kind, msg: msg}}
}
