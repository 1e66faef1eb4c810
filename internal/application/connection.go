package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	workerInstallCode   = "!pip install -U imjoy"
	channelTargetPrefix = "imjoy_comm_"
	releaseTimeout      = 30 * time.Second
)

func recoverClientCode(clientID string) string {
	return "from imjoy.workers.jupyter_client import JupyterClient;JupyterClient.recover_client(" + strconv.Quote(clientID) + ")"
}

func startWorkerCode(pluginID, clientID string) string {
	return "from imjoy.workers.python_worker import PluginConnection as __plugin_connection__;__plugin_connection__.add_plugin(" +
		strconv.Quote(pluginID) + ", " + strconv.Quote(clientID) + ").start()"
}

// ReconnectPolicy bounds how a lost channel is re-established.
type ReconnectPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	defaults := DefaultReconnectPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = defaults.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = defaults.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

type ConnectionHandlers struct {
	OnInit   func(dedicatedThread bool)
	OnFailed func(err error)
	// OnDisconnect receives worker "disconnected" details, and nil once when
	// the connection itself is torn down.
	OnDisconnect  func(details json.RawMessage)
	OnLogging     func(details json.RawMessage)
	OnMessage     func(payload json.RawMessage)
	OnStateChange func(from, to ConnState)
}

type ConnectionOptions struct {
	// ClientID names the worker client; defaults to the plugin id.
	ClientID  string
	Reconnect ReconnectPolicy
	Handlers  ConnectionHandlers
	Status    ports.StatusSink
	Logger    *zap.Logger
	// Release disposes the kernel on disconnect; defaults to Shutdown.
	Release func(ctx context.Context, kernel ports.Kernel) error
}

type queuedSend struct {
	payload []byte
	done    chan error
}

type executeResult struct {
	result json.RawMessage
	err    error
}

// Connection drives the worker protocol over a kernel channel: setup,
// handshake, request/response execution and transparent reconnection.
type Connection struct {
	id       string
	pluginID string
	clientID string
	kernel   ports.Kernel
	policy   ReconnectPolicy
	handlers ConnectionHandlers
	status   ports.StatusSink
	log      *zap.Logger
	release  func(ctx context.Context, kernel ports.Kernel) error

	mu              sync.Mutex
	machine         connMachine
	channel         ports.Channel
	queue           []*queuedSend
	pending         map[string]chan executeResult
	pendingOrder    []string
	dedicatedThread bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	// background tracks goroutines that must finish before teardown returns.
	background sync.WaitGroup
}

func NewConnection(pluginID string, kernel ports.Kernel, opts ConnectionOptions) *Connection {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = pluginID
	}
	status := opts.Status
	if status == nil {
		status = ports.NopStatusSink{}
	}
	release := opts.Release
	if release == nil {
		release = func(ctx context.Context, k ports.Kernel) error { return k.Shutdown(ctx) }
	}
	id := uuid.NewString()

	return &Connection{
		id:       id,
		pluginID: pluginID,
		clientID: clientID,
		kernel:   kernel,
		policy:   opts.Reconnect,
		handlers: opts.Handlers,
		status:   status,
		log:      logging.Component(opts.Logger, "connection").With(zap.String("connection_id", id), zap.String("client_id", clientID)),
		release:  release,
		machine:  connMachine{state: StateInitializing},
		pending:  map[string]chan executeResult{},
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) ClientID() string { return c.clientID }
func (c *Connection) Kernel() ports.Kernel {
	return c.kernel
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.state
}

func (c *Connection) DedicatedThread() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dedicatedThread
}

// Ready is closed once the worker completes its handshake.
func (c *Connection) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when the connection fails or is disconnected.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) target() string {
	return channelTargetPrefix + c.clientID
}

// Start installs and launches the worker in the kernel and waits for it to
// open the connection channel.
func (c *Connection) Start(ctx context.Context) error {
	ch, err := c.setup(ctx)
	if err != nil {
		c.log.Warn("worker setup failed", zap.Error(err))
		c.fire(connEvent{kind: evSetupFailed, err: err})
		return err
	}

	c.mu.Lock()
	if c.machine.state.Terminal() {
		c.mu.Unlock()
		_ = ch.Close()
		return domain.ErrConnectionClosed
	}
	c.channel = ch
	effects, from, to := c.applyLocked(connEvent{kind: evSetupDone})
	c.mu.Unlock()

	c.run(effects, from, to)
	go c.readLoop(ch)
	return nil
}

func (c *Connection) setup(ctx context.Context) (ports.Channel, error) {
	stream := func(out domain.StreamOutput) {
		if out.Name == "stdout" {
			c.status.ShowStatus(out.Text)
		}
	}

	c.status.ShowStatus("Setting up worker...")
	if err := c.kernel.Execute(ctx, workerInstallCode, stream); err != nil {
		return nil, fmt.Errorf("install worker: %w", err)
	}
	if err := c.kernel.Execute(ctx, recoverClientCode(c.clientID), nil); err != nil {
		return nil, fmt.Errorf("recover worker client: %w", err)
	}

	channels := c.kernel.RegisterChannelTarget(c.target())

	execDone := make(chan error, 1)
	go func() {
		execDone <- c.kernel.Execute(ctx, startWorkerCode(c.pluginID, c.clientID), stream)
	}()

	for {
		select {
		case ch := <-channels:
			c.status.ShowStatus("Worker is ready.")
			if execDone != nil {
				c.mu.Lock()
				watch := !c.machine.state.Terminal()
				if watch {
					c.background.Add(1)
				}
				c.mu.Unlock()
				if watch {
					go c.watchWorkerStart(execDone)
				}
			}
			return ch, nil
		case err := <-execDone:
			if err != nil {
				return nil, fmt.Errorf("start worker: %w", err)
			}
			execDone = nil
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for worker channel: %w", ctx.Err())
		case <-c.done:
			return nil, domain.ErrConnectionClosed
		}
	}
}

// watchWorkerStart logs how the worker start request ends once the channel
// is already open. It stops waiting when the connection is torn down.
func (c *Connection) watchWorkerStart(execDone <-chan error) {
	defer c.background.Done()
	select {
	case err := <-execDone:
		if err != nil {
			c.log.Warn("worker start execution ended with error", zap.Error(err))
		}
	case <-c.done:
	}
}

func (c *Connection) readLoop(ch ports.Channel) {
	for {
		select {
		case raw := <-ch.Inbound():
			msg, err := domain.DecodeInbound(raw)
			if err != nil {
				c.log.Warn("dropping undecodable message", zap.Error(err))
				continue
			}
			c.fire(connEvent{kind: evInbound, msg: msg})
		case <-ch.Done():
			c.drain(ch)
			c.mu.Lock()
			current := c.channel == ch
			var effects []effect
			var from, to ConnState
			if current {
				c.log.Info("channel lost")
				effects, from, to = c.applyLocked(connEvent{kind: evChannelLost})
			}
			c.mu.Unlock()
			c.run(effects, from, to)
			return
		case <-c.done:
			return
		}
	}
}

// drain delivers frames that were buffered before the channel closed.
func (c *Connection) drain(ch ports.Channel) {
	for {
		select {
		case raw := <-ch.Inbound():
			if msg, err := domain.DecodeInbound(raw); err == nil {
				c.fire(connEvent{kind: evInbound, msg: msg})
			}
		default:
			return
		}
	}
}

// Send delivers an application payload to the worker, queueing it while the
// channel is being re-established. It returns once the payload is written.
func (c *Connection) Send(ctx context.Context, data any) error {
	payload, err := domain.WrapMessage(data)
	if err != nil {
		return err
	}

	for {
		c.mu.Lock()
		state := c.machine.state
		if state.Terminal() {
			c.mu.Unlock()
			return domain.ErrConnectionClosed
		}

		ch := c.channel
		if (state == StateReady || state == StateAwaitingHandshake) && c.usable(ch) {
			c.mu.Unlock()
			err := ch.Send(ctx, payload)
			if err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			c.log.Info("send failed, treating channel as lost", zap.Error(err))
			c.mu.Lock()
			var effects []effect
			var from, to ConnState
			if c.channel == ch {
				effects, from, to = c.applyLocked(connEvent{kind: evChannelLost})
			}
			c.mu.Unlock()
			c.run(effects, from, to)
			continue
		}

		q := &queuedSend{payload: payload, done: make(chan error, 1)}
		c.queue = append(c.queue, q)
		effects, from, to := c.applyLocked(connEvent{kind: evSendBlocked})
		c.mu.Unlock()
		c.run(effects, from, to)

		select {
		case err := <-q.done:
			return err
		case <-ctx.Done():
			c.dequeue(q)
			return ctx.Err()
		}
	}
}

func (c *Connection) usable(ch ports.Channel) bool {
	if ch == nil || !c.kernel.Status().Alive() {
		return false
	}
	select {
	case <-ch.Done():
		return false
	default:
		return true
	}
}

func (c *Connection) dequeue(q *queuedSend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, queued := range c.queue {
		if queued == q {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// Execute asks the worker to run code and waits for its result. Results
// without a request id resolve the oldest outstanding request.
func (c *Connection) Execute(ctx context.Context, code any) (json.RawMessage, error) {
	requestID := uuid.NewString()
	done := make(chan executeResult, 1)

	c.mu.Lock()
	if c.machine.state.Terminal() {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[requestID] = done
	c.pendingOrder = append(c.pendingOrder, requestID)
	c.mu.Unlock()

	if err := c.Send(ctx, domain.NewExecuteRequest(requestID, code)); err != nil {
		c.takePending(requestID)
		return nil, err
	}

	select {
	case res := <-done:
		return res.result, res.err
	case <-ctx.Done():
		c.takePending(requestID)
		return nil, ctx.Err()
	}
}

// takePending removes and returns the waiter for requestID, or the oldest
// waiter when requestID is empty.
func (c *Connection) takePending(requestID string) (chan executeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if requestID == "" {
		if len(c.pendingOrder) == 0 {
			return nil, false
		}
		requestID = c.pendingOrder[0]
	}
	done, ok := c.pending[requestID]
	if !ok {
		return nil, false
	}
	delete(c.pending, requestID)
	for i, id := range c.pendingOrder {
		if id == requestID {
			c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
			break
		}
	}
	return done, true
}

// Disconnect tears the connection down and releases its kernel. Calling it
// more than once has no further effect.
func (c *Connection) Disconnect() {
	c.fire(connEvent{kind: evDisconnect})
}

func (c *Connection) fire(ev connEvent) {
	c.mu.Lock()
	effects, from, to := c.applyLocked(ev)
	c.mu.Unlock()
	c.run(effects, from, to)
}

func (c *Connection) applyLocked(ev connEvent) ([]effect, ConnState, ConnState) {
	from := c.machine.state
	next, effects := c.machine.step(ev)
	c.machine = next
	return effects, from, next.state
}

func (c *Connection) run(effects []effect, from, to ConnState) {
	if from != to {
		c.log.Debug("state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		if c.handlers.OnStateChange != nil {
			c.handlers.OnStateChange(from, to)
		}
	}

	for _, eff := range effects {
		switch eff.kind {
		case effInit:
			c.mu.Lock()
			c.dedicatedThread = eff.msg.DedicatedThread
			c.mu.Unlock()
			c.readyOnce.Do(func() { close(c.ready) })
			if c.handlers.OnInit != nil {
				c.handlers.OnInit(eff.msg.DedicatedThread)
			}
		case effFail:
			c.status.ShowStatus("Failed to initialize the worker: " + eff.err.Error())
			c.rejectAll(eff.err)
			c.doneOnce.Do(func() { close(c.done) })
			if c.handlers.OnFailed != nil {
				c.handlers.OnFailed(eff.err)
			}
		case effLogging:
			if c.handlers.OnLogging != nil {
				c.handlers.OnLogging(eff.msg.Details)
			}
		case effRemoteDisconnect:
			if c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(eff.msg.Details)
			}
		case effDeliver:
			if c.handlers.OnMessage != nil {
				c.handlers.OnMessage(eff.msg.Payload)
			}
		case effExecuteSuccess:
			c.resolve(eff.msg, executeResult{result: eff.msg.Result})
		case effExecuteFailure:
			c.resolve(eff.msg, executeResult{err: executionFailure(eff.msg.Error)})
		case effReconnect:
			go c.reconnect()
		case effFlush:
			c.flush()
		case effTeardown:
			c.teardown()
		}
	}
}

func (c *Connection) resolve(msg domain.Inbound, res executeResult) {
	done, ok := c.takePending(msg.RequestID)
	if !ok {
		c.log.Debug("execution result without waiter", zap.String("request_id", msg.RequestID))
		return
	}
	done <- res
}

func executionFailure(raw json.RawMessage) error {
	if len(raw) == 0 {
		return &domain.ExecutionError{Value: "unknown error"}
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return &domain.ExecutionError{Value: text}
	}
	var structured struct {
		Name      string   `json:"ename"`
		Value     string   `json:"evalue"`
		Traceback []string `json:"traceback"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && (structured.Name != "" || structured.Value != "") {
		return &domain.ExecutionError{Name: structured.Name, Value: structured.Value, Traceback: structured.Traceback}
	}
	return &domain.ExecutionError{Value: string(raw)}
}

func (c *Connection) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.status.ShowStatus("Reconnecting to kernel " + c.kernel.ID() + "...")

	var opened ports.Channel
	operation := func() error {
		if err := c.kernel.Reconnect(ctx); err != nil {
			return fmt.Errorf("reconnect kernel: %w", err)
		}
		ch, err := c.kernel.OpenChannel(ctx, c.target())
		if err != nil {
			return fmt.Errorf("reopen channel: %w", err)
		}
		opened = ch
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Info("reconnect attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
	}

	if err := backoff.RetryNotify(operation, c.policy.backOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("reconnect failed", zap.Error(err))
		c.status.ShowStatus("Failed to reconnect: " + err.Error())
		c.fire(connEvent{kind: evReconnectFailed, err: err})
		return
	}

	c.mu.Lock()
	if c.machine.state != StateReconnecting {
		c.mu.Unlock()
		_ = opened.Close()
		return
	}
	c.channel = opened
	effects, from, to := c.applyLocked(connEvent{kind: evReconnected})
	c.mu.Unlock()

	c.log.Info("channel re-established")
	go c.readLoop(opened)
	c.run(effects, from, to)
}

// flush writes queued payloads in order; a failed write puts the remainder
// back and reports the channel as lost.
func (c *Connection) flush() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 || c.channel == nil {
			c.mu.Unlock()
			return
		}
		q := c.queue[0]
		c.queue = c.queue[1:]
		ch := c.channel
		c.mu.Unlock()

		if err := ch.Send(context.Background(), q.payload); err != nil {
			c.mu.Lock()
			if c.machine.state.Terminal() {
				c.mu.Unlock()
				q.done <- domain.ErrConnectionClosed
				return
			}
			c.queue = append([]*queuedSend{q}, c.queue...)
			var effects []effect
			var from, to ConnState
			if c.channel == ch {
				effects, from, to = c.applyLocked(connEvent{kind: evChannelLost})
			}
			c.mu.Unlock()
			c.run(effects, from, to)
			return
		}
		q.done <- nil
	}
}

func (c *Connection) rejectAll(err error) {
	c.mu.Lock()
	queue := c.queue
	c.queue = nil
	pending := c.pending
	c.pending = map[string]chan executeResult{}
	c.pendingOrder = nil
	c.mu.Unlock()

	for _, q := range queue {
		q.done <- err
	}
	for _, done := range pending {
		done <- executeResult{err: err}
	}
}

func (c *Connection) teardown() {
	c.rejectAll(domain.ErrConnectionClosed)

	c.mu.Lock()
	ch := c.channel
	c.channel = nil
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
	c.background.Wait()

	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Debug("close channel", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.release(ctx, c.kernel); err != nil && !errors.Is(err, domain.ErrKernelNotFound) {
		c.log.Warn("release kernel", zap.String("kernel_id", c.kernel.ID()), zap.Error(err))
	}

	c.log.Info("disconnected")
	if c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect(nil)
	}
}
