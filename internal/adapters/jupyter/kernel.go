package jupyter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type execution struct {
	onStream ports.StreamHandler
	replied  bool
	idle     bool
	err      error
	done     chan struct{}
}

// kernel is a websocket-backed handle to one remote kernel.
type kernel struct {
	transport *Transport
	settings  domain.ServerSettings
	id        string
	name      string
	session   string
	log       *zap.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	status     domain.KernelStatus
	closed     bool
	executions map[string]*execution
	comms      map[string]*comm
	targets    map[string]chan ports.Channel
}

var _ ports.Kernel = (*kernel)(nil)

func newKernel(t *Transport, settings domain.ServerSettings, model domain.KernelModel) *kernel {
	return &kernel{
		transport:  t,
		settings:   settings,
		id:         model.ID,
		name:       model.Name,
		session:    uuid.NewString(),
		log:        t.log.With(zap.String("kernel_id", model.ID)),
		status:     parseStatus(model.ExecutionState),
		executions: map[string]*execution{},
		comms:      map[string]*comm{},
		targets:    map[string]chan ports.Channel{},
	}
}

func parseStatus(state string) domain.KernelStatus {
	switch domain.KernelStatus(state) {
	case domain.KernelStatusIdle, domain.KernelStatusBusy, domain.KernelStatusDead:
		return domain.KernelStatus(state)
	default:
		return domain.KernelStatusStarting
	}
}

func (k *kernel) ID() string                      { return k.id }
func (k *kernel) Name() string                    { return k.name }
func (k *kernel) Settings() domain.ServerSettings { return k.settings }

func (k *kernel) Status() domain.KernelStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

func (k *kernel) channelsURL() (string, error) {
	endpoint, err := buildURL(k.settings.WSURL(), "api/kernels/"+url.PathEscape(k.id)+"/channels")
	if err != nil {
		return "", err
	}
	return endpoint + "?session_id=" + url.QueryEscape(k.session), nil
}

func (k *kernel) connect(ctx context.Context) error {
	endpoint, err := k.channelsURL()
	if err != nil {
		return err
	}
	hdr := http.Header{}
	setToken(hdr, k.settings.Token)

	conn, resp, err := k.transport.dialer.DialContext(ctx, endpoint, hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("connect kernel %s: %w", k.id, domain.ErrKernelNotFound)
		}
		return fmt.Errorf("connect kernel %s: %w", k.id, err)
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("connect kernel %s: %w", k.id, domain.ErrConnectionClosed)
	}
	k.conn = conn
	if k.status == domain.KernelStatusDead {
		k.status = domain.KernelStatusStarting
	}
	k.mu.Unlock()

	go k.readLoop(conn)

	// The reply carries a status message that settles the execution state.
	if err := k.send(msgKernelInfoRequest, map[string]any{}); err != nil {
		k.log.Debug("kernel info request failed", zap.Error(err))
	}
	k.log.Debug("kernel websocket connected")
	return nil
}

func (k *kernel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			k.dropConnection(conn, fmt.Errorf("%w: %v", domain.ErrChannelLost, err))
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			k.log.Warn("dropping undecodable kernel message", zap.Error(err))
			continue
		}
		if handle, ok := messageHandlers[msg.Header.MsgType]; ok {
			handle(k, msg)
		}
	}
}

// dropConnection detaches conn if it is still current, marks the kernel dead
// and fails everything that depended on it.
func (k *kernel) dropConnection(conn *websocket.Conn, cause error) {
	k.mu.Lock()
	if conn == nil || k.conn != conn {
		k.mu.Unlock()
		return
	}
	k.conn = nil
	k.status = domain.KernelStatusDead
	executions := k.executions
	k.executions = map[string]*execution{}
	comms := k.comms
	k.comms = map[string]*comm{}
	for _, exec := range executions {
		exec.err = cause
	}
	k.mu.Unlock()

	_ = conn.Close()
	for _, exec := range executions {
		close(exec.done)
	}
	for _, c := range comms {
		c.markClosed()
	}
	k.log.Info("kernel websocket lost", zap.Error(cause))
}

func (k *kernel) send(msgType string, content any) error {
	msg, err := newMessage(msgType, channelShell, k.session, content)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	return k.write(msg)
}

func (k *kernel) write(msg message) error {
	k.mu.Lock()
	conn := k.conn
	k.mu.Unlock()
	if conn == nil {
		return domain.ErrChannelLost
	}

	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrChannelLost, err)
	}
	return nil
}

func (k *kernel) Execute(ctx context.Context, code string, onStream ports.StreamHandler) error {
	msg, err := newMessage(msgExecuteRequest, channelShell, k.session, executeRequestContent{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return fmt.Errorf("encode execute request: %w", err)
	}

	exec := &execution{onStream: onStream, done: make(chan struct{})}
	msgID := msg.Header.MsgID

	k.mu.Lock()
	if k.conn == nil {
		k.mu.Unlock()
		return fmt.Errorf("execute on kernel %s: %w", k.id, domain.ErrChannelLost)
	}
	k.executions[msgID] = exec
	k.mu.Unlock()

	if err := k.write(msg); err != nil {
		k.forgetExecution(msgID)
		return fmt.Errorf("send execute request: %w", err)
	}

	select {
	case <-exec.done:
		return exec.err
	case <-ctx.Done():
		k.forgetExecution(msgID)
		return ctx.Err()
	}
}

func (k *kernel) forgetExecution(msgID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.executions, msgID)
}

// settle closes the execution once both its reply and the idle status for it
// have arrived. Callers hold k.mu.
func (k *kernel) settle(msgID string, exec *execution) {
	if exec.replied && exec.idle {
		delete(k.executions, msgID)
		close(exec.done)
	}
}

func (k *kernel) RegisterChannelTarget(target string) <-chan ports.Channel {
	ch := make(chan ports.Channel, 1)
	k.mu.Lock()
	k.targets[target] = ch
	k.mu.Unlock()
	return ch
}

func (k *kernel) OpenChannel(ctx context.Context, target string) (ports.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := newComm(k, uuid.NewString(), target)
	k.mu.Lock()
	if k.conn == nil {
		k.mu.Unlock()
		return nil, fmt.Errorf("open channel %s: %w", target, domain.ErrChannelLost)
	}
	k.comms[c.id] = c
	k.mu.Unlock()

	err := k.send(msgCommOpen, commContent{CommID: c.id, TargetName: target, Data: json.RawMessage("{}")})
	if err != nil {
		k.removeComm(c.id)
		c.markClosed()
		return nil, fmt.Errorf("open channel %s: %w", target, err)
	}
	return c, nil
}

func (k *kernel) removeComm(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.comms, id)
}

// Reconnect replaces the websocket. Channels bound to the old socket are
// closed and must be reopened.
func (k *kernel) Reconnect(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return fmt.Errorf("reconnect kernel %s: %w", k.id, domain.ErrConnectionClosed)
	}
	old := k.conn
	k.mu.Unlock()

	k.dropConnection(old, domain.ErrChannelLost)
	return k.connect(ctx)
}

func (k *kernel) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.status = domain.KernelStatusDead
	conn := k.conn
	k.mu.Unlock()

	k.dropConnection(conn, domain.ErrConnectionClosed)
	return nil
}

func (k *kernel) Shutdown(ctx context.Context) error {
	err := k.transport.shutdownKernel(ctx, k.settings, k.id)
	_ = k.Close()
	return err
}

var messageHandlers = map[string]func(k *kernel, msg message){
	msgStatus:       (*kernel).onStatus,
	msgStream:       (*kernel).onStream,
	msgError:        (*kernel).onError,
	msgExecuteReply: (*kernel).onExecuteReply,
	msgCommOpen:     (*kernel).onCommOpen,
	msgCommMsg:      (*kernel).onCommMsg,
	msgCommClose:    (*kernel).onCommClose,
}

func (k *kernel) onStatus(msg message) {
	var content statusContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	status := parseStatus(content.ExecutionState)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = status
	if status != domain.KernelStatusIdle {
		return
	}
	if exec, ok := k.executions[msg.ParentHeader.MsgID]; ok {
		exec.idle = true
		k.settle(msg.ParentHeader.MsgID, exec)
	}
}

func (k *kernel) onStream(msg message) {
	var content streamContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	k.mu.Lock()
	exec, ok := k.executions[msg.ParentHeader.MsgID]
	k.mu.Unlock()
	if ok && exec.onStream != nil {
		exec.onStream(domain.StreamOutput{Name: content.Name, Text: content.Text})
	}
}

func (k *kernel) onError(msg message) {
	var content errorContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if exec, ok := k.executions[msg.ParentHeader.MsgID]; ok && exec.err == nil {
		exec.err = &domain.ExecutionError{Name: content.Name, Value: content.Value, Traceback: content.Traceback}
	}
}

func (k *kernel) onExecuteReply(msg message) {
	var content errorContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	exec, ok := k.executions[msg.ParentHeader.MsgID]
	if !ok {
		return
	}
	if content.Status == "error" && exec.err == nil {
		exec.err = &domain.ExecutionError{Name: content.Name, Value: content.Value, Traceback: content.Traceback}
	}
	exec.replied = true
	k.settle(msg.ParentHeader.MsgID, exec)
}

func (k *kernel) onCommOpen(msg message) {
	var content commContent
	if err := json.Unmarshal(msg.Content, &content); err != nil || content.CommID == "" {
		return
	}

	k.mu.Lock()
	target, ok := k.targets[content.TargetName]
	if !ok {
		k.mu.Unlock()
		k.log.Debug("comm opened for unknown target", zap.String("target", content.TargetName))
		return
	}
	c := newComm(k, content.CommID, content.TargetName)
	k.comms[c.id] = c
	k.mu.Unlock()

	select {
	case target <- c:
	default:
		k.log.Debug("comm target already delivered", zap.String("target", content.TargetName))
	}
}

func (k *kernel) onCommMsg(msg message) {
	var content commContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	k.mu.Lock()
	c, ok := k.comms[content.CommID]
	k.mu.Unlock()
	if ok {
		c.deliver(content.Data)
	}
}

func (k *kernel) onCommClose(msg message) {
	var content commContent
	if err := json.Unmarshal(msg.Content, &content); err != nil {
		return
	}
	k.mu.Lock()
	c, ok := k.comms[content.CommID]
	delete(k.comms, content.CommID)
	k.mu.Unlock()
	if ok {
		c.markClosed()
	}
}
