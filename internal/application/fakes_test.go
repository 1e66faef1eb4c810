package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	errServerDown       = errors.New("server down")
	errReconnectRefused = errors.New("reconnect refused")
)

func mockAnyContext() interface{} {
	return mock.Anything
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type fakeChannel struct {
	id        string
	target    string
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	sent    [][]byte
	sendErr error
	onSend  func(data []byte)
	// hold parks every Send until the channel closes; entered receives one
	// value per parked Send.
	hold    bool
	entered chan struct{}
}

func newFakeChannel(id, target string) *fakeChannel {
	return &fakeChannel{id: id, target: target, inbound: make(chan []byte, 64), done: make(chan struct{})}
}

func (c *fakeChannel) ID() string     { return c.id }
func (c *fakeChannel) Target() string { return c.target }

func (c *fakeChannel) Send(_ context.Context, data []byte) error {
	c.mu.Lock()
	if c.hold {
		entered := c.entered
		c.mu.Unlock()
		entered <- struct{}{}
		<-c.done
		return domain.ErrChannelLost
	}
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return domain.ErrChannelLost
	default:
	}
	c.sent = append(c.sent, data)
	hook := c.onSend
	c.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return nil
}

func (c *fakeChannel) Inbound() <-chan []byte { return c.inbound }
func (c *fakeChannel) Done() <-chan struct{}  { return c.done }

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) deliver(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	c.inbound <- raw
}

// holdSends parks later sends until the channel closes and returns a
// channel signalled as each one starts.
func (c *fakeChannel) holdSends() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = true
	c.entered = make(chan struct{}, 8)
	return c.entered
}

func (c *fakeChannel) setOnSend(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
}

func (c *fakeChannel) sentPayloads(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.sent))
	for _, raw := range c.sent {
		var env map[string]any
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

// workerReplies makes the channel answer every execute request like the
// worker does, using reply to build the response frame.
func workerReplies(ch *fakeChannel, reply func(requestID string, code any) map[string]any) {
	ch.setOnSend(func(data []byte) {
		var env struct {
			Type string `json:"type"`
			Data struct {
				Type      string `json:"type"`
				Code      any    `json:"code"`
				RequestID string `json:"requestId"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Data.Type != "execute" {
			return
		}
		frame := reply(env.Data.RequestID, env.Data.Code)
		if frame == nil {
			return
		}
		raw, _ := json.Marshal(frame)
		ch.inbound <- raw
	})
}

type fakeKernel struct {
	id       string
	name     string
	settings domain.ServerSettings
	remote   *fakeTransport

	mu            sync.Mutex
	status        domain.KernelStatus
	executed      []string
	onExecute     func(code string, onStream ports.StreamHandler) error
	onChannel     func(ch *fakeChannel)
	targets       map[string]chan ports.Channel
	channels      []*fakeChannel
	reconnectErrs int
	reconnects    int
	openErr       error
	closed        int
	shutdowns     int
	channelSeq    int
}

func newFakeKernel(id, name string, settings domain.ServerSettings) *fakeKernel {
	return &fakeKernel{
		id:       id,
		name:     name,
		settings: settings,
		status:   domain.KernelStatusIdle,
		targets:  map[string]chan ports.Channel{},
	}
}

func (k *fakeKernel) ID() string                      { return k.id }
func (k *fakeKernel) Name() string                    { return k.name }
func (k *fakeKernel) Settings() domain.ServerSettings { return k.settings }

func (k *fakeKernel) Status() domain.KernelStatus {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

func (k *fakeKernel) setStatus(status domain.KernelStatus) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = status
}

func (k *fakeKernel) Execute(_ context.Context, code string, onStream ports.StreamHandler) error {
	k.mu.Lock()
	k.executed = append(k.executed, code)
	hook := k.onExecute
	k.mu.Unlock()

	if hook != nil {
		if err := hook(code, onStream); err != nil {
			return err
		}
	}

	if strings.Contains(code, "add_plugin(") {
		k.openRegistered()
	}
	return nil
}

// openRegistered emulates the worker opening a channel on every registered
// target.
func (k *fakeKernel) openRegistered() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for target, ch := range k.targets {
		k.channelSeq++
		channel := newFakeChannel(fmt.Sprintf("%s-comm-%d", k.id, k.channelSeq), target)
		k.channels = append(k.channels, channel)
		if k.onChannel != nil {
			k.onChannel(channel)
		}
		select {
		case ch <- channel:
		default:
		}
	}
}

func (k *fakeKernel) RegisterChannelTarget(target string) <-chan ports.Channel {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch := make(chan ports.Channel, 1)
	k.targets[target] = ch
	return ch
}

func (k *fakeKernel) OpenChannel(_ context.Context, target string) (ports.Channel, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.openErr != nil {
		return nil, k.openErr
	}
	k.channelSeq++
	channel := newFakeChannel(fmt.Sprintf("%s-comm-%d", k.id, k.channelSeq), target)
	k.channels = append(k.channels, channel)
	if k.onChannel != nil {
		k.onChannel(channel)
	}
	return channel, nil
}

func (k *fakeKernel) Reconnect(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.reconnects++
	if k.closed > 0 {
		return domain.ErrConnectionClosed
	}
	if k.reconnectErrs > 0 {
		k.reconnectErrs--
		return errReconnectRefused
	}
	k.status = domain.KernelStatusIdle
	return nil
}

func (k *fakeKernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed++
	return nil
}

func (k *fakeKernel) Shutdown(context.Context) error {
	k.mu.Lock()
	k.shutdowns++
	k.status = domain.KernelStatusDead
	remote := k.remote
	k.mu.Unlock()

	if remote != nil {
		remote.removeKernel(k.id)
	}
	return nil
}

func (k *fakeKernel) executedCode() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.executed...)
}

func (k *fakeKernel) lastChannel() *fakeChannel {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.channels) == 0 {
		return nil
	}
	return k.channels[len(k.channels)-1]
}

func (k *fakeKernel) channelCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.channels)
}

func (k *fakeKernel) counters() (reconnects, closed, shutdowns int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reconnects, k.closed, k.shutdowns
}

type fakeTransport struct {
	mu          sync.Mutex
	specs       domain.KernelSpecs
	deadServers map[string]bool
	kernels     map[string]*fakeKernel
	handles     []*fakeKernel
	onKernel    func(k *fakeKernel)
	nextID      int
	specsCalls  int
	started     int
	found       int
	connected   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		specs:       domain.KernelSpecs{Default: "python3", Names: []string{"python3"}},
		deadServers: map[string]bool{},
		kernels:     map[string]*fakeKernel{},
	}
}

var _ ports.KernelTransport = (*fakeTransport)(nil)

func (f *fakeTransport) KernelSpecs(_ context.Context, settings domain.ServerSettings) (domain.KernelSpecs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specsCalls++
	if f.deadServers[settings.BaseURL] {
		return domain.KernelSpecs{}, errServerDown
	}
	return f.specs, nil
}

func (f *fakeTransport) StartKernel(_ context.Context, settings domain.ServerSettings, specName string) (ports.Kernel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadServers[settings.BaseURL] {
		return nil, errServerDown
	}
	f.started++
	f.nextID++
	kernel := newFakeKernel(fmt.Sprintf("kernel-%d", f.nextID), specName, settings)
	kernel.remote = f
	if f.onKernel != nil {
		f.onKernel(kernel)
	}
	f.kernels[kernel.id] = kernel
	f.handles = append(f.handles, kernel)
	return kernel, nil
}

func (f *fakeTransport) FindKernel(_ context.Context, settings domain.ServerSettings, kernelID string) (domain.KernelModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.found++
	if f.deadServers[settings.BaseURL] {
		return domain.KernelModel{}, errServerDown
	}
	kernel, ok := f.kernels[kernelID]
	if !ok {
		return domain.KernelModel{}, domain.ErrKernelNotFound
	}
	return domain.KernelModel{ID: kernel.id, Name: kernel.name, ExecutionState: "idle"}, nil
}

func (f *fakeTransport) ConnectKernel(_ context.Context, settings domain.ServerSettings, model domain.KernelModel) (ports.Kernel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected++
	kernel := newFakeKernel(model.ID, model.Name, settings)
	kernel.remote = f
	if f.onKernel != nil {
		f.onKernel(kernel)
	}
	f.handles = append(f.handles, kernel)
	return kernel, nil
}

func (f *fakeTransport) removeKernel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.kernels, id)
}

func (f *fakeTransport) handle(i int) *fakeKernel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

func (f *fakeTransport) setServerDown(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadServers[url] = true
}

func (f *fakeTransport) calls() (specs, started, found, connected int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specsCalls, f.started, f.found, f.connected
}

type memKernelStore struct {
	mu      sync.Mutex
	entries map[string]domain.KernelEntry
	saves   int
	saveErr error
}

func newMemKernelStore(entries map[string]domain.KernelEntry) *memKernelStore {
	if entries == nil {
		entries = map[string]domain.KernelEntry{}
	}
	return &memKernelStore{entries: entries}
}

func (s *memKernelStore) Load(context.Context) (map[string]domain.KernelEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.KernelEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *memKernelStore) Save(_ context.Context, entries map[string]domain.KernelEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.entries = make(map[string]domain.KernelEntry, len(entries))
	for k, v := range entries {
		s.entries[k] = v
	}
	return nil
}

func (s *memKernelStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memKernelStore) snapshot() map[string]domain.KernelEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.KernelEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingSink) ShowStatus(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// String keeps mock argument formatting away from the recorded messages.
func (r *recordingSink) String() string {
	return "recordingSink"
}

func (r *recordingSink) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func fastReconnect() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}
}

func countContaining(items []string, substr string) int {
	n := 0
	for _, item := range items {
		if strings.Contains(item, substr) {
			n++
		}
	}
	return n
}
