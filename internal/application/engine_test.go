package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine      *Engine
	transport   *fakeTransport
	kernels     *memKernelStore
	provisioner *mocks.MockProvisioner
	sink        *recordingSink
}

func newEngineFixture(t *testing.T, opts EngineOptions) engineFixture {
	t.Helper()

	servers := mocks.NewMockServerStore(t)
	servers.EXPECT().Save(mockAnyContext(), mock.Anything).Return(nil).Maybe()
	provisioner := mocks.NewMockProvisioner(t)
	transport := newFakeTransport()
	kernels := newMemKernelStore(nil)
	sink := &recordingSink{}

	registry := NewServerRegistry(servers, transport, provisioner, ServerRegistryOptions{Status: sink})
	pool := NewKernelPool(kernels, transport, KernelPoolOptions{})

	opts.Server = domain.ServerConfig{Name: "MyBinder Engine"}
	opts.Reconnect = fastReconnect()
	opts.Status = sink
	engine := NewEngine(registry, pool, nil, opts)

	return engineFixture{engine: engine, transport: transport, kernels: kernels, provisioner: provisioner, sink: sink}
}

func testManifest() domain.PluginManifest {
	return domain.PluginManifest{
		ID:           "p-1",
		Name:         "Image Analysis",
		Requirements: []string{"numpy"},
		Env:          []domain.PluginEnv{{Type: "binder", Spec: "org/analysis/main", Kernel: "python3"}},
		Scripts:      []domain.PluginScript{{Content: "api.export(Plugin())", Attrs: map[string]string{"lang": "python"}}},
		Tags:         []string{"GPU"},
	}
}

func expectProvision(f engineFixture, spec string) domain.ServerSettings {
	settings := domain.ServerSettings{BaseURL: "https://hub.example.org/user/analysis/", Token: "tok"}
	cfg := domain.ServerConfig{Name: "MyBinder Engine", Spec: spec}.WithDefaults()
	f.provisioner.EXPECT().Provision(mockAnyContext(), cfg, mock.Anything).Return(settings, nil).Once()
	return settings
}

func TestEngineStartPluginRunsScriptsOnReadyWorker(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	f.transport.onKernel = emulateWorker
	settings := expectProvision(f, "org/analysis/main")

	session, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	require.NoError(t, err)
	t.Cleanup(f.engine.Shutdown)

	assert.Equal(t, settings, session.Settings)
	assert.Equal(t, StateReady, session.Connection.State())
	assert.Equal(t, "python3", session.Kernel.Name())

	kernel := session.Kernel.(*fakeKernel)
	assert.Equal(t, 1, countContaining(kernel.executedCode(), "!pip install numpy"))

	payloads := kernel.lastChannel().sentPayloads(t)
	require.Len(t, payloads, 1)
	data := payloads[0]["data"].(map[string]any)
	script := data["code"].(map[string]any)
	assert.Equal(t, "script", script["type"])
	assert.Equal(t, "api.export(Plugin())", script["content"])
	assert.Equal(t, "python", script["lang"])

	status := f.engine.Status()
	require.Len(t, status.Servers, 1)
	require.Len(t, status.Kernels, 1)
	assert.Equal(t, "Image Analysis", status.Kernels[0].Key)
	require.Len(t, status.Processes, 1)
	assert.Equal(t, "p-1", status.Processes[0].PluginID)
	assert.Equal(t, "Image Analysis", status.Processes[0].Name)

	assert.Contains(t, f.sink.all(), "Warning: Image Analysis is tagged GPU but binder servers provide no GPU.")
	assert.Contains(t, f.sink.all(), `Plugin "Image Analysis" is ready.`)

	got, ok := f.engine.Session("p-1")
	require.True(t, ok)
	assert.Same(t, session, got)
}

func TestEngineKillPluginReleasesKernel(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	f.transport.onKernel = emulateWorker
	expectProvision(f, "org/analysis/main")

	session, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	require.NoError(t, err)

	require.NoError(t, f.engine.KillPlugin(context.Background(), "p-1"))
	waitClosed(t, session.Connection.Done(), "disconnect")

	_, _, shutdowns := session.Kernel.(*fakeKernel).counters()
	assert.Equal(t, 1, shutdowns)
	_, ok := f.engine.Session("p-1")
	assert.False(t, ok)

	status := f.engine.Status()
	assert.Empty(t, status.Processes)
	assert.Empty(t, status.Kernels)
	assert.Empty(t, f.kernels.snapshot())
}

func TestEngineKillProcessDisconnectsOwner(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	f.transport.onKernel = emulateWorker
	expectProvision(f, "org/analysis/main")

	session, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	require.NoError(t, err)

	require.NoError(t, f.engine.KillProcess(context.Background(), session.Kernel.ID()))
	assert.Equal(t, StateDisconnected, session.Connection.State())
	assert.Empty(t, f.engine.Status().Processes)

	err = f.engine.KillProcess(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrKernelNotFound)
}

func TestEngineStartPluginRequiresID(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	manifest := testManifest()
	manifest.ID = ""

	_, err := f.engine.StartPlugin(context.Background(), manifest, ConnectionHandlers{})
	assert.ErrorIs(t, err, ErrPluginIDRequired)
}

func TestEngineStartPluginPropagatesProvisioningFailure(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	provisionErr := &domain.ProvisioningError{Phase: "failed", Message: "image build failed"}
	f.provisioner.EXPECT().Provision(mockAnyContext(), mock.Anything, mock.Anything).Return(domain.ServerSettings{}, provisionErr).Once()

	_, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	assert.Same(t, provisionErr, err)

	_, started, _, _ := f.transport.calls()
	assert.Zero(t, started)
}

func TestEngineStartPluginDiscardsKernelWhenInstallFails(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	expectProvision(f, "org/analysis/main")
	manifest := testManifest()
	manifest.Requirements = []string{"apt:libxml2"}

	_, err := f.engine.StartPlugin(context.Background(), manifest, ConnectionHandlers{})
	var unsupported *domain.UnsupportedRequirementTypeError
	require.ErrorAs(t, err, &unsupported)

	_, _, shutdowns := f.transport.handle(0).counters()
	assert.Equal(t, 1, shutdowns)
	assert.Empty(t, f.engine.Status().Kernels)
}

func TestEngineStartPluginTimesOutWithoutHandshake(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{HandshakeTimeout: 20 * time.Millisecond})
	expectProvision(f, "org/analysis/main")

	_, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, _, shutdowns := f.transport.handle(0).counters()
	assert.Equal(t, 1, shutdowns)
	assert.Empty(t, f.engine.Status().Processes)
}

func TestEngineStartPluginFailsWhenScriptFails(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, EngineOptions{})
	f.transport.onKernel = func(k *fakeKernel) {
		emulateWorker(k)
		inner := k.onChannel
		k.onChannel = func(ch *fakeChannel) {
			inner(ch)
			workerReplies(ch, func(requestID string, _ any) map[string]any {
				return map[string]any{"type": "executeFailure", "requestId": requestID, "error": "SyntaxError"}
			})
		}
	}
	expectProvision(f, "org/analysis/main")

	_, err := f.engine.StartPlugin(context.Background(), testManifest(), ConnectionHandlers{})
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "SyntaxError", execErr.Value)
	_, ok := f.engine.Session("p-1")
	assert.False(t, ok)
}

func TestScriptPayloadFallsBackToAttrs(t *testing.T) {
	t.Parallel()

	got := scriptPayload(domain.PluginScript{Content: "x", Attrs: map[string]string{"lang": "python", "src": "https://example.org/a.py"}})
	assert.Equal(t, scriptMessage{
		Type:    "script",
		Content: "x",
		Lang:    "python",
		Attrs:   map[string]string{"lang": "python", "src": "https://example.org/a.py"},
		Src:     "https://example.org/a.py",
	}, got)

	empty := scriptPayload(domain.PluginScript{Content: "y"})
	assert.NotNil(t, empty.Attrs)
}
