package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigFingerprintIsStable(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Name: "MyBinder Engine", Spec: DefaultSpec, BaseURL: DefaultBaseURL, Provider: DefaultProvider}

	assert.Equal(t, cfg.Fingerprint(), cfg.Fingerprint())
	assert.Len(t, cfg.Fingerprint(), 32)
}

func TestServerConfigFingerprintChangesWithEveryField(t *testing.T) {
	t.Parallel()

	base := ServerConfig{Name: "a", Spec: "s", BaseURL: "https://b", Provider: "gh", DirectURL: ""}
	variants := []ServerConfig{
		{Name: "b", Spec: "s", BaseURL: "https://b", Provider: "gh"},
		{Name: "a", Spec: "t", BaseURL: "https://b", Provider: "gh"},
		{Name: "a", Spec: "s", BaseURL: "https://c", Provider: "gh"},
		{Name: "a", Spec: "s", BaseURL: "https://b", Provider: "gl"},
		{Name: "a", Spec: "s", BaseURL: "https://b", Provider: "gh", DirectURL: "http://localhost:8888"},
	}

	for _, variant := range variants {
		assert.NotEqual(t, base.Fingerprint(), variant.Fingerprint(), "%+v", variant)
	}
}

func TestServerConfigWithDefaults(t *testing.T) {
	t.Parallel()

	got := ServerConfig{Name: "x"}.WithDefaults()
	assert.Equal(t, ServerConfig{Name: "x", Spec: DefaultSpec, BaseURL: DefaultBaseURL, Provider: DefaultProvider}, got)

	direct := ServerConfig{DirectURL: "http://localhost:8888/?token=abc"}.WithDefaults()
	assert.Empty(t, direct.BaseURL)
}

func TestServerSettingsWSURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{name: "https", base: "https://hub.example.org/user/x/", want: "wss://hub.example.org/user/x/"},
		{name: "http", base: "http://localhost:8888/", want: "ws://localhost:8888/"},
		{name: "other scheme passes through", base: "ws://already/", want: "ws://already/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ServerSettings{BaseURL: tt.base}.WSURL())
		})
	}
}

func TestServerName(t *testing.T) {
	assert.Equal(t, "localhost", ServerName("http://localhost:8888/"))
	assert.Equal(t, "/user/abc/", ServerName("https://hub.mybinder.org/user/abc/"))
}

func TestKernelEntryMatches(t *testing.T) {
	entry := KernelEntry{Key: "k", BaseURL: "http://a/", Token: "t1", KernelID: "id"}

	assert.True(t, entry.Matches(ServerSettings{BaseURL: "http://a/", Token: "t1"}))
	assert.False(t, entry.Matches(ServerSettings{BaseURL: "http://a/", Token: "t2"}))
	assert.False(t, entry.Matches(ServerSettings{BaseURL: "http://b/", Token: "t1"}))
}

func TestStaleMappingErrorIsSentinel(t *testing.T) {
	var err error = &StaleMappingError{Key: "k"}

	assert.True(t, errors.Is(err, ErrStaleMapping))
}

func TestProvisioningErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := &ProvisioningError{Phase: "failed", Message: "build failed", Err: cause}

	assert.ErrorIs(t, err, ErrProvisioning)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "provision server (failed): build failed: boom", err.Error())
}

func TestDecodeInboundTopLevelControl(t *testing.T) {
	t.Parallel()

	in, err := DecodeInbound([]byte(`{"type":"initialized","dedicatedThread":false}`))
	require.NoError(t, err)
	assert.Equal(t, MessageInitialized, in.Kind)
	assert.False(t, in.DedicatedThread)

	in, err = DecodeInbound([]byte(`{"type":"executeFailure","error":"bad","requestId":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageExecuteFailure, in.Kind)
	assert.Equal(t, "r1", in.RequestID)
	assert.JSONEq(t, `"bad"`, string(in.Error))
}

func TestDecodeInboundUnwrapsNestedControl(t *testing.T) {
	t.Parallel()

	in, err := DecodeInbound([]byte(`{"type":"message","data":{"type":"logging","details":{"value":"hi"}}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageLogging, in.Kind)
	assert.JSONEq(t, `{"value":"hi"}`, string(in.Details))

	in, err = DecodeInbound([]byte(`{"type":"message","data":{"type":"initialized"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageInitialized, in.Kind)
	assert.True(t, in.DedicatedThread)
}

func TestDecodeInboundMessagePayload(t *testing.T) {
	t.Parallel()

	in, err := DecodeInbound([]byte(`{"type":"message","data":{"type":"method","name":"run"}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageMessage, in.Kind)
	assert.JSONEq(t, `{"type":"method","name":"run"}`, string(in.Payload))

	// Unwrapping stops after one level.
	in, err = DecodeInbound([]byte(`{"type":"message","data":{"type":"message","data":{"type":"logging"}}}`))
	require.NoError(t, err)
	assert.Equal(t, MessageMessage, in.Kind)

	in, err = DecodeInbound([]byte(`{"type":"callback","num":1}`))
	require.NoError(t, err)
	assert.Equal(t, MessageMessage, in.Kind)
	assert.JSONEq(t, `{"type":"callback","num":1}`, string(in.Payload))
}

func TestDecodeInboundRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeInbound([]byte(`{`))
	require.Error(t, err)
}

func TestWrapMessage(t *testing.T) {
	raw, err := WrapMessage(NewExecuteRequest("r1", "print(1)"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "message", decoded["type"])
	assert.Equal(t, map[string]any{"type": "execute", "code": "print(1)", "requestId": "r1"}, decoded["data"])
}

func TestPluginManifestServerConfig(t *testing.T) {
	manifest := PluginManifest{
		Env: []PluginEnv{{Type: "conda", Spec: "ignored"}, {Type: "binder", Spec: "org/repo/main", Kernel: "python3"}},
	}

	cfg, kernel := manifest.ServerConfig(ServerConfig{Name: "engine"})
	assert.Equal(t, "org/repo/main", cfg.Spec)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "python3", kernel)

	cfg, kernel = PluginManifest{}.ServerConfig(ServerConfig{Name: "engine"})
	assert.Equal(t, DefaultSpec, cfg.Spec)
	assert.Empty(t, kernel)
}

func TestPluginManifestServerConfigPicksLastBinderEnv(t *testing.T) {
	manifest := PluginManifest{
		Env: []PluginEnv{
			{Type: "binder", Spec: "org/first/main", Kernel: "ir"},
			{Type: "binder", Kernel: "julia"},
			{Type: "binder", Spec: "org/second/main", Kernel: "python3"},
		},
	}

	cfg, kernel := manifest.ServerConfig(ServerConfig{Name: "engine"})
	assert.Equal(t, "org/second/main", cfg.Spec)
	assert.Equal(t, "python3", kernel)

	cfg, kernel = manifest.ServerConfig(ServerConfig{Name: "engine", DirectURL: "http://localhost:8888/?token=abc"})
	assert.Equal(t, "http://localhost:8888/?token=abc", cfg.DirectURL)
	assert.NotEqual(t, "org/second/main", cfg.Spec)
	assert.Empty(t, kernel)
}
