package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"go.uber.org/zap"
)

var ErrPluginIDRequired = errors.New("plugin id is required")

const defaultHandshakeTimeout = 10 * time.Minute

type EngineOptions struct {
	// Server holds the engine defaults a plugin's binder env refines.
	Server           domain.ServerConfig
	Reconnect        ReconnectPolicy
	HandshakeTimeout time.Duration
	CondaUnavailable bool
	Status           ports.StatusSink
	Logger           *zap.Logger
}

// PluginSession is a plugin running in a kernel behind a ready connection.
type PluginSession struct {
	Manifest   domain.PluginManifest
	Settings   domain.ServerSettings
	Kernel     ports.Kernel
	Connection *Connection
}

type EngineStatus struct {
	Servers   []domain.ServerEntry
	Kernels   []domain.KernelEntry
	Processes []domain.ProcessInfo
}

// Engine runs plugins on provisioned kernel servers.
type Engine struct {
	servers   *ServerRegistry
	pool      *KernelPool
	installer *RequirementInstaller
	opts      EngineOptions
	status    ports.StatusSink
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*PluginSession
}

func NewEngine(servers *ServerRegistry, pool *KernelPool, installer *RequirementInstaller, opts EngineOptions) *Engine {
	status := opts.Status
	if status == nil {
		status = ports.NopStatusSink{}
	}
	if installer == nil {
		installer = NewRequirementInstaller(status, opts.Logger)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Engine{
		servers:   servers,
		pool:      pool,
		installer: installer,
		opts:      opts,
		status:    status,
		log:       logging.Component(opts.Logger, "engine"),
		sessions:  map[string]*PluginSession{},
	}
}

// StartPlugin provisions or reuses a server, starts a kernel keyed by the
// plugin name, installs requirements, connects the worker and runs the
// plugin scripts.
func (e *Engine) StartPlugin(ctx context.Context, manifest domain.PluginManifest, handlers ConnectionHandlers) (*PluginSession, error) {
	if manifest.ID == "" {
		return nil, ErrPluginIDRequired
	}
	log := e.log.With(zap.String("plugin_id", manifest.ID), zap.String("plugin", manifest.Name))

	cfg, specName := manifest.ServerConfig(e.opts.Server)
	if cfg.DirectURL == "" && hasTag(manifest.Tags, "GPU") {
		e.status.ShowStatus("Warning: " + manifest.Name + " is tagged GPU but binder servers provide no GPU.")
	}

	settings, err := e.servers.GetOrProvision(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e.status.ShowStatus("Connected to Jupyter server: " + settings.BaseURL)

	kernel, err := e.pool.Start(ctx, manifest.Name, settings, specName)
	if err != nil {
		return nil, err
	}

	if err := e.installer.Install(ctx, kernel, manifest.Requirements, !e.opts.CondaUnavailable); err != nil {
		e.discard(ctx, kernel)
		return nil, err
	}
	e.pool.Label(kernel.ID(), domain.KernelLabel{PluginID: manifest.ID, PluginName: manifest.Name})

	session := &PluginSession{Manifest: manifest, Settings: settings, Kernel: kernel}
	userDisconnect := handlers.OnDisconnect
	handlers.OnDisconnect = func(details json.RawMessage) {
		if details == nil {
			e.forget(manifest.ID, session)
		}
		if userDisconnect != nil {
			userDisconnect(details)
		}
	}

	conn := NewConnection(manifest.ID, kernel, ConnectionOptions{
		Reconnect: e.opts.Reconnect,
		Handlers:  handlers,
		Status:    e.status,
		Logger:    e.opts.Logger,
		Release:   e.pool.Kill,
	})
	session.Connection = conn

	if err := conn.Start(ctx); err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("connect plugin %s: %w", manifest.Name, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.HandshakeTimeout)
	defer cancel()
	select {
	case <-conn.Ready():
	case <-conn.Done():
		return nil, fmt.Errorf("connect plugin %s: %w", manifest.Name, domain.ErrConnectionClosed)
	case <-waitCtx.Done():
		conn.Disconnect()
		return nil, fmt.Errorf("wait for plugin %s handshake: %w", manifest.Name, waitCtx.Err())
	}

	e.mu.Lock()
	previous := e.sessions[manifest.ID]
	e.sessions[manifest.ID] = session
	e.mu.Unlock()
	if previous != nil {
		previous.Connection.Disconnect()
	}

	if len(manifest.Scripts) > 0 {
		e.status.ShowStatus("Executing plugin script for " + manifest.Name + "...")
	}
	for _, script := range manifest.Scripts {
		if _, err := conn.Execute(ctx, scriptPayload(script)); err != nil {
			conn.Disconnect()
			return nil, fmt.Errorf("execute plugin script: %w", err)
		}
	}

	log.Info("plugin ready", zap.String("kernel_id", kernel.ID()))
	e.status.ShowStatus(fmt.Sprintf("Plugin %q is ready.", manifest.Name))
	return session, nil
}

func (e *Engine) Session(pluginID string) (*PluginSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[pluginID]
	return s, ok
}

func (e *Engine) Status() EngineStatus {
	return EngineStatus{
		Servers:   e.servers.Servers(),
		Kernels:   e.pool.Entries(),
		Processes: e.pool.Live(),
	}
}

// KillPlugin disconnects the plugin and shuts down every kernel it owns.
func (e *Engine) KillPlugin(ctx context.Context, pluginID string) error {
	if session, ok := e.Session(pluginID); ok {
		session.Connection.Disconnect()
	}
	return e.pool.KillPlugin(ctx, pluginID)
}

// KillProcess shuts down one kernel, disconnecting the plugin using it.
func (e *Engine) KillProcess(ctx context.Context, kernelID string) error {
	e.mu.Lock()
	var owners []*PluginSession
	for _, session := range e.sessions {
		if session.Kernel.ID() == kernelID {
			owners = append(owners, session)
		}
	}
	e.mu.Unlock()

	if len(owners) == 0 {
		return e.pool.KillProcess(ctx, kernelID)
	}
	for _, session := range owners {
		session.Connection.Disconnect()
	}
	return nil
}

// Shutdown disconnects every running plugin.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if session, ok := e.Session(id); ok {
			session.Connection.Disconnect()
		}
	}
}

func (e *Engine) forget(pluginID string, session *PluginSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions[pluginID] == session {
		delete(e.sessions, pluginID)
	}
}

func (e *Engine) discard(ctx context.Context, kernel ports.Kernel) {
	if err := e.pool.Kill(ctx, kernel); err != nil {
		e.log.Warn("discard kernel", zap.String("kernel_id", kernel.ID()), zap.Error(err))
	}
}

type scriptMessage struct {
	Type    string            `json:"type"`
	Content string            `json:"content"`
	Lang    string            `json:"lang"`
	Attrs   map[string]string `json:"attrs"`
	Src     string            `json:"src,omitempty"`
}

func scriptPayload(script domain.PluginScript) scriptMessage {
	attrs := script.Attrs
	if attrs == nil {
		attrs = map[string]string{}
	}
	lang := script.Lang
	if lang == "" {
		lang = attrs["lang"]
	}
	src := script.Src
	if src == "" {
		src = attrs["src"]
	}
	return scriptMessage{Type: "script", Content: script.Content, Lang: lang, Attrs: attrs, Src: src}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}
