package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/jupyter-engine-manager/internal/adapters/binder"
	"github.com/bnema/jupyter-engine-manager/internal/adapters/jupyter"
	"github.com/bnema/jupyter-engine-manager/internal/adapters/manifest"
	consoleadapter "github.com/bnema/jupyter-engine-manager/internal/adapters/render/console"
	statusadapter "github.com/bnema/jupyter-engine-manager/internal/adapters/render/status"
	tomlrepo "github.com/bnema/jupyter-engine-manager/internal/adapters/repo/toml"
	"github.com/bnema/jupyter-engine-manager/internal/application"
	"github.com/bnema/jupyter-engine-manager/internal/config"
	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type app struct {
	cfg            config.Config
	log            *zap.Logger
	progress       *progressSink
	interactive    bool
	servers        *application.ServerRegistry
	pool           *application.KernelPool
	installer      *application.RequirementInstaller
	engine         *application.Engine
	statusRenderer func(application.EngineStatus, statusadapter.RenderOptions) (string, error)
	loadManifest   func(path string) (domain.PluginManifest, error)
}

func (a *app) wire(cmd *cobra.Command) error {
	v, err := config.New(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Resolve(v)
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
	if err != nil {
		return fmt.Errorf("wire logger: %w", err)
	}

	serverStore, err := tomlrepo.NewServerRepository(v)
	if err != nil {
		return fmt.Errorf("wire server repository: %w", err)
	}
	kernelStore, err := tomlrepo.NewKernelRepository(v)
	if err != nil {
		return fmt.Errorf("wire kernel repository: %w", err)
	}

	a.interactive = isTerminal(cmd.ErrOrStderr())
	a.progress = newProgressSink(consoleadapter.NewSink(cmd.ErrOrStderr(), consoleadapter.Options{Hyperlinks: a.interactive}))

	transport := jupyter.NewTransport(jupyter.Options{
		RequestTimeout: cfg.HTTPTimeout,
		RetryMax:       cfg.HTTPRetryMax,
		Logger:         log,
	})
	provisioner := binder.NewProvisioner(binder.Options{RetryMax: cfg.HTTPRetryMax, Logger: log})

	a.cfg = cfg
	a.log = log
	a.installer = application.NewRequirementInstaller(a.progress, log)
	a.servers = application.NewServerRegistry(serverStore, transport, provisioner, application.ServerRegistryOptions{
		Contents: transport,
		Status:   a.progress,
		Logger:   log,
		OnFileManager: func(fm *application.FileManager) {
			log.Debug("file manager registered", zap.String("server", fm.Name()), zap.String("url", fm.URL()))
		},
	})
	a.pool = application.NewKernelPool(kernelStore, transport, application.KernelPoolOptions{
		Installer:        a.installer,
		Clock:            ports.SystemClock{},
		Logger:           log,
		Status:           a.progress,
		CondaUnavailable: !cfg.CondaAvailable,
	})
	a.engine = application.NewEngine(a.servers, a.pool, a.installer, application.EngineOptions{
		Server: cfg.Server,
		Reconnect: application.ReconnectPolicy{
			MaxAttempts:     cfg.Reconnect.MaxAttempts,
			InitialInterval: cfg.Reconnect.InitialInterval,
			MaxInterval:     cfg.Reconnect.MaxInterval,
			Multiplier:      application.DefaultReconnectPolicy().Multiplier,
		},
		HandshakeTimeout: cfg.HandshakeTimeout,
		CondaUnavailable: !cfg.CondaAvailable,
		Status:           a.progress,
		Logger:           log,
	})
	a.statusRenderer = statusadapter.Render
	a.loadManifest = manifest.Load
	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// loadServers reads the server cache, dropping servers that no longer answer.
func (a *app) loadServers(ctx context.Context) error {
	return a.servers.Load(ctx)
}

func (a *app) loadKernels(ctx context.Context) error {
	return a.pool.Load(ctx)
}

// acquireServer returns settings for the configured server, provisioning one
// when nothing usable is cached.
func (a *app) acquireServer(cmd *cobra.Command) (domain.ServerSettings, error) {
	if err := a.loadServers(cmd.Context()); err != nil {
		return domain.ServerSettings{}, err
	}

	var settings domain.ServerSettings
	err := a.withProgress(cmd, "Acquiring Jupyter server...", func(ctx context.Context) error {
		var err error
		settings, err = a.servers.GetOrProvision(ctx, a.cfg.Server)
		return err
	})
	return settings, err
}

// progressSink forwards status lines to the console, or to a spinner while
// one is running.
type progressSink struct {
	mu      sync.Mutex
	console ports.StatusSink
	forward func(string)
}

func newProgressSink(console ports.StatusSink) *progressSink {
	return &progressSink{console: console}
}

func (p *progressSink) ShowStatus(message string) {
	p.mu.Lock()
	forward := p.forward
	p.mu.Unlock()
	if forward != nil {
		forward(consoleadapter.Normalize(message))
		return
	}
	p.console.ShowStatus(message)
}

func (p *progressSink) redirect(forward func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forward = forward
}

func isTerminal(out any) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
