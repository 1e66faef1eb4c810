package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
)

type ServerRegistryOptions struct {
	Contents ports.ContentsBrowser
	Status   ports.StatusSink
	Logger   *zap.Logger
	// OnFileManager runs once for every distinct server URL handed out.
	OnFileManager func(*FileManager)
}

// ServerRegistry hands out server settings for a config, reusing cached
// servers while they answer and provisioning new ones otherwise.
type ServerRegistry struct {
	store       ports.ServerStore
	transport   ports.KernelTransport
	provisioner ports.Provisioner
	contents    ports.ContentsBrowser
	status      ports.StatusSink
	log         *zap.Logger
	onFM        func(*FileManager)

	mu      sync.Mutex
	entries map[string]domain.ServerEntry

	persistMu    sync.Mutex
	fileManagers cmap.ConcurrentMap[string, *FileManager]
}

func NewServerRegistry(store ports.ServerStore, transport ports.KernelTransport, provisioner ports.Provisioner, opts ServerRegistryOptions) *ServerRegistry {
	status := opts.Status
	if status == nil {
		status = ports.NopStatusSink{}
	}

	return &ServerRegistry{
		store:        store,
		transport:    transport,
		provisioner:  provisioner,
		contents:     opts.Contents,
		status:       status,
		log:          logging.Component(opts.Logger, "server-registry"),
		onFM:         opts.OnFileManager,
		entries:      map[string]domain.ServerEntry{},
		fileManagers: cmap.New[*FileManager](),
	}
}

// Load reads the persisted servers and keeps only those that still answer.
func (r *ServerRegistry) Load(ctx context.Context) error {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load servers: %w", err)
	}

	alive := make(map[string]domain.ServerEntry, len(stored))
	for fingerprint, entry := range stored {
		if err := r.ping(ctx, entry.Settings()); err != nil {
			r.log.Info("dropping unreachable server", zap.String("url", entry.URL), zap.Error(err))
			continue
		}
		entry.Fingerprint = fingerprint
		alive[fingerprint] = entry
	}

	r.mu.Lock()
	r.entries = alive
	r.mu.Unlock()

	if len(alive) != len(stored) {
		return r.persist(ctx)
	}
	return nil
}

// GetOrProvision returns settings for a live server matching cfg.
func (r *ServerRegistry) GetOrProvision(ctx context.Context, cfg domain.ServerConfig) (domain.ServerSettings, error) {
	fingerprint := cfg.Fingerprint()

	r.mu.Lock()
	entry, cached := r.entries[fingerprint]
	r.mu.Unlock()

	if cached {
		settings := entry.Settings()
		err := r.ping(ctx, settings)
		if err == nil {
			r.registerFileManager(settings)
			return settings, nil
		}
		r.log.Info("cached server did not answer", zap.String("url", entry.URL), zap.Error(err))

		r.mu.Lock()
		if current, ok := r.entries[fingerprint]; ok && current == entry {
			delete(r.entries, fingerprint)
		}
		r.mu.Unlock()
		if err := r.persist(ctx); err != nil {
			return domain.ServerSettings{}, err
		}
	}

	settings, err := r.provisioner.Provision(ctx, cfg, r.status)
	if err != nil {
		r.status.ShowStatus(err.Error())
		r.log.Warn("provisioning failed", zap.String("name", cfg.Name), zap.Error(err))
		return domain.ServerSettings{}, err
	}

	r.mu.Lock()
	r.entries[fingerprint] = domain.ServerEntry{Fingerprint: fingerprint, URL: settings.BaseURL, Token: settings.Token}
	r.mu.Unlock()
	if err := r.persist(ctx); err != nil {
		return domain.ServerSettings{}, err
	}

	r.log.Info("server provisioned", zap.String("url", settings.BaseURL))
	r.registerFileManager(settings)
	return settings, nil
}

// Servers lists the cached entries ordered by URL.
func (r *ServerRegistry) Servers() []domain.ServerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.ServerEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL == out[j].URL {
			return out[i].Fingerprint < out[j].Fingerprint
		}
		return out[i].URL < out[j].URL
	})
	return out
}

func (r *ServerRegistry) FileManager(url string) (*FileManager, bool) {
	return r.fileManagers.Get(url)
}

func (r *ServerRegistry) ping(ctx context.Context, settings domain.ServerSettings) error {
	if _, err := r.transport.KernelSpecs(ctx, settings); err != nil {
		return &domain.LivenessError{Target: settings.BaseURL, Err: err}
	}
	return nil
}

func (r *ServerRegistry) registerFileManager(settings domain.ServerSettings) {
	fm := NewFileManager(settings, r.contents, r.transport)
	if !r.fileManagers.SetIfAbsent(settings.BaseURL, fm) {
		return
	}
	r.log.Debug("file manager registered", zap.String("url", settings.BaseURL))
	if r.onFM != nil {
		r.onFM(fm)
	}
}

func (r *ServerRegistry) persist(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	r.mu.Lock()
	snapshot := make(map[string]domain.ServerEntry, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.log.Warn("persist servers failed", zap.Error(err))
		return fmt.Errorf("save servers: %w", err)
	}
	return nil
}
