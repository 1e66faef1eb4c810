package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"go.uber.org/zap"
)

type KernelPoolOptions struct {
	Installer *RequirementInstaller
	Clock     ports.Clock
	Logger    *zap.Logger
	Status    ports.StatusSink
	// CondaUnavailable drops conda requirements during GetOrStart installs.
	CondaUnavailable bool
}

type liveKernel struct {
	kernel    ports.Kernel
	key       string
	label     domain.KernelLabel
	startedAt time.Time
}

// KernelPool maps caller keys to remote kernels and keeps at most one live
// handle per kernel id.
type KernelPool struct {
	store          ports.KernelStore
	transport      ports.KernelTransport
	installer      *RequirementInstaller
	clock          ports.Clock
	log            *zap.Logger
	status         ports.StatusSink
	condaAvailable bool

	loadMu sync.Mutex
	loaded bool

	mu      sync.Mutex
	entries map[string]domain.KernelEntry
	live    map[string]*liveKernel

	persistMu sync.Mutex
}

func NewKernelPool(store ports.KernelStore, transport ports.KernelTransport, opts KernelPoolOptions) *KernelPool {
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	installer := opts.Installer
	if installer == nil {
		installer = NewRequirementInstaller(opts.Status, opts.Logger)
	}
	status := opts.Status
	if status == nil {
		status = ports.NopStatusSink{}
	}

	return &KernelPool{
		store:          store,
		transport:      transport,
		installer:      installer,
		clock:          clock,
		log:            logging.Component(opts.Logger, "kernel-pool"),
		status:         status,
		condaAvailable: !opts.CondaUnavailable,
		entries:        map[string]domain.KernelEntry{},
		live:           map[string]*liveKernel{},
	}
}

// Load replaces the in-memory mapping with the stored one.
func (p *KernelPool) Load(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	return p.loadLocked(ctx)
}

// ensureLoaded reads the store once before the first operation touching the
// mapping, so a save never drops entries written by an earlier process.
func (p *KernelPool) ensureLoaded(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.loaded {
		return nil
	}
	return p.loadLocked(ctx)
}

func (p *KernelPool) loadLocked(ctx context.Context) error {
	stored, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load kernels: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]domain.KernelEntry, len(stored))
	for key, entry := range stored {
		entry.Key = key
		p.entries[key] = entry
	}
	p.loaded = true
	return nil
}

// GetOrStart reuses the kernel cached under key or starts a fresh one and
// installs requirements into it.
func (p *KernelPool) GetOrStart(ctx context.Context, key string, settings domain.ServerSettings, requirements []string) (ports.Kernel, error) {
	kernel, err := p.Reuse(ctx, key, settings)
	if err == nil {
		p.log.Debug("reusing cached kernel", zap.String("key", key), zap.String("kernel_id", kernel.ID()))
		return kernel, nil
	}
	p.log.Info("no reusable kernel, starting a new one", zap.String("key", key), zap.Error(err))

	kernel, err = p.Start(ctx, key, settings, "")
	if err != nil {
		return nil, err
	}

	if err := p.installer.Install(ctx, kernel, requirements, p.condaAvailable); err != nil {
		if killErr := p.Kill(ctx, kernel); killErr != nil {
			p.log.Warn("discard kernel after failed install", zap.String("kernel_id", kernel.ID()), zap.Error(killErr))
		}
		return nil, err
	}

	return kernel, nil
}

// Reuse returns a handle for the kernel cached under key. A cached kernel
// recorded against other server settings yields a StaleMappingError.
func (p *KernelPool) Reuse(ctx context.Context, key string, settings domain.ServerSettings) (ports.Kernel, error) {
	return p.resolve(ctx, key, &settings)
}

func (p *KernelPool) resolve(ctx context.Context, key string, settings *domain.ServerSettings) (ports.Kernel, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("reuse kernel %q: %w", key, domain.ErrKernelNotCached)
	}
	if settings != nil && !entry.Matches(*settings) {
		p.mu.Unlock()
		return nil, &domain.StaleMappingError{Key: key, Cached: entry.Settings(), Provided: *settings}
	}
	if lk, ok := p.live[entry.KernelID]; ok && lk.kernel.Status() == domain.KernelStatusIdle {
		p.mu.Unlock()
		return lk.kernel, nil
	}
	p.mu.Unlock()

	model, err := p.transport.FindKernel(ctx, entry.Settings(), entry.KernelID)
	if err != nil {
		return nil, p.report(fmt.Errorf("find kernel %s: %w", entry.KernelID, err))
	}

	kernel, err := p.transport.ConnectKernel(ctx, entry.Settings(), model)
	if err != nil {
		return nil, p.report(fmt.Errorf("connect kernel %s: %w", entry.KernelID, err))
	}

	p.adopt(key, kernel)
	return kernel, nil
}

// Start launches a kernel with specName, or the server default when empty,
// and records it under key.
func (p *KernelPool) Start(ctx context.Context, key string, settings domain.ServerSettings, specName string) (ports.Kernel, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	if specName == "" {
		specs, err := p.transport.KernelSpecs(ctx, settings)
		if err != nil {
			return nil, p.report(fmt.Errorf("get kernel specs: %w", err))
		}
		specName = specs.Default
	}

	p.status.ShowStatus("Starting kernel...")
	kernel, err := p.transport.StartKernel(ctx, settings, specName)
	if err != nil {
		return nil, p.report(fmt.Errorf("start kernel %q: %w", specName, err))
	}

	p.adopt(key, kernel)

	p.mu.Lock()
	p.entries[key] = domain.KernelEntry{Key: key, BaseURL: settings.BaseURL, Token: settings.Token, KernelID: kernel.ID()}
	p.mu.Unlock()

	if err := p.persist(ctx); err != nil {
		return nil, err
	}

	p.log.Info("kernel started", zap.String("key", key), zap.String("kernel_id", kernel.ID()), zap.String("spec", specName))
	return kernel, nil
}

// adopt installs kernel as the live handle for its id, disposing any
// previous handle for the same id first.
func (p *KernelPool) adopt(key string, kernel ports.Kernel) {
	p.mu.Lock()
	previous := p.live[kernel.ID()]
	lk := &liveKernel{kernel: kernel, key: key, startedAt: p.clock.Now()}
	if previous != nil {
		lk.label = previous.label
		lk.startedAt = previous.startedAt
	}
	p.live[kernel.ID()] = lk
	p.mu.Unlock()

	if previous != nil && previous.kernel != kernel {
		if err := previous.kernel.Close(); err != nil {
			p.log.Debug("close stale kernel handle", zap.String("kernel_id", kernel.ID()), zap.Error(err))
		}
	}
}

// Label tags a live kernel with the plugin that owns it.
func (p *KernelPool) Label(kernelID string, label domain.KernelLabel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lk, ok := p.live[kernelID]; ok {
		lk.label = label
	}
}

// Entries returns the cached key to kernel mapping ordered by key.
func (p *KernelPool) Entries() []domain.KernelEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.KernelEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Live describes every live handle, ordered by start time.
func (p *KernelPool) Live() []domain.ProcessInfo {
	p.mu.Lock()
	type item struct {
		info      domain.ProcessInfo
		startedAt time.Time
	}
	items := make([]item, 0, len(p.live))
	for id, lk := range p.live {
		name := lk.label.PluginName
		if name == "" {
			name = lk.kernel.Name()
		}
		items = append(items, item{
			info: domain.ProcessInfo{
				KernelID:  id,
				Key:       lk.key,
				Name:      name,
				PluginID:  lk.label.PluginID,
				ServerURL: lk.kernel.Settings().BaseURL,
				Status:    lk.kernel.Status(),
			},
			startedAt: lk.startedAt,
		})
	}
	p.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].startedAt.Equal(items[j].startedAt) {
			return items[i].info.KernelID < items[j].info.KernelID
		}
		return items[i].startedAt.Before(items[j].startedAt)
	})
	out := make([]domain.ProcessInfo, len(items))
	for i := range items {
		out[i] = items[i].info
	}
	return out
}

// Kill disposes the local handle, shuts the remote kernel down and forgets
// every cache entry pointing at it.
func (p *KernelPool) Kill(ctx context.Context, kernel ports.Kernel) error {
	if kernel == nil {
		return nil
	}
	id := kernel.ID()

	p.mu.Lock()
	if lk, ok := p.live[id]; ok && lk.kernel == kernel {
		delete(p.live, id)
	}
	removed := false
	for key, entry := range p.entries {
		if entry.KernelID == id {
			delete(p.entries, key)
			removed = true
		}
	}
	p.mu.Unlock()

	var errs []error
	if err := kernel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close kernel handle: %w", err))
	}
	if err := kernel.Shutdown(ctx); err != nil && !errors.Is(err, domain.ErrKernelNotFound) {
		errs = append(errs, fmt.Errorf("shutdown kernel %s: %w", id, err))
	}
	if removed {
		if err := p.persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	p.log.Info("kernel killed", zap.String("kernel_id", id))
	return errors.Join(errs...)
}

func (p *KernelPool) KillProcess(ctx context.Context, kernelID string) error {
	p.mu.Lock()
	lk, ok := p.live[kernelID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("kill process %s: %w", kernelID, domain.ErrKernelNotFound)
	}
	return p.Kill(ctx, lk.kernel)
}

// KillPlugin kills every live kernel labelled with pluginID.
func (p *KernelPool) KillPlugin(ctx context.Context, pluginID string) error {
	p.mu.Lock()
	var targets []ports.Kernel
	for _, lk := range p.live {
		if lk.label.PluginID == pluginID {
			targets = append(targets, lk.kernel)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, kernel := range targets {
		if err := p.Kill(ctx, kernel); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget drops the cache entry for key without touching the remote kernel.
func (p *KernelPool) Forget(ctx context.Context, key string) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	_, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("forget kernel %q: %w", key, domain.ErrKernelNotCached)
	}
	return p.persist(ctx)
}

// Sweep checks every cached entry and removes the ones that fail.
func (p *KernelPool) Sweep(ctx context.Context) (removed []string, err error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	snapshot := make(map[string]domain.KernelEntry, len(p.entries))
	for k, v := range p.entries {
		snapshot[k] = v
	}
	p.mu.Unlock()

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		entry := snapshot[key]
		checkErr := p.check(ctx, key, entry)
		if checkErr == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		p.mu.Lock()
		if current, ok := p.entries[key]; ok && current == entry {
			delete(p.entries, key)
			removed = append(removed, key)
		}
		p.mu.Unlock()
		p.log.Info("kernel looks dead, evicting", zap.String("key", key), zap.String("kernel_id", entry.KernelID), zap.Error(checkErr))
	}

	return removed, p.persist(context.WithoutCancel(ctx))
}

// check tests an entry against its server. A kernel with a live handle is
// only looked up by id: the handle may belong to a connection that is
// reconnecting it, so it is never replaced here.
func (p *KernelPool) check(ctx context.Context, key string, entry domain.KernelEntry) error {
	p.mu.Lock()
	_, ok := p.live[entry.KernelID]
	p.mu.Unlock()

	if ok {
		_, err := p.transport.FindKernel(ctx, entry.Settings(), entry.KernelID)
		return err
	}

	_, err := p.resolve(ctx, key, nil)
	return err
}

// report shows err on the status sink and returns it.
func (p *KernelPool) report(err error) error {
	p.status.ShowStatus("Kernel error: " + err.Error())
	return err
}

func (p *KernelPool) persist(ctx context.Context) error {
	p.persistMu.Lock()
	defer p.persistMu.Unlock()

	p.mu.Lock()
	snapshot := make(map[string]domain.KernelEntry, len(p.entries))
	for k, v := range p.entries {
		snapshot[k] = v
	}
	p.mu.Unlock()

	if err := p.store.Save(ctx, snapshot); err != nil {
		p.log.Warn("persist kernels failed", zap.Error(err))
		return fmt.Errorf("save kernels: %w", err)
	}
	return nil
}
