package toml

import (
	"context"
	"sort"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/spf13/viper"
)

// KernelRepository stores the key to kernel mapping.
type KernelRepository struct {
	file cacheFile
}

var _ ports.KernelStore = (*KernelRepository)(nil)

func NewKernelRepository(cfg *viper.Viper) (*KernelRepository, error) {
	file, err := newCacheFile(cfg, KernelsPathKey, kernelsFileName, "kernels")
	if err != nil {
		return nil, err
	}

	return &KernelRepository{file: file}, nil
}

func (r *KernelRepository) Path() string {
	return r.file.Path()
}

func (r *KernelRepository) Load(ctx context.Context) (map[string]domain.KernelEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	var file kernelsFileSchema
	if err := r.file.read(&file); err != nil {
		return nil, err
	}
	applyDefaultVersion(&file.Version)
	if err := validateVersion("kernels", file.Version); err != nil {
		return nil, err
	}

	entries := make(map[string]domain.KernelEntry, len(file.Kernels))
	for _, kernel := range file.Kernels {
		if kernel.Key == "" {
			continue
		}
		entries[kernel.Key] = domain.KernelEntry{
			Key:      kernel.Key,
			BaseURL:  kernel.BaseURL,
			Token:    kernel.Token,
			KernelID: kernel.KernelID,
		}
	}

	return entries, nil
}

func (r *KernelRepository) Save(ctx context.Context, entries map[string]domain.KernelEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := kernelsFileSchema{Version: currentSchemaVersion, Kernels: make([]kernelSchema, 0, len(entries))}
	for key, entry := range entries {
		file.Kernels = append(file.Kernels, kernelSchema{
			Key:      key,
			BaseURL:  entry.BaseURL,
			Token:    entry.Token,
			KernelID: entry.KernelID,
		})
	}
	sort.Slice(file.Kernels, func(i, j int) bool {
		return file.Kernels[i].Key < file.Kernels[j].Key
	})

	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	return r.file.write(file)
}
