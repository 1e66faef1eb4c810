package toml

import (
	"context"
	"sort"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/spf13/viper"
)

// ServerRepository stores provisioned server credentials keyed by config
// fingerprint.
type ServerRepository struct {
	file cacheFile
}

var _ ports.ServerStore = (*ServerRepository)(nil)

func NewServerRepository(cfg *viper.Viper) (*ServerRepository, error) {
	file, err := newCacheFile(cfg, ServersPathKey, serversFileName, "servers")
	if err != nil {
		return nil, err
	}

	return &ServerRepository{file: file}, nil
}

func (r *ServerRepository) Path() string {
	return r.file.Path()
}

func (r *ServerRepository) Load(ctx context.Context) (map[string]domain.ServerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.file.mu.RLock()
	defer r.file.mu.RUnlock()

	var file serversFileSchema
	if err := r.file.read(&file); err != nil {
		return nil, err
	}
	applyDefaultVersion(&file.Version)
	if err := validateVersion("servers", file.Version); err != nil {
		return nil, err
	}

	entries := make(map[string]domain.ServerEntry, len(file.Servers))
	for _, server := range file.Servers {
		if server.Fingerprint == "" {
			continue
		}
		entries[server.Fingerprint] = domain.ServerEntry{
			Fingerprint: server.Fingerprint,
			URL:         server.URL,
			Token:       server.Token,
		}
	}

	return entries, nil
}

func (r *ServerRepository) Save(ctx context.Context, entries map[string]domain.ServerEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := serversFileSchema{Version: currentSchemaVersion, Servers: make([]serverSchema, 0, len(entries))}
	for fingerprint, entry := range entries {
		file.Servers = append(file.Servers, serverSchema{
			Fingerprint: fingerprint,
			URL:         entry.URL,
			Token:       entry.Token,
		})
	}
	sort.Slice(file.Servers, func(i, j int) bool {
		return file.Servers[i].Fingerprint < file.Servers[j].Fingerprint
	})

	r.file.mu.Lock()
	defer r.file.mu.Unlock()

	return r.file.write(file)
}
