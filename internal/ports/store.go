package ports

import (
	"context"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
)

// ServerStore persists the fingerprint-keyed server cache as a whole snapshot.
type ServerStore interface {
	Load(ctx context.Context) (map[string]domain.ServerEntry, error)
	Save(ctx context.Context, entries map[string]domain.ServerEntry) error
}

// KernelStore persists the key-indexed kernel cache as a whole snapshot.
type KernelStore interface {
	Load(ctx context.Context) (map[string]domain.KernelEntry, error)
	Save(ctx context.Context, entries map[string]domain.KernelEntry) error
}
