package ports

import (
	"context"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
)

type Provisioner interface {
	Provision(ctx context.Context, cfg domain.ServerConfig, progress StatusSink) (domain.ServerSettings, error)
}

// StatusSink receives human-facing progress lines.
type StatusSink interface {
	ShowStatus(message string)
}

type StatusSinkFunc func(message string)

func (f StatusSinkFunc) ShowStatus(message string) {
	f(message)
}

type NopStatusSink struct{}

func (NopStatusSink) ShowStatus(string) {}
