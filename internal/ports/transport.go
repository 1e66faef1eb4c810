package ports

import (
	"context"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
)

type StreamHandler func(domain.StreamOutput)

// KernelTransport talks to a kernel server over its REST and websocket APIs.
type KernelTransport interface {
	KernelSpecs(ctx context.Context, settings domain.ServerSettings) (domain.KernelSpecs, error)
	StartKernel(ctx context.Context, settings domain.ServerSettings, specName string) (Kernel, error)
	FindKernel(ctx context.Context, settings domain.ServerSettings, kernelID string) (domain.KernelModel, error)
	ConnectKernel(ctx context.Context, settings domain.ServerSettings, model domain.KernelModel) (Kernel, error)
}

// Kernel is a live handle to a remote kernel.
type Kernel interface {
	ID() string
	Name() string
	Settings() domain.ServerSettings
	Status() domain.KernelStatus
	// Execute runs code and blocks until the kernel is idle again.
	Execute(ctx context.Context, code string, onStream StreamHandler) error
	// RegisterChannelTarget returns a channel that receives the first
	// channel the kernel opens under target.
	RegisterChannelTarget(target string) <-chan Channel
	OpenChannel(ctx context.Context, target string) (Channel, error)
	Reconnect(ctx context.Context) error
	// Close disposes the local handle only.
	Close() error
	// Shutdown stops the remote kernel.
	Shutdown(ctx context.Context) error
}

// Channel is a named bidirectional message stream to code in a kernel.
type Channel interface {
	ID() string
	Target() string
	Send(ctx context.Context, data []byte) error
	// Inbound is never closed; watch Done for loss.
	Inbound() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

type ContentsBrowser interface {
	ListContents(ctx context.Context, settings domain.ServerSettings, path string) (domain.Directory, error)
}
