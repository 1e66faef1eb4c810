package application

import (
	"context"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/logging"
	"go.uber.org/zap"
)

const DefaultHeartbeatInterval = 5 * time.Second

type sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

// HeartbeatMonitor periodically sweeps the kernel cache until its context
// ends. Sweep failures are logged and never stop the loop.
type HeartbeatMonitor struct {
	pool     sweeper
	interval time.Duration
	log      *zap.Logger
	// OnSweep observes each completed sweep.
	OnSweep func(removed []string, err error)
}

func NewHeartbeatMonitor(pool *KernelPool, interval time.Duration, log *zap.Logger) *HeartbeatMonitor {
	return newHeartbeatMonitor(pool, interval, log)
}

func newHeartbeatMonitor(pool sweeper, interval time.Duration, log *zap.Logger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatMonitor{pool: pool, interval: interval, log: logging.Component(log, "heartbeat")}
}

func (h *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		h.sweepOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HeartbeatMonitor) sweepOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("heartbeat sweep panicked", zap.Any("panic", r))
		}
	}()

	removed, err := h.pool.Sweep(ctx)
	if err != nil {
		h.log.Warn("heartbeat sweep failed", zap.Error(err))
	}
	if len(removed) > 0 {
		h.log.Info("evicted dead kernels", zap.Strings("keys", removed))
	}
	if h.OnSweep != nil {
		h.OnSweep(removed, err)
	}
}
