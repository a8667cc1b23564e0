// Package worker runs the background reconciliation loop.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/lockmgr"
	"github.com/qrpay/reconciler/internal/service"
	"go.uber.org/zap"
)

// MonitorWorker polls the settlement ledger on an interval. Only one worker
// across all instances runs at a time, guarded by the loop lease; a session
// ends after maxRuntime so a fresher instance can take over.
type MonitorWorker struct {
	svc        *service.MonitorService
	locks      *lockmgr.Manager
	interval   time.Duration
	leaseTTL   time.Duration
	maxRuntime time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewMonitorWorker constructs a worker with the original poller's defaults.
func NewMonitorWorker(svc *service.MonitorService, locks *lockmgr.Manager) *MonitorWorker {
	return &MonitorWorker{
		svc:        svc,
		locks:      locks,
		interval:   30 * time.Second,
		leaseTTL:   5 * time.Minute,
		maxRuntime: time.Hour,
		stopCh:     make(chan struct{}),
	}
}

// WithInterval updates the poll interval.
func (w *MonitorWorker) WithInterval(interval time.Duration) *MonitorWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithLeaseTTL updates the loop lease TTL. The TTL must comfortably exceed
// the poll interval or the lease expires between refreshes.
func (w *MonitorWorker) WithLeaseTTL(ttl time.Duration) *MonitorWorker {
	if ttl > 0 {
		w.leaseTTL = ttl
	}
	return w
}

// WithMaxRuntime bounds how long one loop session holds the lease.
func (w *MonitorWorker) WithMaxRuntime(d time.Duration) *MonitorWorker {
	if d > 0 {
		w.maxRuntime = d
	}
	return w
}

// Start blocks, alternating between waiting for the loop lease and running
// bounded polling sessions, until Stop is called or the context is canceled.
func (w *MonitorWorker) Start(ctx context.Context) {
	zap.L().Info("monitor worker starting",
		zap.Duration("interval", w.interval),
		zap.Duration("max_runtime", w.maxRuntime),
	)

	for {
		lease, ok, err := w.locks.TryAcquire(ctx, domain.LockMonitorLoop, w.leaseTTL)
		if err != nil {
			zap.L().Error("loop lease acquisition failed", zap.Error(err))
		}
		if ok {
			w.runSession(ctx, lease)
		}

		select {
		case <-ctx.Done():
			zap.L().Info("monitor worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("monitor worker stop signal received")
			return
		case <-time.After(w.interval):
		}
	}
}

// Stop stops the running worker loop.
func (w *MonitorWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *MonitorWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// runSession polls until maxRuntime elapses or the worker stops, holding the
// loop lease the whole time.
func (w *MonitorWorker) runSession(ctx context.Context, lease *lockmgr.Lease) {
	zap.L().Info("monitor loop session started")
	deadline := time.NewTimer(w.maxRuntime)
	defer deadline.Stop()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("loop lease release failed", zap.Error(err))
		}
	}()

	// Run one cycle immediately; the poller should not wait a full
	// interval after winning the lease.
	w.runOnce(ctx, lease)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-deadline.C:
			zap.L().Info("monitor loop session reached max runtime, yielding lease")
			return
		case <-ticker.C:
			w.runOnce(ctx, lease)
		}
	}
}

func (w *MonitorWorker) runOnce(ctx context.Context, lease *lockmgr.Lease) {
	held, err := lease.Refresh(ctx)
	if err != nil {
		zap.L().Error("loop lease refresh failed", zap.Error(err))
	} else if !held {
		zap.L().Warn("loop lease lost, skipping cycle")
		return
	}

	if _, _, err := w.svc.RunCycleLocked(ctx, "loop"); err != nil {
		zap.L().Error("monitor cycle failed", zap.Error(err))
	}
}
