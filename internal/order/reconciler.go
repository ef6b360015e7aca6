package order

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler periodically asks the broker to replay open orders while the
// ledger still has working orders, covering notifications lost in transit.
type Reconciler struct {
	manager  *Manager
	broker   Broker
	logger   *zap.Logger
	interval time.Duration
	done     chan struct{}
}

func NewReconciler(m *Manager, b Broker, interval time.Duration, logger *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		manager:  m,
		broker:   b,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("order.reconciler_started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	if n := r.manager.RetryPending(); n > 0 {
		r.logger.Warn("order.applied_fills_pending", zap.Int("count", n))
	}
	if !r.manager.HasOpenOrders() || !r.broker.Connected() {
		return
	}
	if err := r.broker.ReqAllOpenOrders(ctx); err != nil {
		r.logger.Warn("order.reconcile_failed", zap.Error(err))
		return
	}
	r.logger.Debug("order.reconcile_requested", zap.Int("open", len(r.manager.OpenOrders())))
}

// Stop ends the polling loop.
func (r *Reconciler) Stop() {
	close(r.done)
}
