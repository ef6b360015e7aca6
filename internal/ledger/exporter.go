// Package ledger periodically copies order, fill and position snapshots
// from the in-memory managers into durable storage.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Orders is the read-only order ledger query surface.
type Orders interface {
	Orders() []model.Order
	AllFills() []model.Fill
}

// Positions is the read-only position query surface.
type Positions interface {
	Positions() []model.Position
}

// Sink receives exported rows.
type Sink interface {
	SaveOrder(ctx context.Context, o model.Order) error
	SaveFill(ctx context.Context, f model.Fill) error
	SavePosition(ctx context.Context, p model.Position) error
}

// Notifier announces a completed export, e.g. on NATS.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type fillKey struct {
	orderID int64
	fillID  string
}

// Exporter writes only what changed since its previous run.
type Exporter struct {
	logger    *zap.Logger
	orders    Orders
	positions Positions
	sink      Sink
	notifier  Notifier
	interval  time.Duration
	stopCh    chan struct{}

	lastOrders    map[int64]model.Order
	lastPositions map[model.PositionKey]model.Position
	exportedFills map[fillKey]struct{}
}

// NewExporter builds the job. notifier may be nil.
func NewExporter(logger *zap.Logger, orders Orders, positions Positions, sink Sink, notifier Notifier, interval time.Duration) *Exporter {
	return &Exporter{
		logger:        logger,
		orders:        orders,
		positions:     positions,
		sink:          sink,
		notifier:      notifier,
		interval:      interval,
		stopCh:        make(chan struct{}),
		lastOrders:    make(map[int64]model.Order),
		lastPositions: make(map[model.PositionKey]model.Position),
		exportedFills: make(map[fillKey]struct{}),
	}
}

// Start runs the export loop until Stop or ctx is done. A final export runs
// on the way out.
func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("ledger_exporter.started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ticker.C:
			e.RunOnce(ctx)
		case <-e.stopCh:
			e.RunOnce(context.Background())
			e.logger.Info("ledger_exporter.stopped")
			return
		case <-ctx.Done():
			e.RunOnce(context.Background())
			e.logger.Info("ledger_exporter.stopped", zap.String("reason", "context canceled"))
			return
		}
	}
}

func (e *Exporter) Stop() {
	close(e.stopCh)
}

// Result counts rows written by one run.
type Result struct {
	Orders    int `json:"orders"`
	Fills     int `json:"fills"`
	Positions int `json:"positions"`
	Failed    int `json:"failed"`
}

// RunOnce exports changed rows. Failed rows are retried on the next run.
func (e *Exporter) RunOnce(ctx context.Context) Result {
	start := time.Now()
	var res Result

	for _, o := range e.orders.Orders() {
		if prev, ok := e.lastOrders[o.ID]; ok && sameOrder(prev, o) {
			continue
		}
		if err := e.sink.SaveOrder(ctx, o); err != nil {
			res.Failed++
			continue
		}
		e.lastOrders[o.ID] = o
		res.Orders++
	}

	for _, f := range e.orders.AllFills() {
		k := fillKey{f.OrderID, f.FillID}
		if _, ok := e.exportedFills[k]; ok {
			continue
		}
		if err := e.sink.SaveFill(ctx, f); err != nil {
			res.Failed++
			continue
		}
		e.exportedFills[k] = struct{}{}
		res.Fills++
	}

	for _, p := range e.positions.Positions() {
		if prev, ok := e.lastPositions[p.Key()]; ok && samePosition(prev, p) {
			continue
		}
		if err := e.sink.SavePosition(ctx, p); err != nil {
			res.Failed++
			continue
		}
		e.lastPositions[p.Key()] = p
		res.Positions++
	}

	if res.Failed > 0 {
		metrics.IncError("ledger", "export_failed")
		e.logger.Warn("ledger_exporter.partial_failure", zap.Int("failed", res.Failed))
		return res
	}
	metrics.SetLastExport(time.Now())

	if e.notifier != nil && res.Orders+res.Fills+res.Positions > 0 {
		if err := e.notifier.Publish(ctx, "ledger.exported.v1", map[string]any{
			"event":       "evt.ledger.exported.v1",
			"timestamp":   time.Now().UTC(),
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      res,
		}); err != nil {
			e.logger.Warn("ledger_exporter.notify_failed", zap.Error(err))
		}
	}

	e.logger.Debug("ledger_exporter.success",
		zap.Int("orders", res.Orders),
		zap.Int("fills", res.Fills),
		zap.Int("positions", res.Positions),
		zap.Duration("duration", time.Since(start)))
	return res
}

func sameOrder(a, b model.Order) bool {
	return a.Status == b.Status && a.Filled.Equal(b.Filled) && a.AvgFillPrice.Equal(b.AvgFillPrice) &&
		a.CancelTime.Equal(b.CancelTime)
}

func samePosition(a, b model.Position) bool {
	return a.Size.Equal(b.Size) && a.AverageCost.Equal(b.AverageCost) && a.RealizedPnL.Equal(b.RealizedPnL) &&
		a.UnrealizedPnL.Equal(b.UnrealizedPnL)
}
