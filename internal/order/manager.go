// Package order keeps the authoritative order ledger. It reconciles the
// adapter's optimistic Acknowledged orders with broker status and fill
// notifications, which may arrive late, twice or out of order.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// ErrOrderTerminal is returned when cancelling a Filled or Cancelled order.
var ErrOrderTerminal = errors.New("order already terminal")

// Broker is the outbound surface the manager delegates to.
type Broker interface {
	PlaceOrder(ctx context.Context, o model.Order) (model.Order, error)
	CancelOrder(ctx context.Context, orderID int64) error
	CancelAllOrders(ctx context.Context) error
	ReqAllOpenOrders(ctx context.Context) error
	Connected() bool
}

// Bus is what the manager needs from the message bus.
type Bus interface {
	Subscribe(c model.Category, h eventbus.Handler) error
	Publish(ev model.Event) error
}

type fillKey struct {
	orderID int64
	fillID  string
}

// Manager owns the order ledger. Ledger mutations happen on the bus
// dispatch goroutine; queries return copies.
type Manager struct {
	broker Broker
	bus    Bus
	logger *zap.Logger

	mu     sync.RWMutex
	orders map[int64]model.Order
	fills  map[int64][]model.Fill
	seen   map[fillKey]struct{}

	// applied fills the bus rejected, republished before the next event
	pendingMu sync.Mutex
	pending   []model.FillEvent
}

// NewManager creates a manager and subscribes it to bus.
func NewManager(b Broker, bus Bus, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		broker: b,
		bus:    bus,
		logger: logger.With(zap.String("component", "order_manager")),
		orders: make(map[int64]model.Order),
		fills:  make(map[int64][]model.Fill),
		seen:   make(map[fillKey]struct{}),
	}
	subs := []struct {
		c model.Category
		h eventbus.Handler
	}{
		{model.CategoryOrder, m.handleOrder},
		{model.CategoryFill, m.handleFill},
		{model.CategoryOrderStatus, m.handleStatus},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.c, s.h); err != nil {
			return nil, fmt.Errorf("subscribe %s: %w", s.c, err)
		}
	}
	return m, nil
}

// Place validates o and hands it to the broker. The ledger entry is created
// when the adapter's Acknowledged event is dispatched.
func (m *Manager) Place(ctx context.Context, o model.Order) (model.Order, error) {
	if err := o.Validate(); err != nil {
		return o, err
	}
	if !m.broker.Connected() {
		return o, broker.ErrNotConnected
	}
	return m.broker.PlaceOrder(ctx, o)
}

// Cancel requests cancellation of a live order in the ledger.
func (m *Manager) Cancel(ctx context.Context, orderID int64) error {
	m.mu.RLock()
	o, ok := m.orders[orderID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", broker.ErrOrderNotFound, orderID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderTerminal, orderID, o.Status)
	}
	return m.broker.CancelOrder(ctx, orderID)
}

// CancelAll sends a best-effort global cancel.
func (m *Manager) CancelAll(ctx context.Context) error {
	return m.broker.CancelAllOrders(ctx)
}

func (m *Manager) handleOrder(ev model.Event) error {
	m.RetryPending()
	oe, ok := ev.(model.OrderEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	// later snapshots are this manager's own transitions
	if oe.Status != model.OrderStatusAcknowledged {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[oe.ID]; exists {
		m.logger.Debug("order.duplicate_ack", zap.Int64("order_id", oe.ID))
		return nil
	}
	o := oe.Order
	o.Filled = decimal.Zero
	o.AvgFillPrice = decimal.Zero
	m.orders[o.ID] = o
	metrics.OrderTransitions.WithLabelValues(o.Status.String()).Inc()
	return nil
}

func (m *Manager) handleFill(ev model.Event) error {
	fe, ok := ev.(model.FillEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	if fe.Applied {
		return nil
	}
	m.RetryPending()
	applied, snapshot, ok := m.applyFill(fe.Fill)
	if !ok {
		return nil
	}
	m.publishApplied(model.FillEvent{Fill: applied, Applied: true})
	m.publishSnapshot(snapshot)
	return nil
}

// publishApplied sends an applied fill, or keeps it for RetryPending when
// the bus rejects it. Applied fills are never dropped.
func (m *Manager) publishApplied(fe model.FillEvent) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	// keep order behind fills already waiting
	if len(m.pending) == 0 {
		err := m.bus.Publish(fe)
		if err == nil {
			return
		}
		m.logger.Error("order.publish_applied_fill_failed",
			zap.Int64("order_id", fe.OrderID),
			zap.String("fill_id", fe.FillID),
			zap.Error(err))
		metrics.IncError("order_manager", "applied_fill_deferred")
		_ = m.bus.Publish(model.NewLogEvent(model.LogError, "order_manager",
			fmt.Sprintf("applied fill %s for order %d deferred", fe.FillID, fe.OrderID), err))
	}
	m.pending = append(m.pending, fe)
}

// RetryPending republishes applied fills the bus rejected earlier, in
// order, stopping at the first rejection. It returns how many remain.
func (m *Manager) RetryPending() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	for len(m.pending) > 0 {
		if err := m.bus.Publish(m.pending[0]); err != nil {
			break
		}
		m.logger.Info("order.applied_fill_republished",
			zap.Int64("order_id", m.pending[0].OrderID),
			zap.String("fill_id", m.pending[0].FillID))
		m.pending = m.pending[1:]
	}
	return len(m.pending)
}

// applyFill books f against its order. It returns the quantity actually
// applied and the updated order.
func (m *Manager) applyFill(f model.Fill) (model.Fill, model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logger.With(zap.Int64("order_id", f.OrderID), zap.String("fill_id", f.FillID))

	o, ok := m.orders[f.OrderID]
	if !ok {
		metrics.IncFill("unknown_order")
		log.Warn("order.fill_unknown_order")
		return f, o, false
	}
	key := fillKey{orderID: f.OrderID, fillID: f.FillID}
	if _, dup := m.seen[key]; dup {
		metrics.IncFill("duplicate")
		log.Warn("order.fill_duplicate")
		return f, o, false
	}
	if f.Size.IsZero() || f.Size.Sign() != o.Size.Sign() {
		metrics.IncFill("rejected")
		log.Warn("order.fill_side_mismatch", zap.String("fill_size", f.Size.String()), zap.String("order_size", o.Size.String()))
		return f, o, false
	}
	m.seen[key] = struct{}{}

	remaining := o.Size.Sub(o.Filled)
	if remaining.IsZero() {
		metrics.IncFill("truncated")
		log.Warn("order.fill_overshoot_dropped", zap.String("fill_size", f.Size.String()))
		return f, o, false
	}
	if f.Size.Abs().GreaterThan(remaining.Abs()) {
		metrics.IncFill("truncated")
		log.Warn("order.fill_overshoot_truncated",
			zap.String("fill_size", f.Size.String()),
			zap.String("remaining", remaining.String()))
		f.Size = remaining
	}

	prevAbs := o.Filled.Abs()
	newFilled := o.Filled.Add(f.Size)
	o.AvgFillPrice = o.AvgFillPrice.Mul(prevAbs).Add(f.Price.Mul(f.Size.Abs())).Div(newFilled.Abs())
	o.Filled = newFilled

	switch {
	case o.Status == model.OrderStatusCancelled:
		// execution raced the cancel; quantity is real, status stays terminal
		log.Warn("order.fill_after_cancel")
	case o.Filled.Abs().Equal(o.Size.Abs()):
		o.Status = model.OrderStatusFilled
		o.FillTime = f.Timestamp
	default:
		o.Status = model.OrderStatusPartiallyFilled
	}
	m.orders[o.ID] = o
	m.fills[o.ID] = append(m.fills[o.ID], f)

	metrics.IncFill("applied")
	metrics.OrderTransitions.WithLabelValues(o.Status.String()).Inc()
	log.Info("order.fill_applied",
		zap.String("size", f.Size.String()),
		zap.String("price", f.Price.String()),
		zap.String("filled", o.Filled.String()),
		zap.String("status", o.Status.String()))
	return f, o, true
}

func (m *Manager) handleStatus(ev model.Event) error {
	m.RetryPending()
	se, ok := ev.(model.OrderStatusEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}

	m.mu.Lock()
	o, known := m.orders[se.OrderID]
	if !known {
		m.mu.Unlock()
		m.logger.Warn("order.status_unknown_order", zap.Int64("order_id", se.OrderID), zap.String("status", se.BrokerStatus))
		return nil
	}

	if se.Status != model.OrderStatusCancelled {
		m.mu.Unlock()
		if se.Status == model.OrderStatusFilled && !se.Filled.Abs().Equal(o.Filled.Abs()) {
			m.logger.Info("order.status_ahead_of_fills",
				zap.Int64("order_id", o.ID),
				zap.String("broker_filled", se.Filled.String()),
				zap.String("ledger_filled", o.Filled.String()))
		}
		return nil
	}

	switch o.Status {
	case model.OrderStatusFilled:
		m.mu.Unlock()
		m.logger.Warn("order.late_cancel_ignored", zap.Int64("order_id", o.ID))
		return nil
	case model.OrderStatusCancelled:
		m.mu.Unlock()
		return nil
	}

	o.Status = model.OrderStatusCancelled
	if o.CancelTime.IsZero() {
		o.CancelTime = se.Timestamp
	}
	m.orders[o.ID] = o
	m.mu.Unlock()

	metrics.OrderTransitions.WithLabelValues(o.Status.String()).Inc()
	m.logger.Info("order.cancelled", zap.Int64("order_id", o.ID), zap.String("filled", o.Filled.String()))
	m.publishSnapshot(o)
	return nil
}

func (m *Manager) publishSnapshot(o model.Order) {
	if err := m.bus.Publish(model.OrderEvent{Order: o, Timestamp: o.CreateTime}); err != nil {
		m.logger.Error("order.publish_snapshot_failed", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}

// Order returns a copy of one order.
func (m *Manager) Order(id int64) (model.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok
}

// Orders returns every order in id order.
func (m *Manager) Orders() []model.Order {
	return m.collect(func(model.Order) bool { return true })
}

// OpenOrders returns the orders that are not terminal.
func (m *Manager) OpenOrders() []model.Order {
	return m.collect(func(o model.Order) bool { return !o.Status.Terminal() })
}

// HasOpenOrders reports whether any order is still working.
func (m *Manager) HasOpenOrders() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			return true
		}
	}
	return false
}

func (m *Manager) collect(keep func(model.Order) bool) []model.Order {
	m.mu.RLock()
	out := make([]model.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Fills returns the fills applied to one order, in arrival order.
func (m *Manager) Fills(orderID int64) []model.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Fill(nil), m.fills[orderID]...)
}

// AllFills returns every applied fill ordered by order id then arrival.
func (m *Manager) AllFills() []model.Fill {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.fills))
	for id := range m.fills {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []model.Fill
	for _, id := range ids {
		out = append(out, m.fills[id]...)
	}
	m.mu.RUnlock()
	return out
}
