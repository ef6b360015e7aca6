package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// syncBus delivers synchronously to subscribers and records what the
// manager publishes without redelivering it.
type syncBus struct {
	mu        sync.Mutex
	handlers  map[model.Category][]eventbus.Handler
	published []model.Event
	// applied fills to refuse as if the queue were full
	rejectApplied int
}

func newSyncBus() *syncBus {
	return &syncBus{handlers: make(map[model.Category][]eventbus.Handler)}
}

func (b *syncBus) Subscribe(c model.Category, h eventbus.Handler) error {
	b.handlers[c] = append(b.handlers[c], h)
	return nil
}

func (b *syncBus) Publish(ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fe, ok := ev.(model.FillEvent); ok && fe.Applied && b.rejectApplied > 0 {
		b.rejectApplied--
		return eventbus.ErrQueueFull
	}
	b.published = append(b.published, ev)
	return nil
}

func (b *syncBus) deliver(t *testing.T, ev model.Event) {
	t.Helper()
	for _, h := range b.handlers[ev.Category()] {
		require.NoError(t, h(ev))
	}
}

func (b *syncBus) appliedFills() []model.FillEvent {
	var out []model.FillEvent
	for _, ev := range b.published {
		if fe, ok := ev.(model.FillEvent); ok && fe.Applied {
			out = append(out, fe)
		}
	}
	return out
}

type fakeBroker struct {
	connected bool
	placed    []model.Order
	cancelled []int64
	cancelAll int
	openReqs  int
	nextID    int64
}

func (f *fakeBroker) PlaceOrder(_ context.Context, o model.Order) (model.Order, error) {
	f.nextID++
	o.ID = f.nextID
	o.Status = model.OrderStatusAcknowledged
	f.placed = append(f.placed, o)
	return o, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id int64) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBroker) CancelAllOrders(context.Context) error {
	f.cancelAll++
	return nil
}

func (f *fakeBroker) ReqAllOpenOrders(context.Context) error {
	f.openReqs++
	return nil
}

func (f *fakeBroker) Connected() bool { return f.connected }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T) (*Manager, *syncBus, *fakeBroker) {
	t.Helper()
	bus := newSyncBus()
	b := &fakeBroker{connected: true}
	m, err := NewManager(b, bus, zap.NewNop())
	require.NoError(t, err)
	return m, bus, b
}

func ack(t *testing.T, bus *syncBus, id int64, size string) {
	t.Helper()
	bus.deliver(t, model.OrderEvent{Order: model.Order{
		ID:         id,
		Symbol:     "AMZN STK SMART",
		Size:       d(size),
		Type:       model.OrderTypeLimit,
		LimitPrice: d("100"),
		Status:     model.OrderStatusAcknowledged,
		Account:    "DU123",
	}})
}

func fill(t *testing.T, bus *syncBus, orderID int64, fillID, size, price string) {
	t.Helper()
	bus.deliver(t, model.FillEvent{Fill: model.Fill{
		FillID:    fillID,
		OrderID:   orderID,
		Symbol:    "AMZN STK SMART",
		Size:      d(size),
		Price:     d(price),
		Account:   "DU123",
		Timestamp: time.Now(),
	}})
}

func status(t *testing.T, bus *syncBus, orderID int64, s string) {
	t.Helper()
	bus.deliver(t, model.OrderStatusEvent{
		OrderID:      orderID,
		Status:       model.OrderStatusFromBroker(s),
		BrokerStatus: s,
		Timestamp:    time.Now(),
	})
}

func TestFill_PartialThenComplete(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	fill(t, bus, 1, "f1", "4", "101")
	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.Filled.Equal(d("4")))

	fill(t, bus, 1, "f2", "6", "99")
	o, _ = m.Order(1)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.Filled.Equal(d("10")))
	assert.True(t, o.AvgFillPrice.Equal(d("99.8")), o.AvgFillPrice.String())
	assert.False(t, o.FillTime.IsZero())

	assert.Len(t, bus.appliedFills(), 2)
	assert.Len(t, m.Fills(1), 2)
}

func TestFill_RedeliveryIgnored(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	fill(t, bus, 1, "f1", "4", "101")
	fill(t, bus, 1, "f2", "6", "99")
	fill(t, bus, 1, "f1", "4", "101")

	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.Filled.Equal(d("10")))
	assert.Len(t, bus.appliedFills(), 2)
}

func TestFill_SameFillIDOnDifferentOrdersIsDistinct(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")
	ack(t, bus, 2, "10")

	fill(t, bus, 1, "x", "1", "100")
	fill(t, bus, 2, "x", "1", "100")

	o1, _ := m.Order(1)
	o2, _ := m.Order(2)
	assert.True(t, o1.Filled.Equal(d("1")))
	assert.True(t, o2.Filled.Equal(d("1")))
}

func TestFill_OvershootTruncated(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "-10")

	fill(t, bus, 1, "f1", "-7", "50")
	fill(t, bus, 1, "f2", "-7", "50")
	fill(t, bus, 1, "f3", "-1", "50")

	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusFilled, o.Status)
	assert.True(t, o.Filled.Equal(d("-10")))

	applied := bus.appliedFills()
	require.Len(t, applied, 2)
	assert.True(t, applied[1].Size.Equal(d("-3")), "truncated copy carries the booked quantity")
}

func TestFill_RejectsWrongSideAndUnknownOrder(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	fill(t, bus, 1, "f1", "-2", "100")
	fill(t, bus, 42, "f2", "2", "100")

	o, _ := m.Order(1)
	assert.True(t, o.Filled.IsZero())
	assert.Equal(t, model.OrderStatusAcknowledged, o.Status)
	_, ok := m.Order(42)
	assert.False(t, ok, "unknown ids never create orders")
	assert.Empty(t, bus.appliedFills())
}

func TestFill_AppliedCopiesIgnored(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	bus.deliver(t, model.FillEvent{Fill: model.Fill{FillID: "f1", OrderID: 1, Size: d("5"), Price: d("1")}, Applied: true})
	o, _ := m.Order(1)
	assert.True(t, o.Filled.IsZero())
}

func TestStatus_CancelTransitions(t *testing.T) {
	m, bus, _ := setup(t)

	ack(t, bus, 1, "10")
	status(t, bus, 1, "Cancelled")
	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.False(t, o.CancelTime.IsZero())

	ack(t, bus, 2, "10")
	fill(t, bus, 2, "f1", "3", "100")
	status(t, bus, 2, "ApiCancelled")
	o, _ = m.Order(2)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.True(t, o.Filled.Equal(d("3")))

	ack(t, bus, 3, "10")
	fill(t, bus, 3, "f1", "10", "100")
	status(t, bus, 3, "Cancelled")
	o, _ = m.Order(3)
	assert.Equal(t, model.OrderStatusFilled, o.Status, "late cancel on a filled order is ignored")

	status(t, bus, 99, "Cancelled")
	_, ok := m.Order(99)
	assert.False(t, ok)
}

func TestStatus_NonCancelDoesNotMoveQuantity(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	bus.deliver(t, model.OrderStatusEvent{OrderID: 1, Status: model.OrderStatusFilled, Filled: d("10")})
	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusAcknowledged, o.Status)
	assert.True(t, o.Filled.IsZero())
}

func TestFill_AfterCancelBooksQuantityKeepsStatus(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")
	status(t, bus, 1, "Cancelled")
	fill(t, bus, 1, "f1", "2", "100")

	o, _ := m.Order(1)
	assert.Equal(t, model.OrderStatusCancelled, o.Status)
	assert.True(t, o.Filled.Equal(d("2")))
	assert.Len(t, bus.appliedFills(), 1)
}

func TestOrder_DuplicateAckKeepsLedger(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")
	fill(t, bus, 1, "f1", "4", "100")
	ack(t, bus, 1, "10")

	o, _ := m.Order(1)
	assert.True(t, o.Filled.Equal(d("4")))
}

func TestCommands(t *testing.T) {
	m, bus, b := setup(t)
	ctx := context.Background()

	o, err := m.Place(ctx, model.Order{Symbol: "AMZN STK SMART", Size: d("1"), Type: model.OrderTypeMarket})
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.ID)

	_, err = m.Place(ctx, model.Order{Symbol: "AMZN STK SMART", Type: model.OrderTypeMarket})
	assert.ErrorIs(t, err, model.ErrInvalidOrder)

	assert.ErrorIs(t, m.Cancel(ctx, 7), broker.ErrOrderNotFound)

	ack(t, bus, 1, "1")
	require.NoError(t, m.Cancel(ctx, 1))
	assert.Equal(t, []int64{1}, b.cancelled)

	fill(t, bus, 1, "f1", "1", "100")
	assert.ErrorIs(t, m.Cancel(ctx, 1), ErrOrderTerminal)

	require.NoError(t, m.CancelAll(ctx))
	assert.Equal(t, 1, b.cancelAll)

	b.connected = false
	_, err = m.Place(ctx, model.Order{Symbol: "AMZN STK SMART", Size: d("1"), Type: model.OrderTypeMarket})
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestQueriesReturnCopies(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 2, "10")
	ack(t, bus, 1, "5")
	fill(t, bus, 1, "f1", "5", "100")

	all := m.Orders()
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ID)

	all[0].Filled = d("999")
	o, _ := m.Order(1)
	assert.True(t, o.Filled.Equal(d("5")))

	open := m.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, int64(2), open[0].ID)
	assert.True(t, m.HasOpenOrders())
	assert.Len(t, m.AllFills(), 1)
}

func TestFill_RejectedAppliedFillIsRepublished(t *testing.T) {
	m, bus, _ := setup(t)
	ack(t, bus, 1, "10")

	bus.rejectApplied = 1
	fill(t, bus, 1, "f1", "4", "101")
	assert.Empty(t, bus.appliedFills())

	var logged bool
	for _, ev := range bus.published {
		if le, ok := ev.(model.LogEvent); ok && le.Level == model.LogError {
			logged = true
		}
	}
	assert.True(t, logged, "deferral is reported on the bus")

	fill(t, bus, 1, "f2", "6", "99")
	applied := bus.appliedFills()
	require.Len(t, applied, 2)
	assert.Equal(t, "f1", applied[0].FillID)
	assert.Equal(t, "f2", applied[1].FillID)
	assert.Equal(t, 0, m.RetryPending())
}

func TestReconciler_RetriesPendingAppliedFills(t *testing.T) {
	m, bus, b := setup(t)
	ack(t, bus, 1, "10")

	bus.rejectApplied = 2
	fill(t, bus, 1, "f1", "10", "100")
	assert.Empty(t, bus.appliedFills())

	r := NewReconciler(m, b, time.Hour, zap.NewNop())
	r.runOnce(context.Background()) // still rejected
	assert.Empty(t, bus.appliedFills())

	r.runOnce(context.Background())
	require.Len(t, bus.appliedFills(), 1)
}
