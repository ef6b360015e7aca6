// Package position derives positions and P&L from applied fills and
// reconciles them against broker position snapshots.
package position

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Subscriber is the part of an event bus the manager consumes from.
type Subscriber interface {
	Subscribe(c model.Category, h eventbus.Handler) error
}

type reservation struct {
	key model.PositionKey
	qty decimal.Decimal
}

// Manager owns the position ledger. Fills, snapshots and order updates come
// from the message bus and ticks from the data bus, so every mutation takes
// the lock.
type Manager struct {
	logger *zap.Logger

	mu        sync.RWMutex
	positions map[model.PositionKey]model.Position
	// open sell quantity per order, reserved against the position
	reserved map[int64]reservation
}

// NewManager subscribes a manager to the message bus and, when given, the
// market data bus.
func NewManager(msgBus, dataBus Subscriber, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:    logger.With(zap.String("component", "position_manager")),
		positions: make(map[model.PositionKey]model.Position),
		reserved:  make(map[int64]reservation),
	}
	if err := msgBus.Subscribe(model.CategoryFill, m.handleFill); err != nil {
		return nil, fmt.Errorf("subscribe fills: %w", err)
	}
	if err := msgBus.Subscribe(model.CategoryPosition, m.handleSnapshot); err != nil {
		return nil, fmt.Errorf("subscribe positions: %w", err)
	}
	if err := msgBus.Subscribe(model.CategoryOrder, m.handleOrder); err != nil {
		return nil, fmt.Errorf("subscribe orders: %w", err)
	}
	if dataBus != nil {
		if err := dataBus.Subscribe(model.CategoryTick, m.handleTick); err != nil {
			return nil, fmt.Errorf("subscribe ticks: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) handleFill(ev model.Event) error {
	fe, ok := ev.(model.FillEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	// only fills the order manager has accepted
	if !fe.Applied {
		return nil
	}
	m.ApplyFill(fe.Fill)
	return nil
}

// ApplyFill books one fill against its (account, symbol) position.
//
// Extending fills blend the average cost by size. Reducing fills realize
// (price - avg) x closed x sign and keep the average. A fill that crosses
// zero realizes the whole prior position at the fill price and opens the
// residual at that price.
func (m *Manager) ApplyFill(f model.Fill) {
	if f.Size.IsZero() {
		return
	}
	key := model.PositionKey{Account: f.Account, Symbol: f.Symbol}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[key]
	if !ok {
		p = model.Position{Account: f.Account, Symbol: f.Symbol}
	}

	size, q, px := p.Size, f.Size, f.Price
	switch {
	case size.IsZero() || size.Sign() == q.Sign():
		next := size.Add(q)
		p.AverageCost = p.AverageCost.Mul(size.Abs()).Add(px.Mul(q.Abs())).Div(next.Abs())
		p.Size = next

	case q.Abs().LessThanOrEqual(size.Abs()):
		closed := q.Abs()
		p.RealizedPnL = p.RealizedPnL.Add(px.Sub(p.AverageCost).Mul(closed).Mul(sign(size)))
		p.Size = size.Add(q)
		if p.Size.IsZero() {
			p.AverageCost = decimal.Zero
		}

	default:
		p.RealizedPnL = p.RealizedPnL.Add(px.Sub(p.AverageCost).Mul(size.Abs()).Mul(sign(size)))
		p.Size = size.Add(q)
		p.AverageCost = px
		m.logger.Info("position.crossed_zero",
			zap.String("account", key.Account),
			zap.String("symbol", key.Symbol),
			zap.String("new_size", p.Size.String()))
	}

	p.UnrealizedPnL = unrealized(p)
	p.UpdateTime = f.Timestamp
	m.positions[key] = p
	metrics.PositionUpdates.WithLabelValues("fill").Inc()
}

func (m *Manager) handleSnapshot(ev model.Event) error {
	pe, ok := ev.(model.PositionEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	m.ApplySnapshot(pe)
	return nil
}

// ApplySnapshot replaces size, average cost and realized P&L with the
// broker's figures in one step.
func (m *Manager) ApplySnapshot(pe model.PositionEvent) {
	key := model.PositionKey{Account: pe.Account, Symbol: pe.Symbol}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.positions[key]
	p := model.Position{
		Account:     pe.Account,
		Symbol:      pe.Symbol,
		Size:        pe.Size,
		AverageCost: pe.AverageCost,
		RealizedPnL: pe.RealizedPnL,
		LastPrice:   prev.LastPrice,
		UpdateTime:  pe.Timestamp,
	}
	if p.Size.IsZero() {
		p.AverageCost = decimal.Zero
	}
	if p.LastPrice.IsPositive() {
		p.UnrealizedPnL = unrealized(p)
	} else {
		p.UnrealizedPnL = pe.UnrealizedPnL
	}

	if !prev.Size.Equal(p.Size) && !prev.UpdateTime.IsZero() {
		m.logger.Info("position.snapshot_override",
			zap.String("account", key.Account),
			zap.String("symbol", key.Symbol),
			zap.String("local_size", prev.Size.String()),
			zap.String("broker_size", p.Size.String()))
	}
	m.positions[key] = p
	metrics.PositionUpdates.WithLabelValues("snapshot").Inc()
}

func (m *Manager) handleTick(ev model.Event) error {
	te, ok := ev.(model.TickEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	mark, ok := te.Mark()
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.positions {
		if key.Symbol != te.Symbol {
			continue
		}
		p.LastPrice = mark
		p.UnrealizedPnL = unrealized(p)
		m.positions[key] = p
	}
	return nil
}

// handleOrder keeps the open sell quantity of each order reserved.
func (m *Manager) handleOrder(ev model.Event) error {
	oe, ok := ev.(model.OrderEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T", ev)
	}
	if oe.Size.IsPositive() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	open := oe.Remaining().Abs()
	if oe.Status.Terminal() || open.IsZero() {
		delete(m.reserved, oe.ID)
		return nil
	}
	m.reserved[oe.ID] = reservation{
		key: model.PositionKey{Account: oe.Account, Symbol: oe.Symbol},
		qty: open,
	}
	return nil
}

func (m *Manager) frozen(key model.PositionKey) decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.reserved {
		if r.key == key {
			total = total.Add(r.qty)
		}
	}
	return total
}

// Position returns a copy of one position.
func (m *Manager) Position(account, symbol string) (model.Position, bool) {
	key := model.PositionKey{Account: account, Symbol: symbol}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[key]
	if ok {
		p.FrozenSize = m.frozen(key)
	}
	return p, ok
}

// Positions returns every position, including flat ones, sorted by account
// and symbol.
func (m *Manager) Positions() []model.Position {
	m.mu.RLock()
	out := make([]model.Position, 0, len(m.positions))
	for key, p := range m.positions {
		p.FrozenSize = m.frozen(key)
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// unrealized is (last - avg) x signed size, zero when flat or unmarked.
func unrealized(p model.Position) decimal.Decimal {
	if p.Size.IsZero() || !p.LastPrice.IsPositive() {
		return decimal.Zero
	}
	return p.LastPrice.Sub(p.AverageCost).Mul(p.Size)
}

func sign(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(d.Sign()))
}
