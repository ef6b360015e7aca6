// Package paper is an in-process simulated broker session. It accepts the
// same requests as a gateway session and answers them from a local book:
// market orders fill at the last price, limit and stop orders when the last
// price makes them marketable.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

var errClosed = errors.New("paper session closed")

type working struct {
	order  model.Order
	native contract.Native
	symbol string
}

type holding struct {
	native contract.Native
	size   decimal.Decimal
	avg    decimal.Decimal
}

// Session simulates a broker. Inbound notifications are delivered from the
// session's own goroutine, in request order.
type Session struct {
	logger  *zap.Logger
	account string
	cash    decimal.Decimal

	mu        sync.Mutex
	in        broker.Inbound
	queue     chan func(broker.Inbound)
	done      chan struct{}
	open      bool
	orders    map[int64]*working
	last      map[string]decimal.Decimal
	mktReqs   map[int64]string
	conIDs    map[string]int64
	holdings  map[string]*holding
	positions bool
}

// New creates a paper session for one account with the given starting cash.
func New(account string, cash decimal.Decimal, logger *zap.Logger) *Session {
	return &Session{
		logger:   logger.With(zap.String("component", "paper")),
		account:  account,
		cash:     cash,
		orders:   make(map[int64]*working),
		last:     make(map[string]decimal.Decimal),
		mktReqs:  make(map[int64]string),
		conIDs:   make(map[string]int64),
		holdings: make(map[string]*holding),
	}
}

func (s *Session) Dial(_ context.Context, endpoint string, _ broker.Credentials, in broker.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	s.in = in
	s.queue = make(chan func(broker.Inbound), 1024)
	s.done = make(chan struct{})
	s.open = true
	go s.loop(s.queue, s.done, in)
	s.logger.Info("paper.connected", zap.String("endpoint", endpoint))
	return nil
}

func (s *Session) loop(queue chan func(broker.Inbound), done chan struct{}, in broker.Inbound) {
	defer close(done)
	for fn := range queue {
		fn(in)
	}
}

// Close ends the session without reporting a disconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	close(s.queue)
	done := s.done
	s.mu.Unlock()
	<-done
	return nil
}

// Drop simulates the connection being lost: the session closes and reports
// OnDisconnected.
func (s *Session) Drop(cause error) {
	s.mu.Lock()
	in := s.in
	s.mu.Unlock()
	_ = s.Close()
	if in != nil {
		in.OnDisconnected(cause)
	}
}

// emit queues a notification; callers hold s.mu.
func (s *Session) emit(fn func(broker.Inbound)) error {
	if !s.open {
		return errClosed
	}
	select {
	case s.queue <- fn:
		return nil
	default:
		return fmt.Errorf("paper inbound queue full")
	}
}

func (s *Session) conID(symbol string) int64 {
	id, ok := s.conIDs[symbol]
	if !ok {
		id = int64(len(s.conIDs) + 1000)
		s.conIDs[symbol] = id
	}
	return id
}

func (s *Session) PlaceOrder(_ context.Context, n contract.Native, o model.Order) error {
	symbol, err := contract.ToCanonical(n)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ConID = s.conID(symbol)
	s.orders[o.ID] = &working{order: o, native: n, symbol: symbol}
	if err := s.emitStatus(s.orders[o.ID], "Submitted"); err != nil {
		return err
	}
	s.match(symbol)
	return nil
}

func (s *Session) emitStatus(w *working, status string) error {
	msg := broker.OrderStatusMsg{
		OrderID:      w.order.ID,
		Status:       status,
		Filled:       w.order.Filled.Abs(),
		Remaining:    w.order.Remaining().Abs(),
		AvgFillPrice: w.order.AvgFillPrice,
		Account:      s.account,
	}
	return s.emit(func(in broker.Inbound) { in.OnOrderStatus(msg) })
}

// match fills every working order on symbol that the last price makes
// marketable. Callers hold s.mu.
func (s *Session) match(symbol string) {
	px, ok := s.last[symbol]
	if !ok {
		return
	}
	ids := make([]int64, 0, len(s.orders))
	for id, w := range s.orders {
		if w.symbol == symbol {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		w := s.orders[id]
		if marketable(w.order, px) {
			s.execute(w, px)
			delete(s.orders, id)
		}
	}
}

func marketable(o model.Order, px decimal.Decimal) bool {
	buy := o.IsBuy()
	switch o.Type {
	case model.OrderTypeMarket:
		return true
	case model.OrderTypeLimit:
		if buy {
			return px.LessThanOrEqual(o.LimitPrice)
		}
		return px.GreaterThanOrEqual(o.LimitPrice)
	case model.OrderTypeStop:
		if buy {
			return px.GreaterThanOrEqual(o.StopPrice)
		}
		return px.LessThanOrEqual(o.StopPrice)
	case model.OrderTypeStopLimit:
		if buy {
			return px.GreaterThanOrEqual(o.StopPrice) && px.LessThanOrEqual(o.LimitPrice)
		}
		return px.LessThanOrEqual(o.StopPrice) && px.GreaterThanOrEqual(o.LimitPrice)
	}
	return false
}

func (s *Session) execute(w *working, px decimal.Decimal) {
	qty := w.order.Remaining()
	side := "BOT"
	if qty.IsNegative() {
		side = "SLD"
	}
	w.order.Filled = w.order.Size
	w.order.AvgFillPrice = px

	exec := broker.ExecutionMsg{
		ExecID:   uuid.NewString(),
		OrderID:  w.order.ID,
		Contract: w.native,
		Side:     side,
		Shares:   qty.Abs(),
		Price:    px,
		Time:     time.Now().UTC(),
		Exchange: w.native.Exchange,
		Account:  s.account,
	}
	_ = s.emit(func(in broker.Inbound) { in.OnExecution(exec) })
	_ = s.emitStatus(w, "Filled")

	h, ok := s.holdings[w.symbol]
	if !ok {
		h = &holding{native: w.native}
		s.holdings[w.symbol] = h
	}
	next := h.size.Add(qty)
	switch {
	case next.IsZero():
		h.avg = decimal.Zero
	case h.size.IsZero() || h.size.Sign() == qty.Sign():
		h.avg = h.avg.Mul(h.size.Abs()).Add(px.Mul(qty.Abs())).Div(next.Abs())
	case next.Sign() != h.size.Sign():
		h.avg = px
	}
	h.size = next
	s.cash = s.cash.Sub(qty.Mul(px))

	if s.positions {
		s.emitPosition(h)
	}
}

func (s *Session) emitPosition(h *holding) {
	msg := broker.PositionMsg{Account: s.account, Contract: h.native, Position: h.size, AvgCost: h.avg}
	_ = s.emit(func(in broker.Inbound) { in.OnPosition(msg) })
}

// SetPrice moves the last price of symbol, streams it to market data
// subscribers and fills any order it makes marketable.
func (s *Session) SetPrice(symbol string, px decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[symbol] = px
	for reqID, sub := range s.mktReqs {
		if sub == symbol {
			id := reqID
			_ = s.emit(func(in broker.Inbound) { in.OnTickPrice(id, broker.TickLast, px) })
		}
	}
	s.match(symbol)
}

func (s *Session) CancelOrder(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.orders[orderID]
	if !ok {
		return s.emit(func(in broker.Inbound) {
			in.OnError(orderID, 10148, "order cannot be cancelled: not working")
		})
	}
	delete(s.orders, orderID)
	return s.emitStatus(w, "Cancelled")
}

func (s *Session) CancelAllOrders(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.orders {
		delete(s.orders, id)
		if err := s.emitStatus(w, "Cancelled"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) ReqAllOpenOrders(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.orders {
		if err := s.emitStatus(w, "Submitted"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) ReqCurrentTime(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	return s.emit(func(in broker.Inbound) { in.OnCurrentTime(now) })
}

func (s *Session) ReqContractDetails(_ context.Context, reqID int64, n contract.Native) error {
	symbol, err := contract.ToCanonical(n)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ConID = s.conID(symbol)
	d := broker.ContractDetails{Contract: n, LongName: symbol, MinTick: decimal.RequireFromString("0.01"), Multiplier: decimal.NewFromInt(1)}
	return s.emit(func(in broker.Inbound) { in.OnContractDetails(reqID, d) })
}

// ReqOptionChain lists eleven strikes around the last price, five wide, and
// the next four weekly Friday expirations. The underlying must carry the
// contract id handed out by ReqContractDetails.
func (s *Session) ReqOptionChain(_ context.Context, reqID int64, underlying contract.Native) error {
	symbol, err := contract.ToCanonical(underlying)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.conIDs[symbol]; !ok || id != underlying.ConID {
		return s.emit(func(in broker.Inbound) { in.OnError(reqID, 200, "no security definition has been found") })
	}

	step := decimal.NewFromInt(5)
	atm := decimal.NewFromInt(100)
	if px, ok := s.last[symbol]; ok && px.IsPositive() {
		atm = px.Div(step).Round(0).Mul(step)
	}
	var strikes []decimal.Decimal
	for i := int64(-5); i <= 5; i++ {
		if k := atm.Add(step.Mul(decimal.NewFromInt(i))); k.IsPositive() {
			strikes = append(strikes, k)
		}
	}
	day := time.Now().UTC()
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}
	expirations := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		expirations = append(expirations, day.AddDate(0, 0, 7*i).Format("20060102"))
	}

	c := broker.OptionChain{
		Exchange:     underlying.Exchange,
		TradingClass: underlying.Symbol,
		Multiplier:   decimal.NewFromInt(100),
		Expirations:  expirations,
		Strikes:      strikes,
	}
	if err := s.emit(func(in broker.Inbound) { in.OnOptionChain(reqID, c) }); err != nil {
		return err
	}
	return s.emit(func(in broker.Inbound) { in.OnOptionChainEnd(reqID) })
}

func (s *Session) ReqMarketData(_ context.Context, reqID int64, n contract.Native) error {
	symbol, err := contract.ToCanonical(n)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mktReqs[reqID] = symbol
	if px, ok := s.last[symbol]; ok {
		return s.emit(func(in broker.Inbound) { in.OnTickPrice(reqID, broker.TickLast, px) })
	}
	return nil
}

func (s *Session) CancelMarketData(_ context.Context, reqID int64) error {
	s.mu.Lock()
	delete(s.mktReqs, reqID)
	s.mu.Unlock()
	return nil
}

func (s *Session) ReqMarketDepth(context.Context, int64, contract.Native, int) error { return nil }

func (s *Session) CancelMarketDepth(context.Context, int64) error { return nil }

func (s *Session) ReqAccountSummary(_ context.Context, reqID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cash := s.cash.String()
	account := s.account
	return s.emit(func(in broker.Inbound) {
		in.OnAccountValue(reqID, account, "TotalCashValue", cash, "USD")
		in.OnAccountValue(reqID, account, "AvailableFunds", cash, "USD")
		in.OnAccountSummaryEnd(reqID)
	})
}

func (s *Session) CancelAccountSummary(context.Context, int64) error { return nil }

func (s *Session) ReqPositions(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = true
	for _, h := range s.holdings {
		s.emitPosition(h)
	}
	return nil
}

func (s *Session) CancelPositions(context.Context) error {
	s.mu.Lock()
	s.positions = false
	s.mu.Unlock()
	return nil
}

func (s *Session) ReqHistoricalData(_ context.Context, reqID int64, n contract.Native, req broker.HistoricalRequest) error {
	symbol, err := contract.ToCanonical(n)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var bars []model.Bar
	if px, ok := s.last[symbol]; ok {
		end := req.End
		if end.IsZero() {
			end = time.Now().UTC()
		}
		bars = append(bars, model.Bar{Start: end.Add(-req.BarSize), Open: px, High: px, Low: px, Close: px})
	}
	return s.emit(func(in broker.Inbound) { in.OnHistoricalData(reqID, bars, true) })
}

func (s *Session) ReqHistoricalTicks(_ context.Context, reqID int64, _ contract.Native, _ time.Time, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emit(func(in broker.Inbound) { in.OnHistoricalTicks(reqID, nil, true) })
}

var _ broker.Session = (*Session)(nil)
