package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/pkg/model"
)

// OnNextValidID keeps local order ids above what the broker has seen.
func (a *Adapter) OnNextValidID(orderID int64) {
	a.orderIDs.Advance(orderID - 1)
	a.logger.Debug("broker.next_valid_id", zap.Int64("order_id", orderID))
}

func (a *Adapter) OnOrderStatus(msg OrderStatusMsg) {
	status := model.OrderStatusFromBroker(msg.Status)
	a.mu.Lock()
	o, known := a.orders[msg.OrderID]
	a.mu.Unlock()

	ev := model.OrderStatusEvent{
		OrderID:      msg.OrderID,
		Status:       status,
		BrokerStatus: msg.Status,
		Filled:       msg.Filled,
		Remaining:    msg.Remaining,
		AvgFillPrice: msg.AvgFillPrice,
		Account:      msg.Account,
		Timestamp:    time.Now().UTC(),
	}
	if known {
		ev.Symbol = o.Symbol
		if ev.Account == "" {
			ev.Account = o.Account
		}
	}
	a.publish(ev)
}

func (a *Adapter) OnExecution(msg ExecutionMsg) {
	symbol, err := a.master.Resolve(msg.Contract)
	if err != nil {
		a.mu.Lock()
		o, ok := a.orders[msg.OrderID]
		a.mu.Unlock()
		if !ok {
			a.logger.Warn("broker.execution_unresolved",
				zap.String("exec_id", msg.ExecID),
				zap.Int64("order_id", msg.OrderID),
				zap.Error(err))
			a.publish(model.NewLogEvent(model.LogWarn, "broker", "execution "+msg.ExecID+" has no resolvable instrument", err))
			return
		}
		symbol = o.Symbol
	}

	size := msg.Shares.Abs()
	switch strings.ToUpper(msg.Side) {
	case "SLD", "SELL":
		size = size.Neg()
	case "BOT", "BUY":
	default:
		a.logger.Warn("broker.execution_bad_side", zap.String("exec_id", msg.ExecID), zap.String("side", msg.Side))
		return
	}

	account := msg.Account
	if account == "" {
		account = a.cfg.Account
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	a.publish(model.FillEvent{Fill: model.Fill{
		FillID:     msg.ExecID,
		OrderID:    msg.OrderID,
		Symbol:     symbol,
		Price:      msg.Price,
		Size:       size,
		Timestamp:  ts,
		Exchange:   msg.Exchange,
		Commission: msg.Commission,
		Account:    account,
	}})
}

func (a *Adapter) OnPosition(msg PositionMsg) {
	symbol, err := a.master.Resolve(msg.Contract)
	if err != nil {
		a.logger.Warn("broker.position_unresolved", zap.Int64("con_id", msg.Contract.ConID), zap.Error(err))
		return
	}
	account := msg.Account
	if account == "" {
		account = a.cfg.Account
	}
	a.publish(model.PositionEvent{
		Account:       account,
		Symbol:        symbol,
		Size:          msg.Position,
		AverageCost:   msg.AvgCost,
		RealizedPnL:   msg.RealizedPnL,
		UnrealizedPnL: msg.UnrealizedPnL,
		Timestamp:     time.Now().UTC(),
	})
}

// OnTickPrice and OnTickSize fold into one per-request tick snapshot, which is
// published after every update.
func (a *Adapter) OnTickPrice(reqID int64, field TickField, price decimal.Decimal) {
	a.updateTick(reqID, func(t *model.TickEvent) {
		switch field {
		case TickBid:
			t.Type = model.TickTypeQuote
			t.BidPrice = price
		case TickAsk:
			t.Type = model.TickTypeQuote
			t.AskPrice = price
		case TickLast:
			t.Type = model.TickTypeTrade
			t.Price = price
		}
	})
}

func (a *Adapter) OnTickSize(reqID int64, field TickField, size decimal.Decimal) {
	a.updateTick(reqID, func(t *model.TickEvent) {
		switch field {
		case TickBid:
			t.Type = model.TickTypeQuote
			t.BidSize = size
		case TickAsk:
			t.Type = model.TickTypeQuote
			t.AskSize = size
		case TickLast:
			t.Type = model.TickTypeTrade
			t.Size = size
		}
	})
}

func (a *Adapter) updateTick(reqID int64, apply func(*model.TickEvent)) {
	a.mu.Lock()
	t, ok := a.ticks[reqID]
	if !ok {
		a.mu.Unlock()
		a.logger.Debug("broker.tick_unknown_request", zap.Int64("req_id", reqID))
		return
	}
	apply(t)
	t.Timestamp = time.Now().UTC()
	snapshot := *t
	a.mu.Unlock()

	a.publishData(snapshot)
}

func (a *Adapter) OnDepth(reqID int64, level model.DepthLevel) {
	a.mu.Lock()
	symbol, ok := a.depth[reqID]
	a.mu.Unlock()
	if !ok {
		return
	}
	lvl := level
	a.publishData(model.TickEvent{
		Symbol:    symbol,
		Type:      model.TickTypeDepth,
		Depth:     &lvl,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Adapter) OnRealTimeBar(reqID int64, bar model.Bar) {
	a.mu.Lock()
	symbol, ok := a.mktData[reqID]
	a.mu.Unlock()
	if !ok {
		return
	}
	a.publishData(model.BarEvent{Symbol: symbol, Interval: 5 * time.Second, Bar: bar, Timestamp: time.Now().UTC()})
}

func (a *Adapter) OnHistoricalData(reqID int64, bars []model.Bar, done bool) {
	symbol, ok := a.historicalSymbol(reqID, done)
	if !ok {
		a.logger.Debug("broker.historical_unknown_request", zap.Int64("req_id", reqID))
		return
	}
	a.publish(model.HistoricalEvent{
		RequestID: reqID,
		Symbol:    symbol,
		Bars:      append([]model.Bar(nil), bars...),
		Done:      done,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Adapter) OnHistoricalTicks(reqID int64, ticks []model.HistoricalTick, done bool) {
	symbol, ok := a.historicalSymbol(reqID, done)
	if !ok {
		return
	}
	a.publish(model.HistoricalEvent{
		RequestID: reqID,
		Symbol:    symbol,
		Ticks:     append([]model.HistoricalTick(nil), ticks...),
		Done:      done,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Adapter) historicalSymbol(reqID int64, done bool) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	symbol, ok := a.historical[reqID]
	if ok && done {
		delete(a.historical, reqID)
	}
	return symbol, ok
}

// OnAccountValue accumulates one summary value; OnAccountSummaryEnd
// publishes the merged set.
func (a *Adapter) OnAccountValue(reqID int64, account, key, value, currency string) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		a.logger.Debug("broker.account_value_skipped", zap.String("key", key), zap.String("value", value))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if reqID != a.accountReqID || a.accountReqID == 0 {
		return
	}
	if a.accountPending == nil {
		a.accountPending = &model.AccountEvent{Account: account, Values: make(map[string]decimal.Decimal)}
	}
	if currency != "" {
		a.accountPending.Currency = currency
	}
	a.accountPending.Values[key] = v
}

func (a *Adapter) OnAccountSummaryEnd(reqID int64) {
	a.mu.Lock()
	if reqID != a.accountReqID || a.accountPending == nil {
		a.mu.Unlock()
		return
	}
	ev := *a.accountPending
	a.accountPending = nil
	a.mu.Unlock()

	if ev.Account == "" {
		ev.Account = a.cfg.Account
	}
	ev.Timestamp = time.Now().UTC()
	a.publish(ev)
}

func (a *Adapter) OnContractDetails(reqID int64, d ContractDetails) {
	a.mu.Lock()
	symbol, ok := a.contractReqs[reqID]
	delete(a.contractReqs, reqID)
	a.mu.Unlock()

	if !ok {
		var err error
		if symbol, err = a.master.Resolve(d.Contract); err != nil {
			a.logger.Debug("broker.contract_unresolved", zap.Int64("req_id", reqID), zap.Error(err))
			return
		}
	}
	if d.Contract.ConID != 0 {
		a.master.Add(symbol, d.Contract.ConID)
	}
	a.publish(model.ContractEvent{
		RequestID:  reqID,
		ConID:      d.Contract.ConID,
		Symbol:     symbol,
		LongName:   d.LongName,
		MinTick:    d.MinTick,
		Multiplier: d.Multiplier,
		Timestamp:  time.Now().UTC(),
	})
}

func (a *Adapter) OnOptionChain(reqID int64, c OptionChain) {
	a.mu.Lock()
	symbol, ok := a.optionReqs[reqID]
	a.mu.Unlock()
	if !ok {
		a.logger.Debug("broker.option_chain_unknown_request", zap.Int64("req_id", reqID))
		return
	}
	a.publish(model.OptionChainEvent{
		RequestID:    reqID,
		Symbol:       symbol,
		Exchange:     c.Exchange,
		TradingClass: c.TradingClass,
		Multiplier:   c.Multiplier,
		Expirations:  c.Expirations,
		Strikes:      c.Strikes,
		Timestamp:    time.Now().UTC(),
	})
}

func (a *Adapter) OnOptionChainEnd(reqID int64) {
	a.untrackOptionChain(reqID)
}

func (a *Adapter) OnCurrentTime(t time.Time) {
	a.publish(model.TimerEvent{ServerTime: t, Timestamp: time.Now().UTC()})
}

// OnError surfaces broker error messages as Log events. Codes 2100-2199 are
// informational farm-status notices.
func (a *Adapter) OnError(reqID int64, code int, msg string) {
	level := model.LogError
	if code >= 2100 && code < 2200 {
		level = model.LogInfo
	}
	a.logger.Warn("broker.error", zap.Int64("req_id", reqID), zap.Int("code", code), zap.String("msg", msg))
	if level == model.LogError && reqID > 0 {
		a.untrackOptionChain(reqID)
	}
	a.publish(model.NewLogEvent(level, "broker", fmt.Sprintf("code %d req %d: %s", code, reqID, msg), nil))
}
