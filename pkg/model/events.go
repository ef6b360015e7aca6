package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickType distinguishes the kind of market data a TickEvent carries.
type TickType int

const (
	TickTypeTrade TickType = iota
	TickTypeQuote
	TickTypeDepth
)

func (t TickType) String() string {
	switch t {
	case TickTypeQuote:
		return "Quote"
	case TickTypeDepth:
		return "Depth"
	default:
		return "Trade"
	}
}

// DepthLevel is one row of a market depth update.
type DepthLevel struct {
	Position  int             `json:"position"`
	Bid       bool            `json:"bid"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Operation int             `json:"operation"` // 0 insert, 1 update, 2 delete
}

// TickEvent is a market data update for one instrument.
type TickEvent struct {
	Symbol    string          `json:"symbol"`
	Type      TickType        `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Depth     *DepthLevel     `json:"depth,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (TickEvent) Category() Category { return CategoryTick }
func (e TickEvent) Time() time.Time  { return e.Timestamp }

// Mark returns the best available price for marking a position: the last
// trade if present, otherwise the bid/ask midpoint.
func (e TickEvent) Mark() (decimal.Decimal, bool) {
	if e.Price.IsPositive() {
		return e.Price, true
	}
	if e.BidPrice.IsPositive() && e.AskPrice.IsPositive() {
		return e.BidPrice.Add(e.AskPrice).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

// Bar is an OHLCV aggregate.
type Bar struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// BarEvent is a real-time bar.
type BarEvent struct {
	Symbol    string        `json:"symbol"`
	Interval  time.Duration `json:"interval"`
	Bar       Bar           `json:"bar"`
	Timestamp time.Time     `json:"timestamp"`
}

func (BarEvent) Category() Category { return CategoryBar }
func (e BarEvent) Time() time.Time  { return e.Timestamp }

// OrderEvent carries a snapshot of a local order.
type OrderEvent struct {
	Order
	Timestamp time.Time `json:"timestamp"`
}

func (OrderEvent) Category() Category { return CategoryOrder }
func (e OrderEvent) Time() time.Time  { return e.Timestamp }

// FillEvent is an execution. Fills from the broker have Applied=false; the
// order manager republishes each accepted fill with Applied=true and the
// quantity it actually booked.
type FillEvent struct {
	Fill
	Applied bool `json:"applied"`
}

func (FillEvent) Category() Category { return CategoryFill }
func (e FillEvent) Time() time.Time  { return e.Timestamp }

// CancelEvent records that a cancel request was sent for an order.
type CancelEvent struct {
	OrderID   int64     `json:"order_id"`
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

func (CancelEvent) Category() Category { return CategoryCancel }
func (e CancelEvent) Time() time.Time  { return e.Timestamp }

// OrderStatusEvent is a broker-side status notification for an order.
type OrderStatusEvent struct {
	OrderID      int64           `json:"order_id"`
	Status       OrderStatus     `json:"status"`
	BrokerStatus string          `json:"broker_status"`
	Symbol       string          `json:"symbol,omitempty"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Account      string          `json:"account,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

func (OrderStatusEvent) Category() Category { return CategoryOrderStatus }
func (e OrderStatusEvent) Time() time.Time  { return e.Timestamp }

// AccountEvent is a merged set of account summary values.
type AccountEvent struct {
	Account   string                     `json:"account"`
	Currency  string                     `json:"currency"`
	Values    map[string]decimal.Decimal `json:"values"`
	Timestamp time.Time                  `json:"timestamp"`
}

func (AccountEvent) Category() Category { return CategoryAccount }
func (e AccountEvent) Time() time.Time  { return e.Timestamp }

// PositionEvent is an authoritative position snapshot from the broker.
type PositionEvent struct {
	Account       string          `json:"account"`
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Timestamp     time.Time       `json:"timestamp"`
}

func (PositionEvent) Category() Category { return CategoryPosition }
func (e PositionEvent) Time() time.Time  { return e.Timestamp }

// ContractEvent describes an instrument resolved by the broker.
type ContractEvent struct {
	RequestID  int64           `json:"request_id"`
	ConID      int64           `json:"con_id"`
	Symbol     string          `json:"symbol"`
	LongName   string          `json:"long_name,omitempty"`
	MinTick    decimal.Decimal `json:"min_tick"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (ContractEvent) Category() Category { return CategoryContract }
func (e ContractEvent) Time() time.Time  { return e.Timestamp }

// OptionChainEvent lists the expirations and strikes listed for an
// underlying on one exchange. A request yields one event per exchange.
type OptionChainEvent struct {
	RequestID    int64             `json:"request_id"`
	Symbol       string            `json:"symbol"`
	Exchange     string            `json:"exchange"`
	TradingClass string            `json:"trading_class"`
	Multiplier   decimal.Decimal   `json:"multiplier"`
	Expirations  []string          `json:"expirations"`
	Strikes      []decimal.Decimal `json:"strikes"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (OptionChainEvent) Category() Category { return CategoryContract }
func (e OptionChainEvent) Time() time.Time  { return e.Timestamp }

// HistoricalTick is one trade from a historical tick request.
type HistoricalTick struct {
	Time  time.Time       `json:"time"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// HistoricalEvent is a batch of historical data answering one request.
type HistoricalEvent struct {
	RequestID int64            `json:"request_id"`
	Symbol    string           `json:"symbol"`
	Bars      []Bar            `json:"bars,omitempty"`
	Ticks     []HistoricalTick `json:"ticks,omitempty"`
	Done      bool             `json:"done"`
	Timestamp time.Time        `json:"timestamp"`
}

func (HistoricalEvent) Category() Category { return CategoryHistorical }
func (e HistoricalEvent) Time() time.Time  { return e.Timestamp }

// TimerEvent carries the broker server time (heartbeat reply).
type TimerEvent struct {
	ServerTime time.Time `json:"server_time"`
	Timestamp  time.Time `json:"timestamp"`
}

func (TimerEvent) Category() Category { return CategoryTimer }
func (e TimerEvent) Time() time.Time  { return e.Timestamp }

// LogLevel is the severity of a LogEvent.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
	LogFatal
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	case LogFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LogEvent is an operational message published on the bus.
type LogEvent struct {
	Level     LogLevel  `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (LogEvent) Category() Category { return CategoryLog }
func (e LogEvent) Time() time.Time  { return e.Timestamp }

// NewLogEvent builds a LogEvent stamped with the current time.
func NewLogEvent(level LogLevel, source, msg string, err error) LogEvent {
	ev := LogEvent{Level: level, Source: source, Message: msg, Timestamp: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
