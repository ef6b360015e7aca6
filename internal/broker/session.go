package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Credentials authenticate a session with the broker gateway.
type Credentials struct {
	ClientID  string `json:"client_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// HistoricalRequest describes a bar request ending at End (zero means now).
type HistoricalRequest struct {
	End      time.Time
	Duration time.Duration
	BarSize  time.Duration
	What     string // TRADES, MIDPOINT, BID_ASK
	RTHOnly  bool
}

// Session is one wire connection to a brokerage. Implementations deliver
// every inbound message to the Inbound passed to Dial, from their own
// goroutine, and report a lost connection with OnDisconnected. A session
// never reconnects on its own.
type Session interface {
	Dial(ctx context.Context, endpoint string, creds Credentials, in Inbound) error
	Close() error

	PlaceOrder(ctx context.Context, n contract.Native, o model.Order) error
	CancelOrder(ctx context.Context, orderID int64) error
	CancelAllOrders(ctx context.Context) error
	ReqAllOpenOrders(ctx context.Context) error
	ReqCurrentTime(ctx context.Context) error

	ReqContractDetails(ctx context.Context, reqID int64, n contract.Native) error
	ReqOptionChain(ctx context.Context, reqID int64, underlying contract.Native) error
	ReqMarketData(ctx context.Context, reqID int64, n contract.Native) error
	CancelMarketData(ctx context.Context, reqID int64) error
	ReqMarketDepth(ctx context.Context, reqID int64, n contract.Native, rows int) error
	CancelMarketDepth(ctx context.Context, reqID int64) error
	ReqAccountSummary(ctx context.Context, reqID int64) error
	CancelAccountSummary(ctx context.Context, reqID int64) error
	ReqPositions(ctx context.Context) error
	CancelPositions(ctx context.Context) error
	ReqHistoricalData(ctx context.Context, reqID int64, n contract.Native, req HistoricalRequest) error
	ReqHistoricalTicks(ctx context.Context, reqID int64, n contract.Native, start time.Time, count int) error
}

// TickField identifies which side of the book a price or size tick updates.
type TickField int

const (
	TickBid TickField = iota
	TickAsk
	TickLast
)

// OrderStatusMsg is the broker's view of one order.
type OrderStatusMsg struct {
	OrderID      int64
	Status       string
	Filled       decimal.Decimal
	Remaining    decimal.Decimal
	AvgFillPrice decimal.Decimal
	Account      string
}

// ExecutionMsg is one execution report. Shares is unsigned; Side is BOT/SLD
// (BUY/SELL is also accepted).
type ExecutionMsg struct {
	ExecID     string
	OrderID    int64
	Contract   contract.Native
	Side       string
	Shares     decimal.Decimal
	Price      decimal.Decimal
	Time       time.Time
	Exchange   string
	Account    string
	Commission decimal.NullDecimal
}

// PositionMsg is one row of a broker position push.
type PositionMsg struct {
	Account       string
	Contract      contract.Native
	Position      decimal.Decimal
	AvgCost       decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// ContractDetails answers a contract details request.
type ContractDetails struct {
	Contract   contract.Native
	LongName   string
	MinTick    decimal.Decimal
	Multiplier decimal.Decimal
}

// OptionChain is one exchange's option parameters for an underlying.
// Expirations are YYYYMMDD.
type OptionChain struct {
	Exchange     string
	TradingClass string
	Multiplier   decimal.Decimal
	Expirations  []string
	Strikes      []decimal.Decimal
}

// Inbound is the notification surface a Session drives.
type Inbound interface {
	OnNextValidID(orderID int64)
	OnOrderStatus(msg OrderStatusMsg)
	OnExecution(msg ExecutionMsg)
	OnPosition(msg PositionMsg)
	OnTickPrice(reqID int64, field TickField, price decimal.Decimal)
	OnTickSize(reqID int64, field TickField, size decimal.Decimal)
	OnDepth(reqID int64, level model.DepthLevel)
	OnRealTimeBar(reqID int64, bar model.Bar)
	OnHistoricalData(reqID int64, bars []model.Bar, done bool)
	OnHistoricalTicks(reqID int64, ticks []model.HistoricalTick, done bool)
	OnAccountValue(reqID int64, account, key, value, currency string)
	OnAccountSummaryEnd(reqID int64)
	OnContractDetails(reqID int64, d ContractDetails)
	OnOptionChain(reqID int64, c OptionChain)
	OnOptionChainEnd(reqID int64)
	OnCurrentTime(t time.Time)
	OnError(reqID int64, code int, msg string)
	OnDisconnected(err error)
}
