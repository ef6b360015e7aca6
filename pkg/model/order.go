package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the execution style of an order.
type OrderType int

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

// OrderTypeFromString accepts both the broker codes (MKT, LMT, STP, STP LMT)
// and the long names used by the command API.
func OrderTypeFromString(s string) OrderType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MKT", "MARKET":
		return OrderTypeMarket
	case "LMT", "LIMIT":
		return OrderTypeLimit
	case "STP", "STOP":
		return OrderTypeStop
	case "STP LMT", "STOP_LIMIT", "STOPLIMIT":
		return OrderTypeStopLimit
	default:
		return OrderTypeUnknown
	}
}

// Code returns the broker order type code.
func (t OrderType) Code() string {
	switch t {
	case OrderTypeMarket:
		return "MKT"
	case OrderTypeLimit:
		return "LMT"
	case OrderTypeStop:
		return "STP"
	case OrderTypeStopLimit:
		return "STP LMT"
	default:
		return ""
	}
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	case OrderTypeStop:
		return "Stop"
	case OrderTypeStopLimit:
		return "StopLimit"
	default:
		return "Unknown"
	}
}

// TimeInForce is the lifetime instruction sent with an order.
type TimeInForce int

const (
	TimeInForceDay TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
)

// TimeInForceFromString defaults to DAY for anything unrecognised.
func TimeInForceFromString(s string) TimeInForce {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GTC":
		return TimeInForceGTC
	case "IOC":
		return TimeInForceIOC
	case "FOK":
		return TimeInForceFOK
	default:
		return TimeInForceDay
	}
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	default:
		return "DAY"
	}
}

// OrderStatus is the local lifecycle state of an order.
type OrderStatus int

const (
	OrderStatusNone OrderStatus = iota
	OrderStatusAcknowledged
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusAcknowledged:
		return "Acknowledged"
	case OrderStatusPartiallyFilled:
		return "PartiallyFilled"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCancelled:
		return "Cancelled"
	default:
		return "None"
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// OrderStatusFromBroker maps a broker status string onto the local lifecycle.
// Pending and working states all collapse to Acknowledged.
func OrderStatusFromBroker(s string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pendingsubmit", "presubmitted", "submitted", "pendingcancel", "acknowledged", "working":
		return OrderStatusAcknowledged
	case "partiallyfilled":
		return OrderStatusPartiallyFilled
	case "filled":
		return OrderStatusFilled
	case "cancelled", "canceled", "apicancelled", "inactive", "rejected":
		return OrderStatusCancelled
	default:
		return OrderStatusNone
	}
}

// Order is a locally issued order. Size is signed: negative means sell.
type Order struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Size         decimal.Decimal `json:"size"`
	Type         OrderType       `json:"type"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	TimeInForce  TimeInForce     `json:"time_in_force"`
	Status       OrderStatus     `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	CreateTime   time.Time       `json:"create_time"`
	FillTime     time.Time       `json:"fill_time,omitempty"`
	CancelTime   time.Time       `json:"cancel_time,omitempty"`
	Account      string          `json:"account"`
	Source       string          `json:"source,omitempty"`
}

// IsBuy reports whether the order adds long exposure.
func (o Order) IsBuy() bool {
	return o.Size.IsPositive()
}

// Remaining returns the signed quantity still open.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.Filled)
}

// Validate checks the local preconditions for sending an order.
func (o Order) Validate() error {
	switch {
	case o.Symbol == "":
		return errInvalid("symbol is required")
	case o.Size.IsZero():
		return errInvalid("size must be non-zero")
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !o.LimitPrice.IsPositive() {
			return errInvalid("limit order requires a positive limit price")
		}
	case OrderTypeStop:
		if !o.StopPrice.IsPositive() {
			return errInvalid("stop order requires a positive stop price")
		}
	case OrderTypeStopLimit:
		if !o.LimitPrice.IsPositive() || !o.StopPrice.IsPositive() {
			return errInvalid("stop-limit order requires positive limit and stop prices")
		}
	default:
		return errInvalid("unknown order type")
	}
	return nil
}

// Fill is a single execution reported by the broker.
type Fill struct {
	FillID     string              `json:"fill_id"`
	OrderID    int64               `json:"order_id"`
	Symbol     string              `json:"symbol"`
	Price      decimal.Decimal     `json:"price"`
	Size       decimal.Decimal     `json:"size"`
	Timestamp  time.Time           `json:"timestamp"`
	Exchange   string              `json:"exchange,omitempty"`
	Commission decimal.NullDecimal `json:"commission"`
	Account    string              `json:"account"`
}

// Position is the aggregated exposure for one (account, symbol).
type Position struct {
	Account       string          `json:"account"`
	Symbol        string          `json:"symbol"`
	Size          decimal.Decimal `json:"size"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	FrozenSize    decimal.Decimal `json:"frozen_size"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UpdateTime    time.Time       `json:"update_time"`
}

// PositionKey identifies a position.
type PositionKey struct {
	Account string
	Symbol  string
}

// Key returns the ledger key of p.
func (p Position) Key() PositionKey {
	return PositionKey{Account: p.Account, Symbol: p.Symbol}
}
