// Package rabbitmq feeds order commands from RabbitMQ queues into the order
// manager and reports applied fills and cancellations back.
package rabbitmq

import (
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/execution-core/pkg/model"
)

// PlaceOrderCommand is the body of an orders.place.<provider> message.
type PlaceOrderCommand struct {
	OrderID     int64           `json:"order_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Size        decimal.Decimal `json:"size"`
	OrderType   string          `json:"order_type"`
	LimitPrice  decimal.Decimal `json:"limit_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce string          `json:"tif,omitempty"`
	Account     string          `json:"account,omitempty"`
	Source      string          `json:"source,omitempty"`
}

// Order converts the command to an unsent order.
func (c PlaceOrderCommand) Order() model.Order {
	source := c.Source
	if source == "" {
		source = "rabbitmq"
	}
	return model.Order{
		ID:          c.OrderID,
		Symbol:      c.Symbol,
		Size:        c.Size,
		Type:        model.OrderTypeFromString(c.OrderType),
		LimitPrice:  c.LimitPrice,
		StopPrice:   c.StopPrice,
		TimeInForce: model.TimeInForceFromString(c.TimeInForce),
		Account:     c.Account,
		Source:      source,
	}
}

// CancelOrderCommand is the body of an orders.cancel.<provider> message.
// All cancels every open order and ignores OrderID.
type CancelOrderCommand struct {
	OrderID int64 `json:"order_id"`
	All     bool  `json:"all,omitempty"`
}

// FillNotification is published for every applied fill.
type FillNotification struct {
	OrderID   int64           `json:"order_id"`
	FillID    string          `json:"fill_id"`
	Symbol    string          `json:"symbol"`
	Account   string          `json:"account"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Provider  string          `json:"provider"`
	Timestamp string          `json:"timestamp"`
}

// CancelNotification is published once an order is confirmed cancelled.
type CancelNotification struct {
	OrderID  int64           `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Account  string          `json:"account"`
	Filled   decimal.Decimal `json:"filled"`
	Provider string          `json:"provider"`
}
