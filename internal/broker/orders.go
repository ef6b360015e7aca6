package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/internal/rate"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// PlaceOrder sends o to the broker. An order without an id gets the next
// client order id. The order is stamped and published as Acknowledged before
// the session is called; the returned copy is what was published.
func (a *Adapter) PlaceOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if !a.Connected() {
		return o, ErrNotConnected
	}
	if err := o.Validate(); err != nil {
		return o, err
	}
	native, err := contract.ToNative(o.Symbol)
	if err != nil {
		return o, fmt.Errorf("%w: %v", ErrUnknownInstrument, err)
	}

	if o.ID <= 0 {
		o.ID = a.orderIDs.Next()
	} else {
		a.orderIDs.Advance(o.ID)
	}
	if o.Account == "" {
		o.Account = a.cfg.Account
	}
	o.CreateTime = time.Now().UTC()
	o.Status = model.OrderStatusAcknowledged
	o.Filled = decimal.Zero
	o.AvgFillPrice = decimal.Zero

	a.mu.Lock()
	if _, exists := a.orders[o.ID]; exists {
		a.mu.Unlock()
		return o, fmt.Errorf("%w: %d", ErrDuplicateOrderID, o.ID)
	}
	a.orders[o.ID] = o
	a.mu.Unlock()

	a.logger.Info("broker.order_acknowledged",
		zap.Int64("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("size", o.Size.String()),
		zap.String("type", o.Type.String()))
	a.publish(model.OrderEvent{Order: o, Timestamp: o.CreateTime})

	start := time.Now()
	defer metrics.ObserveDuration(metrics.BrokerRequestDuration, start, "place_order")
	if err := a.pacing.Wait(ctx, rate.LaneOrders); err != nil {
		a.abandon(o, err)
		return o, err
	}
	if err := a.session.PlaceOrder(ctx, native, o); err != nil {
		a.abandon(o, err)
		return o, fmt.Errorf("%w: place order %d: %v", ErrConnection, o.ID, err)
	}
	metrics.OrdersPlaced.WithLabelValues(o.Type.String()).Inc()
	return o, nil
}

// abandon retires an acknowledged order the broker never received, so the
// ledger does not keep it working.
func (a *Adapter) abandon(o model.Order, cause error) {
	now := time.Now().UTC()
	a.mu.Lock()
	if sent, ok := a.orders[o.ID]; ok {
		sent.Status = model.OrderStatusCancelled
		sent.CancelTime = now
		a.orders[o.ID] = sent
	}
	a.mu.Unlock()

	a.logger.Error("broker.place_order_failed", zap.Int64("order_id", o.ID), zap.Error(cause))
	a.publish(model.NewLogEvent(model.LogError, "broker", fmt.Sprintf("place order %d failed", o.ID), cause))
	a.publish(model.OrderStatusEvent{
		OrderID:      o.ID,
		Status:       model.OrderStatusCancelled,
		BrokerStatus: "Inactive",
		Symbol:       o.Symbol,
		Filled:       decimal.Zero,
		Remaining:    o.Size,
		Account:      o.Account,
		Timestamp:    now,
	})
}

// CancelOrder requests cancellation of an order this adapter placed.
// Completion arrives later as an order status notification.
func (a *Adapter) CancelOrder(ctx context.Context, orderID int64) error {
	if !a.Connected() {
		return ErrNotConnected
	}

	now := time.Now().UTC()
	a.mu.Lock()
	o, ok := a.orders[orderID]
	if ok {
		o.CancelTime = now
		a.orders[orderID] = o
	}
	a.mu.Unlock()
	if !ok {
		a.logger.Warn("broker.cancel_unknown_order", zap.Int64("order_id", orderID))
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}

	a.publish(model.CancelEvent{OrderID: orderID, Account: o.Account, Timestamp: now})

	start := time.Now()
	defer metrics.ObserveDuration(metrics.BrokerRequestDuration, start, "cancel_order")
	if err := a.pacing.Wait(ctx, rate.LaneOrders); err != nil {
		return err
	}
	if err := a.session.CancelOrder(ctx, orderID); err != nil {
		a.logger.Error("broker.cancel_order_failed", zap.Int64("order_id", orderID), zap.Error(err))
		return fmt.Errorf("%w: cancel order %d: %v", ErrConnection, orderID, err)
	}
	a.logger.Info("broker.cancel_sent", zap.Int64("order_id", orderID))
	return nil
}

// CancelAllOrders sends a global cancel. Each order completes through its own
// status notification.
func (a *Adapter) CancelAllOrders(ctx context.Context) error {
	if !a.Connected() {
		return ErrNotConnected
	}
	if err := a.pacing.Wait(ctx, rate.LaneOrders); err != nil {
		return err
	}
	if err := a.session.CancelAllOrders(ctx); err != nil {
		return fmt.Errorf("%w: global cancel: %v", ErrConnection, err)
	}
	a.logger.Info("broker.global_cancel_sent")
	return nil
}

// SentOrder returns the adapter's record of an order it placed.
func (a *Adapter) SentOrder(orderID int64) (model.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	return o, ok
}

// NextOrderID returns the id the next order without one would receive.
func (a *Adapter) NextOrderID() int64 {
	return a.orderIDs.Peek() + 1
}
