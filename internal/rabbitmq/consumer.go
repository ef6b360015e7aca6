package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// OrderService is the command surface of the order manager.
type OrderService interface {
	Place(ctx context.Context, o model.Order) (model.Order, error)
	Cancel(ctx context.Context, orderID int64) error
	CancelAll(ctx context.Context) error
}

// PlaceQueue and CancelQueue name the command queues for a provider.
func PlaceQueue(provider string) string  { return "orders.place." + provider }
func CancelQueue(provider string) string { return "orders.cancel." + provider }

// Consumer reads place and cancel commands.
type Consumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	orders   OrderService
	provider string
	logger   *zap.Logger
	done     chan struct{}
}

func NewConsumer(url, provider string, orders OrderService, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &Consumer{
		conn:     conn,
		channel:  channel,
		orders:   orders,
		provider: provider,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start declares both queues and consumes them until ctx ends or Close.
func (c *Consumer) Start(ctx context.Context) error {
	queues := []struct {
		name   string
		handle func(context.Context, []byte) outcome
	}{
		{PlaceQueue(c.provider), c.handlePlace},
		{CancelQueue(c.provider), c.handleCancel},
	}
	for _, q := range queues {
		if _, err := c.channel.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}
		msgs, err := c.channel.Consume(q.name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to consume from %s: %w", q.name, err)
		}
		go c.consume(ctx, q.name, msgs, q.handle)
	}
	c.logger.Info("rabbitmq.consuming",
		zap.String("place_queue", PlaceQueue(c.provider)),
		zap.String("cancel_queue", CancelQueue(c.provider)))
	return nil
}

func (c *Consumer) consume(ctx context.Context, queue string, msgs <-chan amqp.Delivery, handle func(context.Context, []byte) outcome) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("rabbitmq.channel_closed", zap.String("queue", queue))
				return
			}
			switch res := handle(ctx, msg.Body); res {
			case ack:
				_ = msg.Ack(false)
			default:
				_ = msg.Nack(false, res == requeue)
			}
		}
	}
}

type outcome int

const (
	ack outcome = iota
	reject
	requeue
)

// classify decides whether a failed cancel may succeed later. Only a
// missing broker connection is worth a retry.
func classify(err error) outcome {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, broker.ErrNotConnected), errors.Is(err, broker.ErrConnection):
		return requeue
	default:
		return reject
	}
}

// classifyPlace requeues a place command only when it failed before the
// order was acknowledged. A failed send already published and retired an
// order id; replaying it would open another.
func classifyPlace(err error) outcome {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, broker.ErrNotConnected):
		return requeue
	default:
		return reject
	}
}

func (c *Consumer) handlePlace(ctx context.Context, body []byte) outcome {
	var cmd PlaceOrderCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		c.logger.Error("rabbitmq.bad_place_command", zap.Error(err))
		return reject
	}
	o, err := c.orders.Place(ctx, cmd.Order())
	if err != nil {
		c.logger.Error("rabbitmq.place_failed", zap.String("symbol", cmd.Symbol), zap.Error(err))
		return classifyPlace(err)
	}
	c.logger.Info("rabbitmq.order_placed", zap.Int64("order_id", o.ID), zap.String("symbol", o.Symbol))
	return ack
}

func (c *Consumer) handleCancel(ctx context.Context, body []byte) outcome {
	var cmd CancelOrderCommand
	if err := json.Unmarshal(body, &cmd); err != nil {
		c.logger.Error("rabbitmq.bad_cancel_command", zap.Error(err))
		return reject
	}
	var err error
	if cmd.All {
		err = c.orders.CancelAll(ctx)
	} else {
		err = c.orders.Cancel(ctx, cmd.OrderID)
	}
	if err != nil {
		c.logger.Error("rabbitmq.cancel_failed", zap.Int64("order_id", cmd.OrderID), zap.Error(err))
	}
	return classify(err)
}

func (c *Consumer) Close() error {
	close(c.done)
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
