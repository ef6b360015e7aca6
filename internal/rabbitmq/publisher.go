package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

const (
	TopicFillsCreated          = "inbound.fills.creates"
	TopicReturnedOrderCanceled = "returned.orders.canceled"
)

// Channel is the publishing half of *amqp.Channel.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Subscriber is the bus surface Attach needs.
type Subscriber interface {
	Subscribe(c model.Category, h eventbus.Handler) error
}

// Publisher reports applied fills and confirmed cancellations.
type Publisher struct {
	conn     *amqp.Connection
	channel  Channel
	provider string
	logger   *zap.Logger

	mu        sync.Mutex
	cancelled map[int64]struct{}
}

func NewPublisher(url, provider string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	p := NewPublisherWithChannel(ch, provider, logger)
	p.conn = conn
	return p, nil
}

func NewPublisherWithChannel(ch Channel, provider string, logger *zap.Logger) *Publisher {
	return &Publisher{channel: ch, provider: provider, logger: logger, cancelled: make(map[int64]struct{})}
}

// Attach subscribes to applied fills and order snapshots.
func (p *Publisher) Attach(bus Subscriber) error {
	if err := bus.Subscribe(model.CategoryFill, p.onFill); err != nil {
		return err
	}
	return bus.Subscribe(model.CategoryOrder, p.onOrder)
}

func (p *Publisher) onFill(ev model.Event) error {
	fe := ev.(model.FillEvent)
	if !fe.Applied {
		return nil
	}
	return p.publish(TopicFillsCreated, 0, FillNotification{
		OrderID:   fe.OrderID,
		FillID:    fe.FillID,
		Symbol:    fe.Symbol,
		Account:   fe.Account,
		Price:     fe.Price,
		Size:      fe.Size,
		Provider:  p.provider,
		Timestamp: fe.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// onOrder reports each cancelled order once.
func (p *Publisher) onOrder(ev model.Event) error {
	oe := ev.(model.OrderEvent)
	if oe.Status != model.OrderStatusCancelled {
		return nil
	}
	p.mu.Lock()
	if _, seen := p.cancelled[oe.ID]; seen {
		p.mu.Unlock()
		return nil
	}
	p.cancelled[oe.ID] = struct{}{}
	p.mu.Unlock()

	return p.publish(TopicReturnedOrderCanceled, 10, CancelNotification{
		OrderID:  oe.ID,
		Symbol:   oe.Symbol,
		Account:  oe.Account,
		Filled:   oe.Filled,
		Provider: p.provider,
	})
}

func (p *Publisher) publish(key string, priority uint8, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = p.channel.PublishWithContext(context.Background(), "", key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Priority:    priority,
	})
	if err != nil {
		p.logger.Error("rabbitmq.publish_failed", zap.String("routing_key", key), zap.Error(err))
		return err
	}
	p.logger.Debug("rabbitmq.published", zap.String("routing_key", key))
	return nil
}

func (p *Publisher) Close() error {
	if ch, ok := p.channel.(*amqp.Channel); ok {
		_ = ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
