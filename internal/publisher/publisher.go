// Package publisher forwards bus events to NATS JetStream as JSON envelopes.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Envelope wraps every outbound event.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Service       string          `json:"service"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Stream is the part of nats.JetStreamContext the publisher uses.
type Stream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Subscriber is the bus surface Attach needs.
type Subscriber interface {
	Subscribe(c model.Category, h eventbus.Handler) error
}

type Publisher struct {
	nc      *nats.Conn
	js      Stream
	prefix  string
	service string
	logger  *zap.Logger
}

// New enables JetStream on nc.
func New(nc *nats.Conn, prefix, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	p := NewWithStream(js, prefix, service, logger)
	p.nc = nc
	return p, nil
}

func NewWithStream(js Stream, prefix, service string, logger *zap.Logger) *Publisher {
	return &Publisher{js: js, prefix: prefix, service: service, logger: logger}
}

// Subject returns the full subject for a topic, e.g. "exec.fill.applied.v1".
func (p *Publisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

// Attach subscribes the publisher to order, applied fill, position and
// error-level log events.
func (p *Publisher) Attach(bus Subscriber) error {
	subs := []struct {
		c model.Category
		h eventbus.Handler
	}{
		{model.CategoryOrder, p.onOrder},
		{model.CategoryFill, p.onFill},
		{model.CategoryPosition, p.onPosition},
		{model.CategoryLog, p.onLog},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.c, s.h); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.c, err)
		}
	}
	return nil
}

// orderCorrelation gives every event about one order the same correlation id.
func orderCorrelation(orderID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("order:"+strconv.FormatInt(orderID, 10)))
}

func (p *Publisher) onOrder(ev model.Event) error {
	oe := ev.(model.OrderEvent)
	return p.PublishEvent(context.Background(), "order.updated.v1", "order.updated", orderCorrelation(oe.ID), oe.Timestamp, oe.Order)
}

func (p *Publisher) onFill(ev model.Event) error {
	fe := ev.(model.FillEvent)
	if !fe.Applied {
		return nil
	}
	return p.PublishEvent(context.Background(), "fill.applied.v1", "fill.applied", orderCorrelation(fe.OrderID), fe.Timestamp, fe.Fill)
}

func (p *Publisher) onPosition(ev model.Event) error {
	pe := ev.(model.PositionEvent)
	return p.PublishEvent(context.Background(), "position.updated.v1", "position.updated", uuid.New(), pe.Timestamp, pe)
}

func (p *Publisher) onLog(ev model.Event) error {
	le := ev.(model.LogEvent)
	if le.Level < model.LogError {
		return nil
	}
	return p.PublishEvent(context.Background(), "log.v1", "log."+le.Level.String(), uuid.New(), le.Timestamp, le)
}

// PublishEvent wraps payload in an Envelope and publishes it on topic.
func (p *Publisher) PublishEvent(ctx context.Context, topic, eventType string, correlation uuid.UUID, ts time.Time, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	env := &Envelope{
		ID:            uuid.New(),
		CorrelationID: correlation,
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Service:       p.service,
		Timestamp:     ts.UTC(),
		Payload:       body,
	}
	return p.PublishEnvelope(ctx, p.Subject(topic), env)
}

// PublishEnvelope serializes env and publishes it to subject.
func (p *Publisher) PublishEnvelope(_ context.Context, subject string, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}
	msg.Header.Set(nats.MsgIdHdr, env.ID.String())

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)
	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// Publish sends a raw JSON payload, for internal notifications that are not
// bus events.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	subject := p.Subject(topic)
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{"source": []string{p.service}}}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)
	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
