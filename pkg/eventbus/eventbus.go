package eventbus

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

var (
	ErrQueueFull       = errors.New("event queue full")
	ErrBusStopped      = errors.New("event bus stopped")
	ErrInvalidCategory = errors.New("invalid event category")
)

// DefaultCapacity is used when a bus is created with a non-positive capacity.
const DefaultCapacity = 10000

// Handler processes one event. A returned error is reported as a Log event;
// it does not prevent later handlers from running.
type Handler func(model.Event) error

// EventBus is an in-process publish/subscribe channel with a bounded FIFO
// queue and a single dispatch goroutine. Handlers for a category run in the
// order they subscribed, one event at a time.
type EventBus struct {
	name   string
	logger *zap.Logger

	hmu      sync.RWMutex
	handlers [model.NumCategories][]Handler

	qmu     sync.RWMutex
	queue   chan model.Event
	stopped bool

	startOnce sync.Once
	done      chan struct{}
}

// New creates a stopped bus. Call Start to begin dispatching.
func New(name string, capacity int, logger *zap.Logger) *EventBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		name:   name,
		logger: logger.With(zap.String("bus", name)),
		queue:  make(chan model.Event, capacity),
		done:   make(chan struct{}),
	}
}

// Name returns the bus label used in logs and metrics.
func (b *EventBus) Name() string { return b.name }

// Subscribe registers handler for every future event of category c.
func (b *EventBus) Subscribe(c model.Category, handler Handler) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidCategory, c)
	}
	if handler == nil {
		return errors.New("nil handler")
	}
	b.hmu.Lock()
	defer b.hmu.Unlock()

	// copy-on-write so the dispatcher can iterate a snapshot without locking
	next := make([]Handler, len(b.handlers[c]), len(b.handlers[c])+1)
	copy(next, b.handlers[c])
	b.handlers[c] = append(next, handler)
	return nil
}

// HasSubscribers checks if there are any handlers for a category.
func (b *EventBus) HasSubscribers(c model.Category) bool {
	return b.SubscriberCount(c) > 0
}

// SubscriberCount returns the number of handlers for a category.
func (b *EventBus) SubscriberCount(c model.Category) int {
	if !c.Valid() {
		return 0
	}
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	return len(b.handlers[c])
}

// Publish enqueues ev for asynchronous delivery. It never blocks: when the
// queue is full the event is rejected with ErrQueueFull and the bus keeps
// running.
func (b *EventBus) Publish(ev model.Event) error {
	if ev == nil || !ev.Category().Valid() {
		return ErrInvalidCategory
	}

	b.qmu.RLock()
	defer b.qmu.RUnlock()

	if b.stopped {
		metrics.BusEventsDropped.WithLabelValues(b.name, "stopped").Inc()
		return ErrBusStopped
	}

	select {
	case b.queue <- ev:
		metrics.BusEventsPublished.WithLabelValues(b.name, ev.Category().String()).Inc()
		metrics.BusQueueDepth.WithLabelValues(b.name).Set(float64(len(b.queue)))
		return nil
	default:
		metrics.BusEventsDropped.WithLabelValues(b.name, "queue_full").Inc()
		b.logger.Warn("eventbus.queue_full",
			zap.String("category", ev.Category().String()),
			zap.Int("capacity", cap(b.queue)))
		return ErrQueueFull
	}
}

// Len returns the number of events waiting for dispatch.
func (b *EventBus) Len() int {
	return len(b.queue)
}

// Start launches the dispatch goroutine. Calling it again is a no-op.
func (b *EventBus) Start() {
	b.startOnce.Do(func() {
		b.logger.Info("eventbus.started", zap.Int("capacity", cap(b.queue)))
		go b.run()
	})
}

// Stop refuses new events, delivers everything already queued and waits
// for the dispatcher to exit. It is safe to call more than once.
func (b *EventBus) Stop() {
	b.qmu.Lock()
	if b.stopped {
		b.qmu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	close(b.queue)
	b.qmu.Unlock()

	// never started: drain inline. Sharing startOnce with Start keeps a
	// single dispatcher when the two race.
	b.startOnce.Do(b.run)
	<-b.done
	b.logger.Info("eventbus.stopped")
}

func (b *EventBus) run() {
	defer close(b.done)
	for ev := range b.queue {
		metrics.BusQueueDepth.WithLabelValues(b.name).Set(float64(len(b.queue)))
		b.dispatch(ev)
	}
}

func (b *EventBus) dispatch(ev model.Event) {
	c := ev.Category()
	b.hmu.RLock()
	handlers := b.handlers[c]
	b.hmu.RUnlock()

	for i, h := range handlers {
		if err := b.invoke(h, ev); err != nil {
			b.reportFailure(ev, i, err)
		}
	}
}

func (b *EventBus) invoke(h Handler, ev model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev)
}

func (b *EventBus) reportFailure(ev model.Event, index int, err error) {
	c := ev.Category()
	metrics.BusHandlerFailures.WithLabelValues(b.name, c.String()).Inc()
	b.logger.Error("eventbus.handler_failed",
		zap.String("category", c.String()),
		zap.Int("handler", index),
		zap.Error(err))

	// a failing log handler only goes to the process log, otherwise it could feed itself
	if c == model.CategoryLog {
		return
	}
	msg := fmt.Sprintf("%s handler %d failed", c, index)
	b.qmu.RLock()
	defer b.qmu.RUnlock()
	if b.stopped {
		return
	}
	select {
	case b.queue <- model.NewLogEvent(model.LogError, "eventbus."+b.name, msg, err):
	default:
		metrics.BusEventsDropped.WithLabelValues(b.name, "queue_full").Inc()
	}
}
