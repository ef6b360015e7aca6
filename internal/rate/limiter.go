package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines the pacing applied to outbound broker requests.
type Config struct {
	RequestsPerSecond int
	Burst             int
}

// Limiter implements a token bucket. A limiter with a non-positive rate
// never blocks.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
}

// New creates a new limiter with a full bucket.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		tokens: float64(burst),
		last:   time.Now(),
		rate:   float64(cfg.RequestsPerSecond),
		burst:  float64(burst),
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	l.last = now
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait blocks until a token becomes available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(l.retryAfter()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Limiter) retryAfter() time.Duration {
	d := time.Duration(float64(time.Second) / l.rate)
	if d > 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	return d
}

// Lane names used by the broker adapter. Orders and market data are paced
// separately so a resubscription burst cannot delay an order.
const (
	LaneOrders = "orders"
	LaneData   = "data"
)

// Manager holds one limiter per lane.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

func (m *Manager) Get(lane string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[lane]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[lane]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[lane] = lim
	return lim
}

// Wait paces one request on the given lane.
func (m *Manager) Wait(ctx context.Context, lane string) error {
	return m.Get(lane).Wait(ctx)
}
