package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/internal/ids"
	"github.com/Checker-Finance/execution-core/internal/metrics"
	"github.com/Checker-Finance/execution-core/internal/rate"
	"github.com/Checker-Finance/execution-core/pkg/model"
)

// Publisher is the part of the event bus the adapter needs.
type Publisher interface {
	Publish(model.Event) error
}

// Config controls connection, retry and pacing behaviour.
type Config struct {
	Endpoint          string
	Credentials       Credentials
	Account           string
	MaxAttempts       int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	DepthRows         int
	OrderIDBase       int64
	RequestIDBase     int64
	Pacing            rate.Config
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.DepthRows <= 0 {
		c.DepthRows = 5
	}
	if c.OrderIDBase <= 0 {
		c.OrderIDBase = 1
	}
	if c.RequestIDBase <= 0 {
		c.RequestIDBase = 1
	}
}

// Adapter turns a Session into the broker contract the rest of the core
// depends on. It owns connection state, the request correlation tables and
// the table of orders it has sent; trading state lives in the managers.
//
// Order and status notifications go to the message bus. Ticks and real-time
// bars go to the data bus so market data volume cannot delay order handling.
type Adapter struct {
	cfg     Config
	logger  *zap.Logger
	session Session
	msgBus  Publisher
	dataBus Publisher
	master  *contract.Master
	pacing  *rate.Manager

	orderIDs   *ids.Allocator
	requestIDs *ids.Allocator

	state      atomic.Int32
	userClosed atomic.Bool
	connectMu  sync.Mutex
	failOnce   sync.Once

	// lifetime context for reconnects and heartbeat
	ctx    context.Context
	cancel context.CancelFunc

	hbMu   sync.Mutex
	hbStop chan struct{}

	mu sync.Mutex
	// orders lives for the adapter lifetime
	orders map[int64]model.Order
	// request tables, cleared on disconnect
	mktData         map[int64]string
	mktDataBySymbol map[string]int64
	ticks           map[int64]*model.TickEvent
	depth           map[int64]string
	depthBySymbol   map[string]int64
	contractReqs    map[int64]string
	optionReqs      map[int64]string
	historical      map[int64]string
	accountReqID    int64
	accountPending  *model.AccountEvent
	positionsOn     bool
	// desired subscriptions, reissued on every connect
	wantMktData   map[string]struct{}
	wantDepth     map[string]struct{}
	wantAccount   bool
	wantPositions bool
}

var _ Inbound = (*Adapter)(nil)

// NewAdapter wires an adapter around session. dataBus may equal msgBus.
func NewAdapter(cfg Config, session Session, msgBus, dataBus Publisher, master *contract.Master, logger *zap.Logger) *Adapter {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if master == nil {
		master = contract.NewMaster(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "broker")),
		session:     session,
		msgBus:      msgBus,
		dataBus:     dataBus,
		master:      master,
		pacing:      rate.NewManager(cfg.Pacing),
		orderIDs:    ids.New(cfg.OrderIDBase),
		requestIDs:  ids.New(cfg.RequestIDBase),
		ctx:         ctx,
		cancel:      cancel,
		orders:      make(map[int64]model.Order),
		wantMktData: make(map[string]struct{}),
		wantDepth:   make(map[string]struct{}),
	}
	a.resetRequestTables()
	a.setState(StateDisconnected)
	return a
}

// State returns the current connection state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Connected reports whether the adapter has a live session.
func (a *Adapter) Connected() bool {
	return a.State() == StateConnected
}

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
	metrics.BrokerConnectionState.Set(float64(s))
}

// Connect dials the broker, retrying with a fixed delay up to MaxAttempts
// attempts in total. When every attempt fails the adapter enters the
// terminal Failed state and publishes a single fatal Log event.
func (a *Adapter) Connect(ctx context.Context) error {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()

	switch a.State() {
	case StateConnected:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: adapter failed permanently", ErrConnection)
	}
	a.userClosed.Store(false)
	a.setState(StateConnecting)

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		err := a.session.Dial(ctx, a.cfg.Endpoint, a.cfg.Credentials, a)
		if err == nil {
			metrics.BrokerConnectAttempts.WithLabelValues("ok").Inc()
			a.setState(StateConnected)
			a.logger.Info("broker.connected",
				zap.String("endpoint", a.cfg.Endpoint),
				zap.Int("attempt", attempt))
			a.onConnected(ctx)
			return nil
		}

		lastErr = err
		metrics.BrokerConnectAttempts.WithLabelValues("error").Inc()
		a.logger.Warn("broker.connect_failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.cfg.MaxAttempts),
			zap.Duration("retry_in", a.cfg.RetryDelay),
			zap.Error(err))

		if attempt == a.cfg.MaxAttempts {
			break
		}
		if err := sleep(ctx, a.cfg.RetryDelay); err != nil {
			a.setState(StateDisconnected)
			return fmt.Errorf("connect aborted after %d attempts: %w", attempt, err)
		}
		if a.userClosed.Load() {
			a.setState(StateDisconnected)
			return fmt.Errorf("%w: connect abandoned by disconnect", ErrConnection)
		}
	}

	a.fail(lastErr)
	return fmt.Errorf("%w: giving up after %d attempts: %v", ErrConnection, a.cfg.MaxAttempts, lastErr)
}

func (a *Adapter) fail(cause error) {
	a.setState(StateFailed)
	a.failOnce.Do(func() {
		msg := fmt.Sprintf("broker reconnect failure after %d attempts", a.cfg.MaxAttempts)
		a.logger.Error("broker.failed", zap.Int("max_attempts", a.cfg.MaxAttempts), zap.Error(cause))
		a.publish(model.NewLogEvent(model.LogFatal, "broker", msg, cause))
	})
}

// onConnected runs the consistency checkpoint and restores subscriptions.
func (a *Adapter) onConnected(ctx context.Context) {
	if err := a.session.ReqAllOpenOrders(ctx); err != nil {
		a.logger.Warn("broker.req_open_orders_failed", zap.Error(err))
	}
	if err := a.session.ReqCurrentTime(ctx); err != nil {
		a.logger.Warn("broker.req_current_time_failed", zap.Error(err))
	}
	a.resubscribe(ctx)
	a.startHeartbeat()
	a.publish(model.NewLogEvent(model.LogInfo, "broker", "connected to "+a.cfg.Endpoint, nil))
}

// Disconnect closes the session. It is a no-op when not connected.
func (a *Adapter) Disconnect() error {
	a.userClosed.Store(true)
	if a.State() != StateConnected {
		return nil
	}

	a.stopHeartbeat()
	err := a.session.Close()
	a.resetRequestTables()
	a.setState(StateDisconnected)
	a.logger.Info("broker.disconnected")
	a.publish(model.NewLogEvent(model.LogInfo, "broker", "disconnected", err))
	return err
}

// Close disconnects and stops any pending reconnect loop.
func (a *Adapter) Close() error {
	err := a.Disconnect()
	a.cancel()
	return err
}

// OnDisconnected is called by the session when the connection drops. Unless
// the drop was requested it starts the bounded reconnect loop.
func (a *Adapter) OnDisconnected(cause error) {
	if a.userClosed.Load() || a.State() != StateConnected {
		return
	}

	a.stopHeartbeat()
	a.resetRequestTables()
	a.setState(StateDisconnected)
	a.logger.Warn("broker.connection_lost", zap.Error(cause))
	a.publish(model.NewLogEvent(model.LogWarn, "broker", "connection lost, reconnecting", cause))

	go func() {
		if err := a.Connect(a.ctx); err != nil {
			a.logger.Error("broker.reconnect_failed", zap.Error(err))
		}
	}()
}

// ReqAllOpenOrders asks the broker to replay every open order status.
func (a *Adapter) ReqAllOpenOrders(ctx context.Context) error {
	if !a.Connected() {
		return ErrNotConnected
	}
	if err := a.pacing.Wait(ctx, rate.LaneOrders); err != nil {
		return err
	}
	return a.session.ReqAllOpenOrders(ctx)
}

func (a *Adapter) startHeartbeat() {
	if a.cfg.HeartbeatInterval <= 0 {
		return
	}
	a.hbMu.Lock()
	defer a.hbMu.Unlock()
	if a.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	a.hbStop = stop

	go func() {
		ticker := time.NewTicker(a.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !a.Connected() {
					continue
				}
				if err := a.session.ReqCurrentTime(a.ctx); err != nil {
					a.logger.Warn("broker.heartbeat_failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *Adapter) stopHeartbeat() {
	a.hbMu.Lock()
	defer a.hbMu.Unlock()
	if a.hbStop != nil {
		close(a.hbStop)
		a.hbStop = nil
	}
}

func (a *Adapter) resetRequestTables() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mktData = make(map[int64]string)
	a.mktDataBySymbol = make(map[string]int64)
	a.ticks = make(map[int64]*model.TickEvent)
	a.depth = make(map[int64]string)
	a.depthBySymbol = make(map[string]int64)
	a.contractReqs = make(map[int64]string)
	a.optionReqs = make(map[int64]string)
	a.historical = make(map[int64]string)
	a.accountReqID = 0
	a.accountPending = nil
	a.positionsOn = false
}

func (a *Adapter) publish(ev model.Event) {
	if err := a.msgBus.Publish(ev); err != nil {
		a.logger.Warn("broker.publish_failed", zap.String("category", ev.Category().String()), zap.Error(err))
	}
}

func (a *Adapter) publishData(ev model.Event) {
	if err := a.dataBus.Publish(ev); err != nil {
		a.logger.Debug("broker.data_publish_failed", zap.String("category", ev.Category().String()), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
