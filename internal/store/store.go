// Package store caches order and position snapshots in Redis and keeps the
// durable order and fill ledger in Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/pkg/model"
	"github.com/Checker-Finance/execution-core/pkg/utils"
)

// Store is the persistence surface used by the ledger exporter and the API.
type Store interface {
	SaveOrder(ctx context.Context, o model.Order) error
	SaveFill(ctx context.Context, f model.Fill) error
	SavePosition(ctx context.Context, p model.Position) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetPositions(ctx context.Context, account string) ([]model.Position, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
	ttl    time.Duration
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid connects to Redis and, when pgURL is set, to Postgres. Without
// Postgres the ledger writes are no-ops.
func NewHybrid(ctx context.Context, redisAddr string, redisDB int, pgURL string, pool PGPoolConfig, ttl time.Duration, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pg *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pool.MaxConns > 0 {
			cfg.MaxConns = pool.MaxConns
		}
		if pool.MinConns > 0 {
			cfg.MinConns = pool.MinConns
		}
		if pool.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pool.MaxConnLifetime
		}
		if pool.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pool.MaxConnIdleTime
		}
		if pool.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pool.HealthCheckPeriod
		}
		pg, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Info("store.pg_connected", zap.String("dsn", utils.MaskDSN(pgURL)))
	}

	return &HybridStore{redis: rdb, PG: pg, logger: logger, ttl: ttl}, nil
}

func orderKey(id int64) string { return "order:" + strconv.FormatInt(id, 10) }

func positionsKey(account string) string { return "positions:" + account }

// SaveOrder caches the snapshot and upserts the ledger row.
func (s *HybridStore) SaveOrder(ctx context.Context, o model.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, orderKey(o.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache order %d: %w", o.ID, err)
	}
	if s.PG == nil {
		return nil
	}

	_, err = s.PG.Exec(ctx, `
		INSERT INTO execution.orders (
			order_id, account, symbol, size, order_type, limit_price, stop_price,
			time_in_force, status, filled, avg_fill_price, source,
			created_at, filled_at, cancelled_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		ON CONFLICT (order_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			filled = EXCLUDED.filled,
			avg_fill_price = EXCLUDED.avg_fill_price,
			filled_at = EXCLUDED.filled_at,
			cancelled_at = EXCLUDED.cancelled_at,
			updated_at = EXCLUDED.updated_at;
	`, o.ID, o.Account, o.Symbol, o.Size.String(), o.Type.Code(), o.LimitPrice.String(), o.StopPrice.String(),
		o.TimeInForce.String(), o.Status.String(), o.Filled.String(), o.AvgFillPrice.String(), o.Source,
		o.CreateTime, nullTime(o.FillTime), nullTime(o.CancelTime))
	if err != nil {
		s.logger.Error("store.pg.order_upsert_failed", zap.Int64("order_id", o.ID), zap.Error(err))
	}
	return err
}

// SaveFill appends to the fill ledger. Replays of the same (order, fill id)
// are ignored.
func (s *HybridStore) SaveFill(ctx context.Context, f model.Fill) error {
	if s.PG == nil {
		return nil
	}
	var commission *string
	if f.Commission.Valid {
		c := f.Commission.Decimal.String()
		commission = &c
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO execution.fills (
			order_id, fill_id, account, symbol, price, size, commission, exchange, filled_at, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (order_id, fill_id) DO NOTHING;
	`, f.OrderID, f.FillID, f.Account, f.Symbol, f.Price.String(), f.Size.String(), commission, f.Exchange, f.Timestamp)
	if err != nil {
		s.logger.Error("store.pg.fill_insert_failed",
			zap.Int64("order_id", f.OrderID),
			zap.String("fill_id", f.FillID),
			zap.Error(err))
	}
	return err
}

// SavePosition caches the position under its account hash and upserts the
// projection table.
func (s *HybridStore) SavePosition(ctx context.Context, p model.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, positionsKey(p.Account), p.Symbol, data).Err(); err != nil {
		return fmt.Errorf("cache position %s/%s: %w", p.Account, p.Symbol, err)
	}
	if s.PG == nil {
		return nil
	}

	_, err = s.PG.Exec(ctx, `
		INSERT INTO execution.position_snapshot (
			account, symbol, size, average_cost, realized_pnl, unrealized_pnl, last_price, as_of
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account, symbol)
		DO UPDATE SET
			size = EXCLUDED.size,
			average_cost = EXCLUDED.average_cost,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			last_price = EXCLUDED.last_price,
			as_of = EXCLUDED.as_of;
	`, p.Account, p.Symbol, p.Size.String(), p.AverageCost.String(), p.RealizedPnL.String(),
		p.UnrealizedPnL.String(), p.LastPrice.String(), p.UpdateTime)
	if err != nil {
		s.logger.Error("store.pg.position_upsert_failed",
			zap.String("account", p.Account),
			zap.String("symbol", p.Symbol),
			zap.Error(err))
	}
	return err
}

// GetOrder reads a cached order snapshot; nil, nil when absent.
func (s *HybridStore) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	data, err := s.redis.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetPositions returns the cached positions of account sorted by symbol.
func (s *HybridStore) GetPositions(ctx context.Context, account string) ([]model.Position, error) {
	raw, err := s.redis.HGetAll(ctx, positionsKey(account)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(raw))
	for _, v := range raw {
		var p model.Position
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
