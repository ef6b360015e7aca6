// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/rate"
	pkgconfig "github.com/Checker-Finance/execution-core/pkg/config"
)

// Broker modes.
const (
	ModeGateway = "gateway"
	ModePaper   = "paper"
)

type Config struct {
	ServiceName string
	Env         string // dev, uat, prod
	LogLevel    string

	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	BrokerMode        string
	BrokerEndpoint    string
	BrokerClientID    string
	BrokerAccount     string
	ConnectAttempts   int
	RetryDelay        time.Duration
	HeartbeatInterval time.Duration
	DepthRows         int
	OrderIDBase       int64
	RequestIDBase     int64
	PacingRate        int
	PacingBurst       int
	ReconcileInterval time.Duration
	SymbolMappingPath string
	PaperCash         string

	MsgBusCapacity  int
	DataBusCapacity int

	NATSURL     string
	NATSPrefix  string
	RabbitMQURL string
	Provider    string
	RedisAddr   string
	RedisDB     int
	SnapshotTTL time.Duration
	DatabaseURL string
	ExportEvery time.Duration

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	AWSRegion     string
	AWSSecretName string
	CacheTTL      time.Duration
}

// Load reads .env when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "execution-core"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),

		Port:             pkgconfig.GetEnvInt("PORT", 9020),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    pkgconfig.GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		BrokerMode:        strings.ToLower(pkgconfig.GetEnv("BROKER_MODE", ModePaper)),
		BrokerEndpoint:    pkgconfig.GetEnv("BROKER_ENDPOINT", "ws://localhost:4002/ws"),
		BrokerClientID:    pkgconfig.GetEnv("BROKER_CLIENT_ID", "1"),
		BrokerAccount:     pkgconfig.GetEnv("BROKER_ACCOUNT", ""),
		ConnectAttempts:   pkgconfig.GetEnvInt("BROKER_CONNECT_ATTEMPTS", 60),
		RetryDelay:        pkgconfig.GetEnvDuration("BROKER_RETRY_DELAY", 60*time.Second),
		HeartbeatInterval: pkgconfig.GetEnvDuration("BROKER_HEARTBEAT_INTERVAL", 30*time.Second),
		DepthRows:         pkgconfig.GetEnvInt("BROKER_DEPTH_ROWS", 5),
		OrderIDBase:       pkgconfig.GetEnvInt64("ORDER_ID_BASE", 1),
		RequestIDBase:     pkgconfig.GetEnvInt64("REQUEST_ID_BASE", 1),
		PacingRate:        pkgconfig.GetEnvInt("BROKER_PACING_RATE", 45),
		PacingBurst:       pkgconfig.GetEnvInt("BROKER_PACING_BURST", 10),
		ReconcileInterval: pkgconfig.GetEnvDuration("RECONCILE_INTERVAL", 30*time.Second),
		SymbolMappingPath: pkgconfig.GetEnv("SYMBOL_MAPPING_PATH", ""),
		PaperCash:         pkgconfig.GetEnv("PAPER_CASH", "1000000"),

		MsgBusCapacity:  pkgconfig.GetEnvInt("MSG_BUS_CAPACITY", 10000),
		DataBusCapacity: pkgconfig.GetEnvInt("DATA_BUS_CAPACITY", 10000),

		NATSURL:     pkgconfig.GetEnv("NATS_URL", ""),
		NATSPrefix:  pkgconfig.GetEnv("NATS_SUBJECT_PREFIX", "evt.exec"),
		RabbitMQURL: pkgconfig.GetEnv("RABBITMQ_URL", ""),
		Provider:    pkgconfig.GetEnv("PROVIDER", "ib"),
		RedisAddr:   pkgconfig.GetEnv("REDIS_ADDR", ""),
		RedisDB:     pkgconfig.GetEnvInt("REDIS_DB", 0),
		SnapshotTTL: pkgconfig.GetEnvDuration("SNAPSHOT_TTL", 24*time.Hour),
		DatabaseURL: pkgconfig.GetEnv("DATABASE_URL", ""),
		ExportEvery: pkgconfig.GetEnvDuration("EXPORT_INTERVAL", 15*time.Second),

		PGMaxConns:          pkgconfig.GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          pkgconfig.GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   pkgconfig.GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: pkgconfig.GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		AWSRegion:     pkgconfig.GetEnv("AWS_REGION", "us-east-2"),
		AWSSecretName: pkgconfig.GetEnv("AWS_SECRET_NAME", ""),
		CacheTTL:      pkgconfig.GetEnvDuration("CACHE_TTL", 24*time.Hour),
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.BrokerMode {
	case ModeGateway, ModePaper:
	default:
		return fmt.Errorf("BROKER_MODE must be %q or %q, got %q", ModeGateway, ModePaper, c.BrokerMode)
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("BROKER_CONNECT_ATTEMPTS must be positive")
	}
	if c.MsgBusCapacity < 1 || c.DataBusCapacity < 1 {
		return fmt.Errorf("bus capacities must be positive")
	}
	return nil
}

// BrokerConfig builds the adapter settings. Credentials are resolved
// separately.
func (c *Config) BrokerConfig() broker.Config {
	return broker.Config{
		Endpoint:          c.BrokerEndpoint,
		Credentials:       broker.Credentials{ClientID: c.BrokerClientID},
		Account:           c.BrokerAccount,
		MaxAttempts:       c.ConnectAttempts,
		RetryDelay:        c.RetryDelay,
		HeartbeatInterval: c.HeartbeatInterval,
		DepthRows:         c.DepthRows,
		OrderIDBase:       c.OrderIDBase,
		RequestIDBase:     c.RequestIDBase,
		Pacing:            rate.Config{RequestsPerSecond: c.PacingRate, Burst: c.PacingBurst},
	}
}
