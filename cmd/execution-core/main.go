package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/execution-core/internal/api"
	"github.com/Checker-Finance/execution-core/internal/broker"
	"github.com/Checker-Finance/execution-core/internal/config"
	"github.com/Checker-Finance/execution-core/internal/contract"
	"github.com/Checker-Finance/execution-core/internal/gateway"
	"github.com/Checker-Finance/execution-core/internal/ledger"
	"github.com/Checker-Finance/execution-core/internal/order"
	"github.com/Checker-Finance/execution-core/internal/paper"
	"github.com/Checker-Finance/execution-core/internal/position"
	"github.com/Checker-Finance/execution-core/internal/publisher"
	"github.com/Checker-Finance/execution-core/internal/rabbitmq"
	internalsecrets "github.com/Checker-Finance/execution-core/internal/secrets"
	"github.com/Checker-Finance/execution-core/internal/store"
	"github.com/Checker-Finance/execution-core/pkg/eventbus"
	"github.com/Checker-Finance/execution-core/pkg/logger"
	"github.com/Checker-Finance/execution-core/pkg/model"
	"github.com/Checker-Finance/execution-core/pkg/secrets"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	log := logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := log.Sugar()

	if err := cfg.Validate(); err != nil {
		logg.Errorw("invalid configuration", "error", err)
		return 2
	}
	logg.Infow("starting [execution-core]...", "mode", cfg.BrokerMode, "endpoint", cfg.BrokerEndpoint)

	// --- Event buses ---
	msgBus := eventbus.New("msg", cfg.MsgBusCapacity, log)
	dataBus := eventbus.New("data", cfg.DataBusCapacity, log)

	fatal := make(chan model.LogEvent, 1)
	mustSubscribe(logg, msgBus, model.CategoryLog, logger.EventSink(log))
	mustSubscribe(logg, msgBus, model.CategoryLog, func(ev model.Event) error {
		if le, ok := ev.(model.LogEvent); ok && le.Level == model.LogFatal {
			select {
			case fatal <- le:
			default:
			}
		}
		return nil
	})

	// --- Instrument master ---
	master := contract.NewMaster(log)
	if cfg.SymbolMappingPath != "" {
		if err := master.LoadFromFile(cfg.SymbolMappingPath); err != nil {
			logg.Errorw("failed to load symbol mapping", "path", cfg.SymbolMappingPath, "error", err)
			return 1
		}
	}

	// --- Broker session ---
	brokerCfg := cfg.BrokerConfig()
	var session broker.Session
	switch cfg.BrokerMode {
	case config.ModeGateway:
		creds, err := resolveCredentials(ctx, cfg, log)
		if err != nil {
			logg.Errorw("failed to resolve broker credentials", "error", err)
			return 1
		}
		if creds.ClientID == "" {
			creds.ClientID = brokerCfg.Credentials.ClientID
		}
		brokerCfg.Credentials = creds
		session = gateway.NewSession(log)
	default:
		cash, err := decimal.NewFromString(cfg.PaperCash)
		if err != nil {
			logg.Errorw("invalid PAPER_CASH", "value", cfg.PaperCash, "error", err)
			return 2
		}
		account := cfg.BrokerAccount
		if account == "" {
			account = "PAPER"
			brokerCfg.Account = account
		}
		session = paper.New(account, cash, log)
	}

	adapter := broker.NewAdapter(brokerCfg, session, msgBus, dataBus, master, log)

	// --- Managers ---
	orders, err := order.NewManager(adapter, msgBus, log)
	if err != nil {
		logg.Errorw("failed to init order manager", "error", err)
		return 1
	}
	positions, err := position.NewManager(msgBus, dataBus, log)
	if err != nil {
		logg.Errorw("failed to init position manager", "error", err)
		return 1
	}
	reconciler := order.NewReconciler(orders, adapter, cfg.ReconcileInterval, log)

	checks := map[string]api.Check{
		"broker": func(context.Context) error {
			if s := adapter.State(); s != broker.StateConnected {
				return fmt.Errorf("broker %s", s)
			}
			return nil
		},
	}

	// --- NATS publisher (optional) ---
	var pub *publisher.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Errorw("failed to connect to NATS", "error", err)
			return 1
		}
		pub, err = publisher.New(nc, cfg.NATSPrefix, cfg.ServiceName, log)
		if err != nil {
			logg.Errorw("failed to init publisher", "error", err)
			nc.Close()
			return 1
		}
		defer pub.Close()
		if err := pub.Attach(msgBus); err != nil {
			logg.Errorw("failed to attach publisher", "error", err)
			return 1
		}
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}
	} else {
		logg.Warn("NATS_URL not configured; event publishing disabled")
	}

	// --- RabbitMQ command queues (optional) ---
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.Provider, orders, log)
		if err != nil {
			logg.Errorw("failed to init rabbitmq consumer", "error", err)
			return 1
		}
		defer consumer.Close()

		rmqPub, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.Provider, log)
		if err != nil {
			logg.Errorw("failed to init rabbitmq publisher", "error", err)
			return 1
		}
		defer rmqPub.Close()
		if err := rmqPub.Attach(msgBus); err != nil {
			logg.Errorw("failed to attach rabbitmq publisher", "error", err)
			return 1
		}
	}

	// --- Store + ledger export (optional) ---
	var exporter *ledger.Exporter
	if cfg.RedisAddr != "" {
		st, err := store.NewHybrid(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, cfg.SnapshotTTL, log)
		if err != nil {
			logg.Errorw("failed to init store", "error", err)
			return 1
		}
		defer st.Close()
		checks["store"] = st.HealthCheck

		var notifier ledger.Notifier
		if pub != nil {
			notifier = pub
		}
		exporter = ledger.NewExporter(log, orders, positions, st, notifier, cfg.ExportEvery)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: true,
	})
	api.RegisterRoutes(app, api.NewHandler(log, orders, positions, adapter), checks)

	msgBus.Start()
	dataBus.Start()
	defer dataBus.Stop()
	defer msgBus.Stop()

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Errorw("fiber.listen_failed", "error", err)
			stop()
		}
	}()

	// --- Broker connection ---
	go func() {
		if err := adapter.Connect(ctx); err != nil {
			logg.Errorw("broker connect failed", "error", err)
			return
		}
		if err := adapter.SubscribePositions(ctx); err != nil {
			logg.Warnw("positions subscription failed", "error", err)
		}
		if err := adapter.SubscribeAccountSummary(ctx); err != nil {
			logg.Warnw("account summary subscription failed", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()
	if exporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exporter.Start(ctx)
		}()
	}
	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			logg.Errorw("failed to start rabbitmq consumer", "error", err)
			return 1
		}
	}

	logg.Infow("[execution-core] running", "env", cfg.Env, "port", cfg.Port)

	code := 0
	select {
	case <-ctx.Done():
		logg.Info("shutting down [execution-core]...")
	case le := <-fatal:
		logg.Errorw("fatal event, shutting down", "source", le.Source, "message", le.Message, "error", le.Error)
		code = 1
	}

	reconciler.Stop()
	if exporter != nil {
		exporter.Stop()
	}
	// final export runs before the store closes
	wg.Wait()
	if err := adapter.Close(); err != nil {
		logg.Warnw("broker.close_failed", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	return code
}

// resolveCredentials reads gateway credentials from AWS Secrets Manager when
// a secret name is configured, otherwise from EC_BROKER_* variables. A
// missing environment secret means an unauthenticated session.
func resolveCredentials(ctx context.Context, cfg *config.Config, log *zap.Logger) (broker.Credentials, error) {
	var (
		provider secrets.Provider = secrets.EnvProvider{Prefix: "EC"}
		name                      = "broker"
	)
	if cfg.AWSSecretName != "" {
		aws, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return broker.Credentials{}, fmt.Errorf("aws secrets provider: %w", err)
		}
		provider, name = aws, cfg.AWSSecretName
	}

	resolver := internalsecrets.NewResolver(log, provider, secrets.NewCache[broker.Credentials](cfg.CacheTTL))
	creds, err := resolver.Resolve(ctx, name)
	if errors.Is(err, secrets.ErrSecretNotFound) && cfg.AWSSecretName == "" {
		return broker.Credentials{}, nil
	}
	return creds, err
}

func mustSubscribe(logg *zap.SugaredLogger, bus *eventbus.EventBus, c model.Category, h eventbus.Handler) {
	if err := bus.Subscribe(c, h); err != nil {
		logg.Fatalw("bus subscribe failed", "category", c, "error", err)
	}
}
