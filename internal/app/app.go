// Package app wires the gateway's stores, connectors and dispatch engines
// for the api and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"notification-gateway/internal/config"
	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/memory"
	"notification-gateway/internal/infra/adapter/persistence/postgres"
	"notification-gateway/internal/infra/adapter/persistence/sqlite"
	"notification-gateway/internal/infra/connector"
	"notification-gateway/internal/infra/db"
	"notification-gateway/internal/infra/events"
	"notification-gateway/internal/repository"
	"notification-gateway/internal/resilience/circuitbreaker"
	"notification-gateway/internal/resilience/retry"
	"notification-gateway/internal/usecase/delivery"
	"notification-gateway/internal/usecase/dispatch"
	"notification-gateway/internal/usecase/fallback"
	"notification-gateway/internal/usecase/idempotency"
	envconfig "notification-gateway/pkg/config"
)

// DefaultSQLitePath is used when DB_DRIVER=sqlite and SQLITE_PATH is unset.
const DefaultSQLitePath = "gateway.db"

// Store is an opened persistence backend.
type Store struct {
	Driver db.Driver
	Repos  repository.Store
	// DB is nil for the in-memory driver.
	DB *sql.DB
}

// Close releases the database handle, if any.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// OpenStore opens the backend selected by DB_DRIVER and migrates its schema.
//
//	postgres (default): DATABASE_URL
//	sqlite:             SQLITE_PATH
//	memory:             no configuration, state is lost on exit
func OpenStore(ctx context.Context, logger *slog.Logger) (*Store, error) {
	driver, err := db.ParseDriver(envconfig.GetEnvString("DB_DRIVER", ""))
	if err != nil {
		return nil, err
	}

	switch driver {
	case db.DriverMemory:
		logger.Warn("using in-memory store; delivery state will not survive restarts")
		return &Store{Driver: driver, Repos: memory.NewStore().Repositories()}, nil

	case db.DriverSQLite:
		conn, err := db.OpenSQLite(envconfig.GetEnvString("SQLITE_PATH", DefaultSQLitePath))
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUpSQLite(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return &Store{Driver: driver, Repos: sqlite.NewStore(conn), DB: conn}, nil

	default:
		conn, err := db.Open(ctx, envconfig.GetEnvString("DATABASE_URL", ""))
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return &Store{Driver: driver, Repos: postgres.NewStore(conn), DB: conn}, nil
	}
}

// Publisher is a delivery event sink that owns a connection.
type Publisher interface {
	delivery.EventPublisher
	Close() error
}

// NewPublisher returns a Kafka publisher when KAFKA_BROKERS is set and a
// no-op publisher otherwise.
func NewPublisher(logger *slog.Logger) (Publisher, error) {
	brokers := envconfig.GetEnvString("KAFKA_BROKERS", "")
	if brokers == "" {
		return events.NoopPublisher{}, nil
	}
	pub, err := events.NewKafkaPublisher(brokers, envconfig.GetEnvString("KAFKA_TOPIC", events.DefaultTopic), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("delivery events published to kafka", slog.String("brokers", brokers))
	return pub, nil
}

// Options are the inputs of Build.
type Options struct {
	Config      *config.GatewayConfig
	Credentials connector.Credentials
	Breakers    *circuitbreaker.Registry
	Store       repository.Store
	Publisher   delivery.EventPublisher
	// HTTPClient overrides the per-connector client (tests).
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Gateway is the assembled dispatch pipeline.
type Gateway struct {
	Engines map[entity.Channel]*dispatch.Engine
	Tracker *delivery.Tracker
	Router  *fallback.Router
	Store   repository.Store
	config  *config.GatewayConfig
}

// Build creates one engine per channel whose credentials are present.
// The SMS engine is built first because the fallback router dispatches
// onto it; without SMS the router stays disabled.
func Build(opts Options) (*Gateway, error) {
	if opts.Config == nil {
		return nil, errors.New("app: gateway config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry()
	}

	g := &Gateway{
		Engines: make(map[entity.Channel]*dispatch.Engine, len(entity.Channels())),
		Tracker: delivery.NewTracker(opts.Store.Deliveries, opts.Publisher, logger),
		Store:   opts.Store,
		config:  opts.Config,
	}
	guard := idempotency.NewGuard(opts.Store.Idempotency)

	build := func(ch entity.Channel, fb dispatch.FallbackHandler) error {
		if !opts.Credentials.Configured(ch) {
			logger.Warn("channel disabled: provider credentials missing", slog.String("channel", ch.String()))
			return nil
		}
		cc := opts.Config.Channel(ch)
		conn, err := connector.New(ch, opts.Credentials, connector.Deps{
			HTTPClient: opts.HTTPClient,
			Limiter:    connector.NewRateLimiter(cc.RateLimit.RPS, cc.RateLimit.Burst),
			Breaker:    breakers.For(ch),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		payloader, err := connector.PayloaderFor(ch)
		if err != nil {
			return err
		}
		g.Engines[ch] = dispatch.NewEngine(
			dispatch.Config{MaxConcurrency: cc.MaxConcurrency, AttemptTimeout: cc.AttemptTimeout},
			dispatch.Deps{
				Connector: conn,
				Payloader: payloader,
				Policy:    retry.ForChannel(ch, cc.RetryConfig()).WithLogger(logger),
				Guard:     guard,
				Tracker:   g.Tracker,
				Audit:     opts.Store.Audit,
				Fallback:  fb,
				Logger:    logger,
			},
		)
		return nil
	}

	if err := build(entity.ChannelSMS, nil); err != nil {
		return nil, err
	}
	if sms, ok := g.Engines[entity.ChannelSMS]; ok {
		g.Router = fallback.NewRouter(opts.Config.Fallback.Enabled, opts.Store.Deliveries, opts.Store.Requests, sms, logger)
	} else {
		if opts.Config.Fallback.Enabled {
			logger.Warn("sms fallback disabled: sms channel is not configured")
		}
		g.Router = fallback.NewRouter(false, opts.Store.Deliveries, opts.Store.Requests, nil, logger)
	}

	if err := build(entity.ChannelWhatsApp, g.Router); err != nil {
		return nil, err
	}
	if err := build(entity.ChannelTelegram, nil); err != nil {
		return nil, err
	}
	return g, nil
}

// ChannelSettings returns the dispatch service configuration of every
// built engine.
func (g *Gateway) ChannelSettings() map[entity.Channel]dispatch.ChannelSettings {
	out := make(map[entity.Channel]dispatch.ChannelSettings, len(g.Engines))
	for ch, eng := range g.Engines {
		out[ch] = dispatch.ChannelSettings{
			Dispatcher: eng,
			Media:      g.config.Channel(ch).MediaEnabled(),
		}
	}
	return out
}

// Shutdown drains every engine and joins their errors.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	for _, ch := range entity.Channels() {
		eng, ok := g.Engines[ch]
		if !ok {
			continue
		}
		if err := eng.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
