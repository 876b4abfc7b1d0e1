package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/lending-bfa-go/internal/config"
	"github.com/boddenberg/lending-bfa-go/internal/handler"
	"github.com/boddenberg/lending-bfa-go/internal/infra/events"
	"github.com/boddenberg/lending-bfa-go/internal/infra/lock"
	"github.com/boddenberg/lending-bfa-go/internal/infra/memstore"
	"github.com/boddenberg/lending-bfa-go/internal/infra/observability"
	"github.com/boddenberg/lending-bfa-go/internal/infra/pgstore"
	"github.com/boddenberg/lending-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/lending-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/lending-bfa-go/internal/port"
	"github.com/boddenberg/lending-bfa-go/internal/service"

	"go.uber.org/zap"
)

// app is the fully wired dependency graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	store      port.RecordStore
	checks     []handler.HealthCheck
	auth       *service.AuthService
	identity   *service.IdentityResolver
	invites    *service.InviteService
	lending    *service.LendingService
	assignment *service.AssignmentService

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	// --- Activation lock ---
	var locker port.Locker
	if cfg.RedisAddr != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		locker = lock.NewRedis(rdb, logger)
		logger.Info("activation lock backed by Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		locker = lock.NewLocal()
		logger.Info("activation lock is process-local")
	}

	// --- Domain events ---
	var publisher port.EventPublisher
	if cfg.RabbitMQURL != "" {
		amqp, err := events.NewAMQP(cfg.RabbitMQURL, cfg.EventExchange, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, amqp.Close)
		publisher = amqp
		logger.Info("publishing domain events to RabbitMQ", zap.String("exchange", cfg.EventExchange))
	} else {
		publisher = events.NewLog(logger)
	}

	// --- Services ---
	a.auth = service.NewAuthService(a.store, cfg.JWTSecret, logger)
	a.identity = service.NewIdentityResolver(a.store, a.metrics, logger)
	a.assignment = service.NewAssignmentService(a.store, a.metrics, logger)
	a.invites = service.NewInviteService(a.store, a.identity, publisher, locker, service.InviteConfig{
		TTL:     cfg.InviteTTL,
		LockTTL: cfg.ActivationLockTTL,
	}, a.metrics, logger)
	a.lending = service.NewLendingService(a.store, a.identity, a.assignment, publisher, a.metrics, logger)

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.StoreBackend {
	case config.StoreSupabase:
		if cfg.SupabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=%s requires SUPABASE_URL", cfg.StoreBackend)
		}
		client := supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			},
			a.logger,
		)
		a.store = client
		a.checks = append(a.checks, handler.HealthCheck{Name: "supabase", Pinger: client})
		a.logger.Info("using Supabase as record store", zap.String("supabase_url", cfg.SupabaseURL))

	case config.StorePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=%s requires DATABASE_URL", cfg.StoreBackend)
		}
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureTable(ctx); err != nil {
			return fmt.Errorf("ensure records table: %w", err)
		}
		a.store = pg
		a.checks = append(a.checks, handler.HealthCheck{Name: "postgres", Pinger: pg})
		a.logger.Info("using Postgres as record store")

	case config.StoreMemory:
		mem := memstore.New()
		if cfg.SeedFile != "" {
			if err := mem.LoadSeedFile(cfg.SeedFile); err != nil {
				return err
			}
		}
		a.store = mem
		a.checks = append(a.checks, handler.HealthCheck{Name: "memory", Pinger: mem})
		a.logger.Warn("using in-memory record store, data is lost on restart", zap.String("seed_file", cfg.SeedFile))

	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	return nil
}

func (a *app) router() http.Handler {
	return handler.NewRouter(handler.Services{
		Auth:       a.auth,
		Identity:   a.identity,
		Invites:    a.invites,
		Lending:    a.lending,
		Assignment: a.assignment,
		Checks:     a.checks,
	}, a.metrics, a.logger)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
