package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/advances"
	"github.com/meshworks/backoffice/internal/collections"
	"github.com/meshworks/backoffice/internal/dashboard"
	"github.com/meshworks/backoffice/internal/ledger"
	"github.com/meshworks/backoffice/internal/observability"
	"github.com/meshworks/backoffice/internal/platform/cache"
	"github.com/meshworks/backoffice/internal/platform/db"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/store"
)

// Services is the wired domain layer shared by the server, the worker and
// the CLI.
type Services struct {
	Store          store.Store
	Redis          *redis.Client
	Activity       *activity.Log
	RBAC           *rbac.Service
	Ledger         *ledger.Service
	Advances       *advances.Service
	Registry       *collections.Registry
	DashboardCache *dashboard.Cache
	Dashboard      *dashboard.Service
	Metrics        *observability.Metrics

	closers []func()
}

// OpenServices connects the configured store backend and wires every service
// on top of it.
func OpenServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		base store.Store
		rdb  *redis.Client
	)
	switch cfg.StoreBackend {
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return nil, err
		}
		base = pg
	case BackendRedis:
		client, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rdb = client
		closers = append(closers, func() { _ = client.Close() })
		base = store.NewRedisStore(client, cfg.RedisKeyPrefix)
	default:
		base = store.NewMemoryStore()
	}

	if rdb == nil {
		client, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, dashboard cache disabled", slog.Any("error", err))
		} else {
			rdb = client
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	st := store.NewRetrying(base, store.RetryPolicy{Attempts: cfg.StoreRetryAttempts, Backoff: cfg.StoreRetryBackoff})
	svc := NewServices(st, rdb, cfg, logger)
	svc.closers = closers
	logger.Info("services ready", slog.String("store", cfg.StoreBackend), slog.Bool("redis", rdb != nil))
	return svc, nil
}

// NewServices wires the domain services over an opened store. rdb may be nil.
func NewServices(st store.Store, rdb *redis.Client, cfg *Config, logger *slog.Logger) *Services {
	metrics := observability.NewMetrics()
	log := activity.NewLog(st, logger.With(slog.String("component", "activity")))

	adv := advances.NewService(st, log, logger.With(slog.String("component", "advances"))).WithObserver(metrics)
	led := ledger.NewService(st, log, logger.With(slog.String("component", "ledger"))).WithObserver(metrics)
	reg := collections.NewRegistry(st, log, logger.With(slog.String("component", "collections")), adv)

	ttl := cfg.DashboardCacheTTL
	dashCache := dashboard.NewCache(rdb, ttl)
	dash := dashboard.NewService(dashboard.RegistrySource{Registry: reg}, dashCache, logger.With(slog.String("component", "dashboard")))
	reg.OnDashboardInputChange(dash.Invalidate)

	return &Services{
		Store:          st,
		Redis:          rdb,
		Activity:       log,
		RBAC:           rbac.NewService(st),
		Ledger:         led,
		Advances:       adv,
		Registry:       reg,
		DashboardCache: dashCache,
		Dashboard:      dash,
		Metrics:        metrics,
	}
}

// Close releases connections opened by OpenServices.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// RequireRedis fails unless a Redis connection is available.
func (s *Services) RequireRedis() error {
	if s.Redis == nil {
		return fmt.Errorf("app: redis connection required")
	}
	return nil
}
