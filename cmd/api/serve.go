// AngelaMos | 2026
// serve.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/carterperez-dev/templates/crm-backend/internal/admin"
	"github.com/carterperez-dev/templates/crm-backend/internal/audit"
	"github.com/carterperez-dev/templates/crm-backend/internal/auth"
	"github.com/carterperez-dev/templates/crm-backend/internal/authz"
	"github.com/carterperez-dev/templates/crm-backend/internal/config"
	"github.com/carterperez-dev/templates/crm-backend/internal/core"
	"github.com/carterperez-dev/templates/crm-backend/internal/health"
	"github.com/carterperez-dev/templates/crm-backend/internal/middleware"
	"github.com/carterperez-dev/templates/crm-backend/internal/policy"
	"github.com/carterperez-dev/templates/crm-backend/internal/server"
	"github.com/carterperez-dev/templates/crm-backend/internal/tenant"
	"github.com/carterperez-dev/templates/crm-backend/internal/user"
)

const (
	drainDelay = 5 * time.Second
)

// deps is everything the HTTP surface and the maintenance commands share.
type deps struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *core.Telemetry
	registry  *prometheus.Registry
	metrics   *core.Metrics
	db        *core.Database
	redis     *core.Redis
	exec      *core.Executor
	policies  *policy.Store
	recorder  *audit.Recorder
	directory *tenant.Directory
	guard     *authz.Guard
	jwt       *auth.JWTManager
	users     *user.Service
	auth      *auth.Service
}

//nolint:funlen // bootstrap code is inherently verbose
func bootstrap(ctx context.Context, configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	d := &deps{cfg: cfg, logger: logger}

	d.telemetry, err = core.NewTelemetry(ctx, cfg.Otel, cfg.App, cfg.Tenancy.SessionSetting)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
		d.telemetry = nil
	} else if cfg.Otel.Enabled {
		logger.Info("OpenTelemetry tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
		)
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = core.NewMetrics(d.registry)

	d.db, err = core.NewDatabase(ctx, cfg.Database, cfg.Otel.ServiceName)
	if err != nil {
		return nil, err
	}
	d.registry.MustRegister(collectors.NewDBStatsCollector(d.db.DB.DB, "crm"))
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	d.redis, err = core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		d.close(ctx)
		return nil, err
	}
	logger.Info("redis connected", "pool_size", cfg.Redis.PoolSize)

	tracer := otel.Tracer(cfg.Otel.ServiceName)
	if d.telemetry != nil {
		tracer = d.telemetry.Tracer
	}

	d.exec = core.NewExecutor(d.db.DB, core.ExecutorConfig{
		SessionSetting:   cfg.Tenancy.SessionSetting,
		AcquireTimeout:   cfg.Database.AcquireTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
		Logger:           logger,
		Metrics:          d.metrics,
		Tracer:           tracer,
	})

	d.policies, err = policy.NewStore(cfg.Policy.File, logger)
	if err != nil {
		d.close(ctx)
		return nil, err
	}

	d.recorder = audit.NewRecorder(
		buildAuditSink(cfg.Audit, logger, d.exec, d.redis),
		cfg.Audit.Timeout,
		logger,
	)

	d.directory = tenant.NewDirectory(d.exec, logger)

	d.guard = authz.NewGuard(authz.GuardConfig{
		Policies: d.policies,
		Usage:    authz.NewSQLUsage(d.exec),
		Recorder: d.recorder,
		Metrics:  d.metrics,
		Logger:   logger,
		Tracer:   tracer,
	})

	d.jwt, err = auth.NewJWTManager(cfg.JWT)
	if err != nil {
		d.close(ctx)
		return nil, err
	}
	logger.Info("JWT manager initialized",
		"algorithm", "ES256",
		"key_id", d.jwt.GetKeyID(),
	)

	d.users = user.NewService(user.NewRepository(d.exec), d.guard, logger)
	d.auth = auth.NewService(auth.NewRepository(d.exec), d.jwt, d.users, logger)

	return d, nil
}

func buildAuditSink(
	cfg config.AuditConfig,
	logger *slog.Logger,
	exec *core.Executor,
	rdb *core.Redis,
) audit.Sink {
	sinks := make(audit.Multi, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(logger))
		case "db":
			sinks = append(sinks, audit.NewSQLSink(exec))
		case "redis":
			sinks = append(sinks, audit.NewRedisStreamSink(
				rdb.Client, cfg.RedisStream, cfg.StreamMaxLen,
			))
		}
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sinks
}

func (d *deps) close(ctx context.Context) {
	if d.telemetry != nil {
		if err := d.telemetry.Shutdown(ctx); err != nil {
			d.logger.Error("telemetry shutdown error", "error", err)
		}
	}

	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Error("redis close error", "error", err)
		}
	}

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Error("database close error", "error", err)
		}
	}
}

//nolint:funlen // route table
func serve(ctx context.Context, configPath string) error {
	d, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	cfg, logger := d.cfg, d.logger

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	healthHandler := health.NewHandler(
		health.Dependency{Name: "database", Checker: d.db},
		health.Dependency{Name: "redis", Checker: d.redis},
	)

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    d.db.Stats,
		RedisStats: d.redis.PoolStats,
		DBPing:     d.db.Ping,
		RedisPing:  d.redis.Ping,
		AuditLength: func(ctx context.Context) (int64, error) {
			return d.redis.StreamLength(ctx, cfg.Audit.RedisStream)
		},
		Policies:  d.policies,
		Companies: d.directory,
		Recorder:  d.recorder,
	})

	resolver := tenant.NewResolver(tenant.ResolverConfig{
		BypassHeader: cfg.Tenancy.BypassHeader,
		TargetHeader: cfg.Tenancy.TargetHeader,
		Column:       cfg.Tenancy.TenantColumn,
		Logger:       logger,
		Metrics:      d.metrics,
		Recorder:     d.recorder,
	})

	srvCfg := server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Gatherer = d.registry
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	srv := server.New(srvCfg)

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recoverer(logger))
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(
		middleware.NewRateLimiter(d.redis.Client, middleware.RateLimitConfig{
			Limit: middleware.PerMinute(
				cfg.RateLimit.Requests,
				cfg.RateLimit.Burst,
			),
			FailOpen: true,
		}).Handler,
	)

	srv.Mount()

	router.Get("/.well-known/jwks.json", d.jwt.GetJWKSHandler())

	authenticator := middleware.Authenticator(d.jwt, d.directory, logger)

	authHandler := auth.NewHandler(d.auth)
	userHandler := user.NewHandler(d.users, d.guard)

	router.Route("/v1", func(r chi.Router) {
		authHandler.RegisterRoutes(r, authenticator)

		r.Group(func(r chi.Router) {
			r.Use(authenticator)
			r.Use(resolver.Middleware)
			r.Use(middleware.NoteScope)
			r.Use(middleware.PlanRateLimiter(d.redis.Client, d.policies))

			r.Get("/me/access", d.guard.AccessHandler)
			userHandler.RegisterRoutes(r)
			adminHandler.RegisterRoutes(r, d.guard.RequireTop)
		})
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.Policy.Watch && cfg.Policy.File != "" {
		g.Go(func() error {
			return d.policies.Watch(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(gctx),
			cfg.Server.ShutdownTimeout+drainDelay+5*time.Second,
		)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx, drainDelay); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	d.close(closeCtx)

	logger.Info("application stopped")
	return err
}
