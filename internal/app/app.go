package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/coupon"
	"github.com/xenking/couponhub/internal/domain/ident"
	"github.com/xenking/couponhub/internal/domain/user"
	"github.com/xenking/couponhub/internal/handler"
	"github.com/xenking/couponhub/internal/storage/postgres"
	"github.com/xenking/couponhub/internal/storage/redislease"
	"github.com/xenking/couponhub/internal/sweep"
	"github.com/xenking/couponhub/pkg/health"
	"github.com/xenking/couponhub/pkg/httpmiddleware"
)

const sweepLeaseKey = "couponhub:sweep:lease"

// Telemetry provides the OpenTelemetry providers. *app.Telemetry from the
// go-faster SDK implements it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the HTTP server and the sweep
// scheduler, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	quotaLoc, err := loadLocation(cfg.Quota.Timezone)
	if err != nil {
		return errors.Wrap(err, "quota timezone")
	}
	sweepLoc, err := loadLocation(cfg.Sweep.Timezone)
	if err != nil {
		return errors.Wrap(err, "sweep timezone")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	sequenceRepo := postgres.NewSequenceRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	categoryRepo := postgres.NewCategoryRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)

	// Domain services.
	ids := ident.NewAllocator(sequenceRepo)
	userService := user.NewService(userRepo, ids)
	categoryService := category.NewService(categoryRepo)
	couponService := coupon.NewService(couponRepo, userRepo, categoryRepo, ids, quotaLoc)

	// Health check service.
	healthSvc := health.New()
	healthSvc.Register(health.Check{
		Name:    "postgres",
		Kind:    health.Readiness,
		Fn:      health.PingCheck(pool),
		Timeout: 5 * time.Second,
	})
	healthSvc.Register(health.Check{
		Name: "goroutines",
		Kind: health.Liveness,
		Fn:   health.GoroutineCountCheck(10000),
	})
	healthSvc.Register(health.Check{
		Name: "gc_pause",
		Kind: health.Liveness,
		Fn:   health.GCMaxPauseCheck(time.Second),
	})

	// Sweep: optional Redis lease, sweeper, scheduler.
	sweepOpts := sweep.Options{
		Timeout:        cfg.Sweep.Timeout,
		Reconciler:     userRepo,
		ReconcileGrace: cfg.Sweep.ReconcileGrace,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		lease := redislease.New(rdb, sweepLeaseKey, cfg.Sweep.LeaseTTL)
		sweepOpts.Lease = lease
		healthSvc.Register(health.Check{
			Name:    "redis",
			Kind:    health.Readiness,
			Fn:      health.PingCheck(lease),
			Timeout: 2 * time.Second,
		})
	}
	sweeper, err := sweep.New(couponRepo, lg.Named("sweep"), sweepOpts)
	if err != nil {
		return errors.Wrap(err, "create sweeper")
	}
	// A failed run shows up on /livez until the next successful one.
	healthSvc.Register(health.Check{
		Name:             "sweep",
		Kind:             health.Liveness,
		Fn:               sweeper.Check,
		FailureThreshold: 1,
	})
	scheduler, err := sweep.NewScheduler(cfg.Sweep.Schedule, sweepLoc, sweeper, lg.Named("sweep"))
	if err != nil {
		return errors.Wrap(err, "create scheduler")
	}

	// HTTP.
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})
	h := handler.NewHandler(userService, categoryService, couponService)

	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.RequestID(),
				limiter.Middleware(),
				httpmiddleware.LogRequests(),
			),
			"couponhub",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)
	scheduler.Start()
	lg.Info("Sweep scheduled",
		zap.String("schedule", cfg.Sweep.Schedule),
		zap.Time("next", scheduler.Next()),
		zap.Bool("lease", sweepOpts.Lease != nil),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := scheduler.Stop(shutdownCtx); err != nil {
			lg.Error("Scheduler shutdown error", zap.Error(err))
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}
