package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/inventrack/inventrack-backend/api/routes"
	"github.com/inventrack/inventrack-backend/internal/audit"
	"github.com/inventrack/inventrack-backend/internal/cron"
	"github.com/inventrack/inventrack-backend/internal/stock"
	"github.com/inventrack/inventrack-backend/internal/tokens"
	"github.com/inventrack/inventrack-backend/pkg/config"
	"github.com/inventrack/inventrack-backend/pkg/db"
	"github.com/inventrack/inventrack-backend/pkg/instance"
	"github.com/inventrack/inventrack-backend/pkg/logger"
	"github.com/inventrack/inventrack-backend/pkg/metrics"
	"github.com/inventrack/inventrack-backend/pkg/migrate"
	"github.com/inventrack/inventrack-backend/pkg/redis"
)

const (
	serviceName     = "inventrack-worker"
	shutdownTimeout = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})

	if cfg.App.IsProd() && cfg.DB.IsSQLite() {
		return fmt.Errorf("%s=%s is not allowed in %s", config.EnvDBDriver, cfg.DB.Driver, cfg.App.Env)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, redisClient.Close())
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	domainMetrics := metrics.NewDomainMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	if err := checkTokenConfig(cfg.Tokens); err != nil {
		return err
	}

	stockSvc, err := buildStock(cfg, logg, dbClient, domainMetrics)
	if err != nil {
		return err
	}
	logg.Info(ctx, "stock service ready")

	cronService, err := buildCron(cfg, logg, redisClient, domainMetrics, cronMetrics, stockSvc)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.App.Port),
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "ops server listening on :"+cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	cronErr := make(chan error, 1)
	go func() {
		cronErr <- cronService.Run(ctx)
	}()

	logg.Info(ctx, "worker started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	runErr = multierr.Append(runErr, server.Shutdown(shutdownCtx))

	if cerr := <-cronErr; cerr != nil && !errors.Is(cerr, context.Canceled) {
		runErr = multierr.Append(runErr, cerr)
	}

	logg.Info(context.Background(), "worker shutting down gracefully")
	return runErr
}

// checkTokenConfig builds the token guard only to reject settings it cannot
// use. The worker issues no tokens.
func checkTokenConfig(cfg config.TokensConfig) error {
	if _, err := tokens.NewGuard(tokens.GuardConfig{
		HashKey:    []byte(cfg.HashKey),
		TokenBytes: cfg.TokenBytes,
	}); err != nil {
		return fmt.Errorf("refresh token config: %w", err)
	}
	return nil
}

func buildStock(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, domainMetrics *metrics.DomainMetrics) (stock.Service, error) {
	auditSvc, err := audit.NewService(audit.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, err
	}

	return stock.NewService(stock.ServiceParams{
		Repo:        stock.NewRepository(dbClient.DB()),
		Audit:       auditSvc,
		Logger:      logg,
		Metrics:     domainMetrics,
		MaxAttempts: cfg.Ledger.MaxAttempts,
	})
}

func buildCron(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	domainMetrics *metrics.DomainMetrics,
	cronMetrics *metrics.CronJobMetrics,
	stockSvc stock.Service,
) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron:"+cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}

	lowStock, err := cron.NewLowStockJob(cron.LowStockJobParams{
		Logger:    logg,
		Source:    stockSvc,
		Metrics:   domainMetrics,
		BatchSize: cfg.Cron.LowStockBatch,
	})
	if err != nil {
		return nil, err
	}

	jobs, err := cron.NewRegistry(lowStock)
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   jobs,
		Lock:       lock,
		Metrics:    cronMetrics,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.LockTTL,
	})
}
