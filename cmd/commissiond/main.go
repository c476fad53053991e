// Command commissiond runs the commission engine HTTP service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/referralpay/commission_engine/internal/app"
	"github.com/referralpay/commission_engine/internal/app/domain/allocation"
	"github.com/referralpay/commission_engine/internal/app/httpapi"
	"github.com/referralpay/commission_engine/internal/app/metrics"
	allocatorsvc "github.com/referralpay/commission_engine/internal/app/services/allocator"
	ledgersvc "github.com/referralpay/commission_engine/internal/app/services/ledger"
	"github.com/referralpay/commission_engine/internal/app/storage"
	"github.com/referralpay/commission_engine/internal/app/storage/memory"
	"github.com/referralpay/commission_engine/internal/app/storage/postgres"
	"github.com/referralpay/commission_engine/internal/config"
	"github.com/referralpay/commission_engine/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "commissiond: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	store, db, err := buildStore(cfg, log)
	if err != nil {
		return fmt.Errorf("configure store: %w", err)
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(app.Stores{Ledger: store}, buildOptions(cfg), log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", buildAPIHandler(cfg, application, log))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      metrics.InstrumentHandler(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}

	log.Info("commissiond stopped")
	return nil
}

func buildAPIHandler(cfg *config.Config, application *app.Application, log *logger.Logger) http.Handler {
	handler := httpapi.NewHandler(application)

	limiter := httpapi.NewRateLimiter(cfg.HTTP.RateLimitPerSecond, cfg.HTTP.RateLimitBurst, log.WithField("component", "ratelimit"))
	return httpapi.CORS(cfg.HTTP.AllowedOrigins, limiter.Handler(handler))
}

func buildStore(cfg *config.Config, log *logger.Logger) (storage.LedgerStore, *sql.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database dsn not configured; using in-memory ledger store")
		return memory.New(), nil, nil
	}

	driver := cfg.Database.Driver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate schema: %w", err)
	}
	log.Info("database schema up to date")

	return postgres.New(db), db, nil
}

func buildOptions(cfg *config.Config) app.Options {
	var ledgerOpts []ledgersvc.Option
	if strings.EqualFold(cfg.Ledger.RemainderPolicy, "discard") {
		ledgerOpts = append(ledgerOpts, ledgersvc.WithRemainderDiscard())
	}
	if cfg.Ledger.ReserveIndex >= 0 {
		ledgerOpts = append(ledgerOpts, ledgersvc.WithReserveIndex(cfg.Ledger.ReserveIndex))
	}

	allocatorOpts := []allocatorsvc.Option{
		allocatorsvc.WithDelta(cfg.Allocator.Delta),
	}
	if cfg.Allocator.RewardMultiplier > 0 {
		allocatorOpts = append(allocatorOpts, allocatorsvc.WithReward(
			allocation.ScaledSumReward(cfg.Allocator.RewardMultiplier)))
	}

	return app.Options{
		LedgerOptions:    ledgerOpts,
		AllocatorOptions: allocatorOpts,
		RunnerSchedule:   cfg.Allocator.Schedule,
	}
}
