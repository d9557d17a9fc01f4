package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"entregas/internal/cli"
	"entregas/internal/core"
	apphttp "entregas/internal/http"
	"entregas/internal/log"
	"entregas/internal/rates"
	"entregas/internal/services"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	be := cli.InitBackend(context.Background(), logger, cfg)

	rateTable, err := rates.NewReloader(cfg.RatesFile, logger.WithComponent(log.ComponentRates).Logger)
	if err != nil {
		logger.Error("Failed to load rates", log.FieldError, err, "path", cfg.RatesFile)
		_ = be.Cleanup()
		os.Exit(1)
	}

	tracker := services.NewTrackerService(be.Store, rateTable, core.SystemClock{}, logger)

	opts := apphttp.Options{
		Logger:    logger,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}
	if p, ok := be.Store.(pinger); ok {
		opts.Ready = p.Ping
	}
	srv := apphttp.NewServer(":"+cfg.Port, tracker, opts)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if err := rateTable.Watch(ctx, srv.Invalidate); err != nil {
		logger.Warn("Rates file will not be watched", log.FieldError, err)
	}

	logger.Info("Starting entregas server",
		"port", cfg.Port,
		"backend", be.Type.String(),
		"rates_file", cfg.RatesFile,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		_ = be.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
