package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magnifycash/backend/internal/config"
	"github.com/magnifycash/backend/internal/db"
	"github.com/magnifycash/backend/internal/jobs"
	"github.com/magnifycash/backend/internal/observability"
	postgresrepo "github.com/magnifycash/backend/internal/repository/postgres"
	"github.com/magnifycash/backend/internal/reputation"
	"github.com/magnifycash/backend/internal/token"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect postgres", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	tokens, err := token.NewClientFromConfig(cfg.TokenMode, cfg.TokenServiceURL, cfg.PoolAccount)
	if err != nil {
		logger.Error("failed to build token client", "err", err)
		os.Exit(1)
	}
	registry, err := reputation.NewRegistryFromConfig(cfg.ReputationMode, cfg.ReputationServiceURL)
	if err != nil {
		logger.Error("failed to build reputation registry", "err", err)
		os.Exit(1)
	}

	worker := jobs.NewWorker(postgresrepo.NewOutboxRepository(pool), tokens, registry)

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", "interval", interval.String(), "batch_size", cfg.WorkerBatchSize)
	for {
		select {
		case <-sigCtx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := worker.RunOnce(runCtx, cfg.WorkerBatchSize)
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker run failed", "err", err)
			}
		}
	}
}
