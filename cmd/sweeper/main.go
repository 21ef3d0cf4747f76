package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magnifycash/backend/internal/config"
	"github.com/magnifycash/backend/internal/db"
	loandomain "github.com/magnifycash/backend/internal/domain/loan"
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
	predecessor, err := reputation.NewPredecessorFromConfig(cfg.PredecessorPoolURL)
	if err != nil {
		logger.Error("failed to build predecessor client", "err", err)
		os.Exit(1)
	}

	poolRepo := postgresrepo.NewPoolRepository(pool)
	tierRepo := postgresrepo.NewTierRepository(pool)
	vaultRepo := postgresrepo.NewVaultRepository(pool)
	loanRepo := postgresrepo.NewLoanRepository(pool)

	loanService := loandomain.NewService(poolRepo, tierRepo, loanRepo, vaultRepo, tokens, registry, predecessor, postgresrepo.NewOutboxRepository(pool), cfg.PoolAccount)

	sweeper := jobs.NewSweeper(loanService, logger, cfg.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start sweeper", "err", err)
		os.Exit(1)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sweeper started", "schedule", cfg.SweepSchedule)
	<-sigCtx.Done()
	sweeper.Stop()
	logger.Info("sweeper stopped")
}
