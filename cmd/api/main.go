package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/magnifycash/backend/internal/auth"
	"github.com/magnifycash/backend/internal/config"
	"github.com/magnifycash/backend/internal/db"
	admindomain "github.com/magnifycash/backend/internal/domain/admin"
	loandomain "github.com/magnifycash/backend/internal/domain/loan"
	vaultdomain "github.com/magnifycash/backend/internal/domain/vault"
	"github.com/magnifycash/backend/internal/http/handlers"
	"github.com/magnifycash/backend/internal/observability"
	postgresrepo "github.com/magnifycash/backend/internal/repository/postgres"
	"github.com/magnifycash/backend/internal/reputation"
	"github.com/magnifycash/backend/internal/server"
	"github.com/magnifycash/backend/internal/token"
	"github.com/magnifycash/backend/internal/ws"
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
	eventRepo := postgresrepo.NewEventRepository(pool)

	jwtManager := auth.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)

	outboxRepo := postgresrepo.NewOutboxRepository(pool)
	vaultService := vaultdomain.NewService(poolRepo, vaultRepo, tokens, outboxRepo, cfg.PoolAccount)
	loanService := loandomain.NewService(poolRepo, tierRepo, loanRepo, vaultRepo, tokens, registry, predecessor, outboxRepo, cfg.PoolAccount)
	adminService := admindomain.NewService(poolRepo, tierRepo, vaultRepo, tokens, cfg.PoolAccount)

	hub := ws.NewHub()
	notifier := ws.NewNotifier(eventRepo, hub, cfg.NotifierPollInterval)

	r := server.NewRouter(cfg, logger, server.Dependencies{
		Pinger:            pool,
		VaultHandler:      handlers.NewVaultHandler(vaultService),
		LoanHandler:       handlers.NewLoanHandler(loanService),
		AdminHandler:      handlers.NewAdminHandler(adminService, cfg.EarlyExitFeeBPS, cfg.DefaultPenaltyBPS, cfg.Treasury),
		ReputationHandler: handlers.NewReputationHandler(registry),
		WSHandler:         ws.NewHandler(hub),
		JWTManager:        jwtManager,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notifier.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event notifier stopped", "err", err)
		}
	}()

	go func() {
		logger.Info("api server starting", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("api server stopped")
}
