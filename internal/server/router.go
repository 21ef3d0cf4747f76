package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magnifycash/backend/internal/auth"
	"github.com/magnifycash/backend/internal/config"
	"github.com/magnifycash/backend/internal/http/handlers"
	"github.com/magnifycash/backend/internal/http/middleware"
	"github.com/magnifycash/backend/internal/version"
	"github.com/magnifycash/backend/internal/ws"
)

const maxRequestBody = 1 << 20 // 1 MiB

type Dependencies struct {
	Pinger            handlers.Pinger
	VaultHandler      *handlers.VaultHandler
	LoanHandler       *handlers.LoanHandler
	AdminHandler      *handlers.AdminHandler
	ReputationHandler *handlers.ReputationHandler
	WSHandler         *ws.Handler
	JWTManager        *auth.JWTManager
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	})
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestBodyLimit(maxRequestBody))

	health := handlers.NewHealthHandler(deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.AdminHandler != nil {
		r.GET("/v1/pool", deps.AdminHandler.GetPool)
		r.GET("/v1/tiers", deps.AdminHandler.ListTiers)
	}

	if deps.JWTManager != nil {
		authed := r.Group("/v1")
		authed.Use(middleware.RequireAuth(deps.JWTManager))

		if deps.VaultHandler != nil {
			authed.GET("/vault", deps.VaultHandler.GetState)
			authed.GET("/vault/accounts/:address", deps.VaultHandler.GetAccount)
			authed.GET("/vault/convert", deps.VaultHandler.Convert)
			authed.POST("/vault/deposits", deps.VaultHandler.Deposit)
			authed.POST("/vault/mints", deps.VaultHandler.Mint)
			authed.POST("/vault/withdrawals", deps.VaultHandler.Withdraw)
			authed.POST("/vault/redemptions", deps.VaultHandler.Redeem)
			authed.POST("/vault/approvals", deps.VaultHandler.Approve)
		}
		if deps.LoanHandler != nil {
			authed.POST("/loans", deps.LoanHandler.RequestLoan)
			authed.GET("/loans", deps.LoanHandler.ListLoans)
			authed.GET("/loans/active", deps.LoanHandler.GetActiveLoan)
			authed.GET("/loans/due", deps.LoanHandler.GetAmountDue)
			authed.GET("/loans/:loanId", deps.LoanHandler.GetLoan)
			authed.GET("/loans/:loanId/due", deps.LoanHandler.GetDefaultedAmountDue)
			authed.POST("/loans/repayments", deps.LoanHandler.Repay)
			authed.POST("/loans/:loanId/default-repayments", deps.LoanHandler.RepayDefaulted)
		}
		if deps.ReputationHandler != nil {
			authed.GET("/reputation/:address", deps.ReputationHandler.GetRecord)
		}

		operator := r.Group("/v1")
		operator.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequireRole(auth.RoleOperator))
		if deps.AdminHandler != nil {
			operator.POST("/admin/setup", deps.AdminHandler.Setup)
			operator.POST("/admin/tiers", deps.AdminHandler.AddTier)
			operator.PUT("/admin/tiers/:tierId", deps.AdminHandler.UpdateTier)
			operator.POST("/admin/withdrawals", deps.AdminHandler.WithdrawLoanTokens)
		}
		if deps.LoanHandler != nil {
			operator.POST("/loans/sweep", deps.LoanHandler.Sweep)
			operator.GET("/admin/loans", deps.LoanHandler.ListActiveLoans)
		}
	}

	if deps.WSHandler != nil {
		r.GET("/ws", deps.WSHandler.Serve)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
