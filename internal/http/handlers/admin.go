package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/domain/admin"
	"github.com/magnifycash/backend/internal/domain/pool"
	tierdomain "github.com/magnifycash/backend/internal/domain/tier"
)

type AdminService interface {
	Setup(ctx context.Context, in admin.SetupInput) (*pool.Config, error)
	Config(ctx context.Context) (*pool.Config, error)
	Phase(ctx context.Context) (pool.Phase, error)
	AddTier(ctx context.Context, in tierdomain.CreateInput) (*tierdomain.Tier, error)
	UpdateTier(ctx context.Context, id int32, in tierdomain.CreateInput) (*tierdomain.Tier, error)
	ListTiers(ctx context.Context) ([]tierdomain.Tier, error)
	WithdrawLoanTokens(ctx context.Context) (int64, error)
}

// AdminHandler wires the operator surface. The fee schedule and treasury
// come from service configuration, not the setup request.
type AdminHandler struct {
	adminService      AdminService
	earlyExitFeeBPS   int32
	defaultPenaltyBPS int32
	treasury          string
}

func NewAdminHandler(adminService AdminService, earlyExitFeeBPS, defaultPenaltyBPS int32, treasury string) *AdminHandler {
	return &AdminHandler{
		adminService:      adminService,
		earlyExitFeeBPS:   earlyExitFeeBPS,
		defaultPenaltyBPS: defaultPenaltyBPS,
		treasury:          treasury,
	}
}

type tierRequest struct {
	LoanAmount        int64 `json:"loan_amount"`
	LoanPeriodSeconds int64 `json:"loan_period_seconds"`
	InterestRateBPS   int32 `json:"interest_rate_bps"`
}

func (r tierRequest) toInput() tierdomain.CreateInput {
	return tierdomain.CreateInput{
		LoanAmount:      r.LoanAmount,
		LoanPeriod:      time.Duration(r.LoanPeriodSeconds) * time.Second,
		InterestRateBPS: r.InterestRateBPS,
	}
}

func (h *AdminHandler) Setup(c *gin.Context) {
	var req struct {
		StartTime         time.Time     `json:"start_time"`
		EndTime           time.Time     `json:"end_time"`
		LoanAmount        int64         `json:"loan_amount"`
		LoanPeriodSeconds int64         `json:"loan_period_seconds"`
		InterestRateBPS   int32         `json:"interest_rate_bps"`
		MinTier           int32         `json:"min_tier"`
		Tiers             []tierRequest `json:"tiers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	in := admin.SetupInput{
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		LoanAmount:        req.LoanAmount,
		LoanPeriod:        time.Duration(req.LoanPeriodSeconds) * time.Second,
		InterestRateBPS:   req.InterestRateBPS,
		MinTier:           req.MinTier,
		EarlyExitFeeBPS:   h.earlyExitFeeBPS,
		DefaultPenaltyBPS: h.defaultPenaltyBPS,
		Treasury:          h.treasury,
	}
	for _, t := range req.Tiers {
		in.Tiers = append(in.Tiers, t.toInput())
	}
	cfg, err := h.adminService.Setup(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, poolResponse(cfg, nil))
}

func (h *AdminHandler) GetPool(c *gin.Context) {
	cfg, err := h.adminService.Config(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	phase, err := h.adminService.Phase(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, poolResponse(cfg, &phase))
}

func (h *AdminHandler) ListTiers(c *gin.Context) {
	tiers, err := h.adminService.ListTiers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]gin.H, 0, len(tiers))
	for i := range tiers {
		items = append(items, tierResponse(&tiers[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *AdminHandler) AddTier(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	t, err := h.adminService.AddTier(c.Request.Context(), req.toInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tierResponse(t))
}

func (h *AdminHandler) UpdateTier(c *gin.Context) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("tierId")), 10, 32)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tier_id"})
		return
	}
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	t, err := h.adminService.UpdateTier(c.Request.Context(), int32(id), req.toInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tierResponse(t))
}

func (h *AdminHandler) WithdrawLoanTokens(c *gin.Context) {
	amount, err := h.adminService.WithdrawLoanTokens(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount})
}

func poolResponse(cfg *pool.Config, phase *pool.Phase) gin.H {
	out := gin.H{
		"start_time":          cfg.StartTime,
		"end_time":            cfg.EndTime,
		"loan_amount":         cfg.LoanAmount,
		"loan_period_seconds": int64(cfg.LoanPeriod / time.Second),
		"interest_rate_bps":   cfg.InterestRateBPS,
		"min_tier":            cfg.MinTier,
		"early_exit_fee_bps":  cfg.EarlyExitFeeBPS,
		"default_penalty_bps": cfg.DefaultPenaltyBPS,
	}
	if phase != nil {
		out["phase"] = phase.String()
	}
	return out
}

func tierResponse(t *tierdomain.Tier) gin.H {
	return gin.H{
		"id":                  t.ID,
		"loan_amount":         t.LoanAmount,
		"loan_period_seconds": int64(t.LoanPeriod / time.Second),
		"interest_rate_bps":   t.InterestRateBPS,
	}
}
