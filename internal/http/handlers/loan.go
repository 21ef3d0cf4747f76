package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	loandomain "github.com/magnifycash/backend/internal/domain/loan"
	"github.com/magnifycash/backend/internal/http/middleware"
)

type LoanService interface {
	RequestLoan(ctx context.Context, borrower string, tierID int32) (*loandomain.Entity, error)
	RepayLoan(ctx context.Context, borrower string, auth *loandomain.Authorization) (*loandomain.Settlement, error)
	RepayDefaultedLoan(ctx context.Context, borrower, loanID string, auth *loandomain.Authorization) (*loandomain.Settlement, error)
	ProcessOutdatedLoans(ctx context.Context) (int32, error)
	ActiveLoan(ctx context.Context, borrower string) (*loandomain.Entity, error)
	GetByID(ctx context.Context, id string) (*loandomain.Entity, error)
	History(ctx context.Context, borrower string, limit, offset int32) ([]loandomain.Entity, error)
	AmountDue(ctx context.Context, borrower string) (*loandomain.Settlement, error)
	DefaultedAmountDue(ctx context.Context, borrower, loanID string) (*loandomain.Settlement, error)
	ListActive(ctx context.Context) ([]loandomain.Entity, error)
}

type LoanHandler struct {
	loanService LoanService
}

func NewLoanHandler(loanService LoanService) *LoanHandler {
	return &LoanHandler{loanService: loanService}
}

func (h *LoanHandler) RequestLoan(c *gin.Context) {
	borrower := middleware.Address(c)
	var req struct {
		TierID int32 `json:"tier_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ln, err := h.loanService.RequestLoan(c.Request.Context(), borrower, req.TierID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ln)
}

func (h *LoanHandler) GetActiveLoan(c *gin.Context) {
	ln, err := h.loanService.ActiveLoan(c.Request.Context(), middleware.Address(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ln)
}

func (h *LoanHandler) GetAmountDue(c *gin.Context) {
	stl, err := h.loanService.AmountDue(c.Request.Context(), middleware.Address(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stl)
}

func (h *LoanHandler) ListLoans(c *gin.Context) {
	limit, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("limit", "50")), 10, 32)
	offset, _ := strconv.ParseInt(strings.TrimSpace(c.DefaultQuery("offset", "0")), 10, 32)
	items, err := h.loanService.History(c.Request.Context(), middleware.Address(c), int32(limit), int32(offset))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListActiveLoans is the operator's view of the outstanding book.
func (h *LoanHandler) ListActiveLoans(c *gin.Context) {
	items, err := h.loanService.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *LoanHandler) GetLoan(c *gin.Context) {
	loanID := strings.TrimSpace(c.Param("loanId"))
	if loanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_loan_id"})
		return
	}
	ln, err := h.loanService.GetByID(c.Request.Context(), loanID)
	if err != nil {
		respondError(c, err)
		return
	}
	// Loan rows are not public: only the borrower may read them here.
	if ln.Borrower != middleware.Address(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": loandomain.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, ln)
}

func (h *LoanHandler) Repay(c *gin.Context) {
	borrower := middleware.Address(c)
	var req struct {
		Authorization *authorizationRequest `json:"authorization"`
	}
	// An empty body means repay via allowance.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stl, err := h.loanService.RepayLoan(c.Request.Context(), borrower, loanAuthorization(req.Authorization))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stl)
}

func (h *LoanHandler) RepayDefaulted(c *gin.Context) {
	borrower := middleware.Address(c)
	loanID := strings.TrimSpace(c.Param("loanId"))
	if loanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_loan_id"})
		return
	}
	var req struct {
		Authorization *authorizationRequest `json:"authorization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	stl, err := h.loanService.RepayDefaultedLoan(c.Request.Context(), borrower, loanID, loanAuthorization(req.Authorization))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stl)
}

func (h *LoanHandler) GetDefaultedAmountDue(c *gin.Context) {
	loanID := strings.TrimSpace(c.Param("loanId"))
	if loanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_loan_id"})
		return
	}
	stl, err := h.loanService.DefaultedAmountDue(c.Request.Context(), middleware.Address(c), loanID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stl)
}

// Sweep marks every overdue loan defaulted. Exposed to operators as a manual
// trigger alongside the scheduled run.
func (h *LoanHandler) Sweep(c *gin.Context) {
	n, err := h.loanService.ProcessOutdatedLoans(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"defaulted": n})
}

func loanAuthorization(req *authorizationRequest) *loandomain.Authorization {
	if req == nil {
		return nil
	}
	return &loandomain.Authorization{
		Permit:    req.Permit,
		Details:   req.Details,
		Signature: req.Signature,
	}
}
