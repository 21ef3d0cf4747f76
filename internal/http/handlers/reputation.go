package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/reputation"
)

// RegistryReader is the read-only slice of the reputation collaborator the
// API exposes.
type RegistryReader interface {
	GetRecord(ctx context.Context, borrower string) (*reputation.Record, error)
}

type ReputationHandler struct {
	registry RegistryReader
}

func NewReputationHandler(registry RegistryReader) *ReputationHandler {
	return &ReputationHandler{registry: registry}
}

func (h *ReputationHandler) GetRecord(c *gin.Context) {
	borrower := strings.TrimSpace(c.Param("address"))
	if borrower == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_address"})
		return
	}
	rec, err := h.registry.GetRecord(c.Request.Context(), borrower)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"borrower":        borrower,
		"tier":            rec.Tier,
		"loans_repaid":    rec.LoansRepaid,
		"loans_defaulted": rec.LoansDefaulted,
		"interest_paid":   rec.InterestPaid,
		"ongoing_loan":    rec.OngoingLoan,
	})
}
