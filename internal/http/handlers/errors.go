package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/domain/loan"
	"github.com/magnifycash/backend/internal/domain/pool"
	"github.com/magnifycash/backend/internal/domain/tier"
	"github.com/magnifycash/backend/internal/domain/vault"
	"github.com/magnifycash/backend/internal/reputation"
	"github.com/magnifycash/backend/internal/token"
)

var errStatus = map[error]int{
	pool.ErrNotConfigured:           http.StatusConflict,
	pool.ErrAlreadyConfigured:       http.StatusConflict,
	pool.ErrPoolNotActive:           http.StatusConflict,
	pool.ErrNoWithdrawActive:        http.StatusConflict,
	pool.ErrInvalidBounds:           http.StatusBadRequest,
	vault.ErrInvalidAmount:          http.StatusBadRequest,
	vault.ErrInsufficientShares:     http.StatusBadRequest,
	vault.ErrNotApproved:            http.StatusForbidden,
	vault.ErrNoFundsAvailable:       http.StatusConflict,
	vault.ErrPriceMoved:             http.StatusConflict,
	tier.ErrNotFound:                http.StatusNotFound,
	loan.ErrNotFound:                http.StatusNotFound,
	loan.ErrActiveLoanOnPool:        http.StatusConflict,
	loan.ErrActiveLoanOnPredecessor: http.StatusConflict,
	loan.ErrOngoingLoanRecorded:     http.StatusConflict,
	loan.ErrTierInsufficient:        http.StatusForbidden,
	loan.ErrLoanNotActive:           http.StatusConflict,
	loan.ErrLoanNotDefaulted:        http.StatusConflict,
	loan.ErrInsufficientLiquidity:   http.StatusConflict,
	token.ErrAuthorizationInvalid:   http.StatusBadRequest,
	token.ErrInsufficientBalance:    http.StatusBadRequest,
	token.ErrInsufficientAllowance:  http.StatusBadRequest,
	reputation.ErrUnknownBorrower:   http.StatusNotFound,
}

// respondError maps domain sentinels to HTTP statuses; anything unmapped is
// an internal error and must not leak its message.
func respondError(c *gin.Context, err error) {
	for sentinel, status := range errStatus {
		if errors.Is(err, sentinel) {
			c.JSON(status, gin.H{"error": sentinel.Error()})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}
