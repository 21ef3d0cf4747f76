package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/domain/vault"
	"github.com/magnifycash/backend/internal/http/middleware"
	"github.com/magnifycash/backend/internal/token"
)

type VaultService interface {
	State(ctx context.Context) (*vault.State, error)
	BalanceOf(ctx context.Context, holder string) (int64, error)
	ConvertToShares(ctx context.Context, assets int64) (int64, error)
	ConvertToAssets(ctx context.Context, shares int64) (int64, error)
	Approve(ctx context.Context, owner, spender string, shares int64) error
	Deposit(ctx context.Context, caller, receiver string, assets int64) (*vault.Receipt, error)
	DepositWithAuthorization(ctx context.Context, caller, receiver string, assets int64, permit token.Permit, details token.TransferDetails, signature []byte) (*vault.Receipt, error)
	Mint(ctx context.Context, caller, receiver string, shares int64) (*vault.Receipt, error)
	MintWithAuthorization(ctx context.Context, caller, receiver string, shares int64, permit token.Permit, details token.TransferDetails, signature []byte) (*vault.Receipt, error)
	Withdraw(ctx context.Context, caller, owner, receiver string, assets int64) (*vault.Receipt, error)
	Redeem(ctx context.Context, caller, owner, receiver string, shares int64) (*vault.Receipt, error)
}

// authorizationRequest is a signed transfer permit as it appears on the
// wire; the signature travels base64-encoded.
type authorizationRequest struct {
	Permit    token.Permit          `json:"permit"`
	Details   token.TransferDetails `json:"details"`
	Signature []byte                `json:"signature"`
}

type VaultHandler struct {
	vaultService VaultService
}

func NewVaultHandler(vaultService VaultService) *VaultHandler {
	return &VaultHandler{vaultService: vaultService}
}

func (h *VaultHandler) GetState(c *gin.Context) {
	st, err := h.vaultService.State(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_assets":          st.TotalAssets,
		"total_shares":          st.TotalShares,
		"outstanding_principal": st.OutstandingPrincipal,
		"share_price":           st.SharePrice(),
	})
}

func (h *VaultHandler) GetAccount(c *gin.Context) {
	holder := strings.TrimSpace(c.Param("address"))
	if holder == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_address"})
		return
	}
	shares, err := h.vaultService.BalanceOf(c.Request.Context(), holder)
	if err != nil {
		respondError(c, err)
		return
	}
	assets, err := h.vaultService.ConvertToAssets(c.Request.Context(), shares)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holder": holder, "shares": shares, "assets": assets})
}

func (h *VaultHandler) Convert(c *gin.Context) {
	if raw := strings.TrimSpace(c.Query("assets")); raw != "" {
		assets, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
			return
		}
		shares, err := h.vaultService.ConvertToShares(c.Request.Context(), assets)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"assets": assets, "shares": shares})
		return
	}
	if raw := strings.TrimSpace(c.Query("shares")); raw != "" {
		shares, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount"})
			return
		}
		assets, err := h.vaultService.ConvertToAssets(c.Request.Context(), shares)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"assets": assets, "shares": shares})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "missing_amount"})
}

func (h *VaultHandler) Deposit(c *gin.Context) {
	caller := middleware.Address(c)
	var req struct {
		Receiver      string                `json:"receiver"`
		Assets        int64                 `json:"assets"`
		Authorization *authorizationRequest `json:"authorization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	receiver := strings.TrimSpace(req.Receiver)
	if receiver == "" {
		receiver = caller
	}

	var rcpt *vault.Receipt
	var err error
	if req.Authorization != nil {
		rcpt, err = h.vaultService.DepositWithAuthorization(
			c.Request.Context(), caller, receiver, req.Assets,
			req.Authorization.Permit, req.Authorization.Details, req.Authorization.Signature,
		)
	} else {
		rcpt, err = h.vaultService.Deposit(c.Request.Context(), caller, receiver, req.Assets)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rcpt)
}

func (h *VaultHandler) Mint(c *gin.Context) {
	caller := middleware.Address(c)
	var req struct {
		Receiver      string                `json:"receiver"`
		Shares        int64                 `json:"shares"`
		Authorization *authorizationRequest `json:"authorization"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	receiver := strings.TrimSpace(req.Receiver)
	if receiver == "" {
		receiver = caller
	}

	var rcpt *vault.Receipt
	var err error
	if req.Authorization != nil {
		rcpt, err = h.vaultService.MintWithAuthorization(
			c.Request.Context(), caller, receiver, req.Shares,
			req.Authorization.Permit, req.Authorization.Details, req.Authorization.Signature,
		)
	} else {
		rcpt, err = h.vaultService.Mint(c.Request.Context(), caller, receiver, req.Shares)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rcpt)
}

func (h *VaultHandler) Withdraw(c *gin.Context) {
	caller := middleware.Address(c)
	var req struct {
		Owner    string `json:"owner"`
		Receiver string `json:"receiver"`
		Assets   int64  `json:"assets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	owner, receiver := withdrawParties(caller, req.Owner, req.Receiver)
	rcpt, err := h.vaultService.Withdraw(c.Request.Context(), caller, owner, receiver, req.Assets)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rcpt)
}

func (h *VaultHandler) Redeem(c *gin.Context) {
	caller := middleware.Address(c)
	var req struct {
		Owner    string `json:"owner"`
		Receiver string `json:"receiver"`
		Shares   int64  `json:"shares"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	owner, receiver := withdrawParties(caller, req.Owner, req.Receiver)
	rcpt, err := h.vaultService.Redeem(c.Request.Context(), caller, owner, receiver, req.Shares)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rcpt)
}

func (h *VaultHandler) Approve(c *gin.Context) {
	caller := middleware.Address(c)
	var req struct {
		Spender string `json:"spender"`
		Shares  int64  `json:"shares"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Spender) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.vaultService.Approve(c.Request.Context(), caller, strings.TrimSpace(req.Spender), req.Shares); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": caller, "spender": strings.TrimSpace(req.Spender), "shares": req.Shares})
}

func withdrawParties(caller, owner, receiver string) (string, string) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		owner = caller
	}
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		receiver = caller
	}
	return owner, receiver
}
