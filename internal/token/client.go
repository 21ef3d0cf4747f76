package token

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the real token service. The pool never holds keys for
// depositor accounts; authority comes from allowances and signed permits
// verified service-side.
type HTTPClient struct {
	baseURL    string
	account    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, account string) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("missing TOKEN_SERVICE_URL")
	}
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("missing POOL_ACCOUNT")
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		account:    strings.TrimSpace(account),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (c *HTTPClient) BalanceOf(ctx context.Context, account string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/accounts/"+account+"/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, to string, amount int64) error {
	body := map[string]any{"from": c.account, "to": to, "amount": amount}
	return c.call(ctx, http.MethodPost, "/v1/transfers", body, nil)
}

func (c *HTTPClient) TransferFrom(ctx context.Context, owner, to string, amount int64) error {
	body := map[string]any{"from": owner, "to": to, "amount": amount, "spender": c.account}
	return c.call(ctx, http.MethodPost, "/v1/transfers", body, nil)
}

func (c *HTTPClient) PermitTransferFrom(ctx context.Context, permit Permit, details TransferDetails, owner string, signature []byte) error {
	body := map[string]any{
		"permit":    permit,
		"details":   details,
		"owner":     owner,
		"signature": "0x" + hex.EncodeToString(signature),
	}
	return c.call(ctx, http.MethodPost, "/v1/permit-transfers", body, nil)
}

func (c *HTTPClient) call(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		switch payload.Error {
		case "transfer_authorization_invalid":
			return fmt.Errorf("%w: rejected by token service", ErrAuthorizationInvalid)
		case "insufficient_balance":
			return ErrInsufficientBalance
		case "insufficient_allowance":
			return ErrInsufficientAllowance
		}
		return fmt.Errorf("token service %s %s: status %d: %s", method, path, resp.StatusCode, payload.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

// NewClientFromConfig selects the stub or the real service by mode string.
func NewClientFromConfig(mode, serviceURL, poolAccount string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "stub":
		return NewStub(poolAccount), nil
	case "real":
		return NewHTTPClient(serviceURL, poolAccount)
	default:
		return nil, fmt.Errorf("invalid TOKEN_MODE: %s", mode)
	}
}
