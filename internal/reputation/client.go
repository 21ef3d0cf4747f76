package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the real reputation registry service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("missing REPUTATION_SERVICE_URL")
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, borrower string) (*Record, error) {
	out := &Record{}
	if err := c.call(ctx, http.MethodGet, "/v1/records/"+borrower, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetTier(ctx context.Context, borrower string) (int32, error) {
	rec, err := c.GetRecord(ctx, borrower)
	if err != nil {
		return 0, err
	}
	return rec.Tier, nil
}

func (c *HTTPClient) HasOngoingLoan(ctx context.Context, borrower string) (bool, error) {
	rec, err := c.GetRecord(ctx, borrower)
	if err != nil {
		return false, err
	}
	return rec.OngoingLoan, nil
}

func (c *HTTPClient) SetOngoingLoan(ctx context.Context, borrower string, ongoing bool) error {
	return c.call(ctx, http.MethodPost, "/v1/records/"+borrower+"/ongoing-loan", map[string]any{"ongoing": ongoing}, nil)
}

func (c *HTTPClient) RecordRepayment(ctx context.Context, borrower string, interest int64) error {
	return c.call(ctx, http.MethodPost, "/v1/records/"+borrower+"/repayments", map[string]any{"interest": interest}, nil)
}

func (c *HTTPClient) RecordDefault(ctx context.Context, borrower string, amount int64) error {
	return c.call(ctx, http.MethodPost, "/v1/records/"+borrower+"/defaults", map[string]any{"amount": amount}, nil)
}

func (c *HTTPClient) ReverseDefault(ctx context.Context, borrower string, amount int64) error {
	return c.call(ctx, http.MethodPost, "/v1/records/"+borrower+"/default-reversals", map[string]any{"amount": amount}, nil)
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
		if payload.Error == "unknown_borrower" {
			return ErrUnknownBorrower
		}
		return fmt.Errorf("reputation service %s %s: status %d: %s", method, path, resp.StatusCode, payload.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistryFromConfig selects the stub or the real registry by mode string.
func NewRegistryFromConfig(mode, serviceURL string) (Registry, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "stub":
		return NewStub(), nil
	case "real":
		return NewHTTPClient(serviceURL)
	default:
		return nil, fmt.Errorf("invalid REPUTATION_MODE: %s", mode)
	}
}
