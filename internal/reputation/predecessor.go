package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PredecessorClient queries the previous pool generation's public API for an
// unresolved loan. It is read-only and never follows further back than one
// generation.
type PredecessorClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPredecessorClient(baseURL string) (*PredecessorClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("missing PREDECESSOR_POOL_URL")
	}
	return &PredecessorClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *PredecessorClient) HasActiveLoan(ctx context.Context, borrower string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/loans/active/"+borrower, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("predecessor pool: status %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, err
	}
	return payload.Status == "active", nil
}

// NewPredecessorFromConfig returns nil when no predecessor is configured;
// the first pool generation has nothing to consult.
func NewPredecessorFromConfig(baseURL string) (PredecessorPool, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, nil
	}
	return NewPredecessorClient(baseURL)
}
