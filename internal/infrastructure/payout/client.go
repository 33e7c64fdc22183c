package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/localmart/marketplace-client/internal/core/ports"
)

const defaultTimeout = 30 * time.Second

// Client implements ports.PayoutInitiator by calling the payout endpoint.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
}

// NewClient creates a Client posting to url.
func NewClient(url, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{url: url, apiKey: apiKey, http: &http.Client{Timeout: timeout}}
}

type payoutBody struct {
	BusinessID    string `json:"business_id"`
	Amount        int64  `json:"amount"`
	BankAccountID string `json:"bank_account_id"`
}

// InitiatePayout posts the request. Each call carries a fresh idempotency
// key.
func (c *Client) InitiatePayout(ctx context.Context, req ports.PayoutRequest) error {
	body, err := json.Marshal(payoutBody{
		BusinessID:    req.BusinessID,
		Amount:        int64(req.Amount),
		BankAccountID: req.BankAccountID,
	})
	if err != nil {
		return fmt.Errorf("encode payout: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("payout request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("payout rejected: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
