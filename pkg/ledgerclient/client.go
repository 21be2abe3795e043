/**
 * @description
 * This package provides the settlement worker's client for the ledger
 * server's internal API. Receipt reports, unspent-output listings, and
 * discovered inbound transfers all flow through these basic-auth endpoints,
 * keeping the worker free of any direct database access.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - internal/domain: Wire payload types shared with the server.
 */

package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencredit/ledger-service/internal/domain"
)

// Client is a basic-auth client for the ledger internal API.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// NewClient creates a new ledger internal API client.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ReportReceipt delivers a settlement receipt report. The server upserts it
// idempotently on (transfer id, task, hash), so retried or replayed reports
// are safe.
func (c *Client) ReportReceipt(ctx context.Context, report domain.ReceiptReport) error {
	return c.do(ctx, http.MethodPut, "/internal/receipts", report, nil)
}

// ListUnspentOutputs returns the outbound outputs the discovery sweep should
// check for counterparty spends.
func (c *Client) ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error) {
	var parsed struct {
		Outputs []domain.UnspentOutput `json:"outputs"`
	}
	if err := c.do(ctx, http.MethodGet, "/internal/receipts/unspent", nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Outputs, nil
}

// MarkOutputSpent records that a watched output has been spent on-chain.
func (c *Client) MarkOutputSpent(ctx context.Context, receiptID string) error {
	path := fmt.Sprintf("/internal/receipts/%s/spent", receiptID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// CreateInboundTransfer books a discovered on-chain spend as an address-only
// ledger transfer.
func (c *Client) CreateInboundTransfer(ctx context.Context, inbound domain.InboundTransfer) error {
	return c.do(ctx, http.MethodPost, "/internal/transfers", inbound, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger API returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode ledger response: %w", err)
		}
	}
	return nil
}
