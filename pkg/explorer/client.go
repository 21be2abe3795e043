/**
 * @description
 * This package provides a client for the chain explorer API. The settlement
 * worker uses it two ways: polling a submitted transaction for mempool
 * acceptance and confirmations, and walking transaction outputs during the
 * inbound-spend discovery sweep.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */

package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTransactionNotFound is returned when the explorer does not know the
// hash yet; for a freshly broadcast transaction this simply means "keep
// polling".
var ErrTransactionNotFound = errors.New("transaction not found on explorer")

// Client is a client for the chain explorer API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new explorer client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Output is one output of an explorer transaction. SpendTxID is non-empty
// once the output has been spent by a later transaction.
type Output struct {
	Addresses []string `json:"addresses"`
	Value     int64    `json:"value"`
	SpendTxID string   `json:"spend_txid"`
}

// Transaction is the explorer's view of one chain transaction.
type Transaction struct {
	Hash          string   `json:"hash"`
	Confirmations int      `json:"confirmations"`
	Outputs       []Output `json:"outputs"`
}

type transactionResponse struct {
	Transaction Transaction `json:"transaction"`
}

// GetTransaction fetches a transaction by hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	url := fmt.Sprintf("%s/tx/%s", c.BaseURL, hash)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer returned status %d for tx %s", resp.StatusCode, hash)
	}

	var parsed transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}
	if parsed.Transaction.Hash == "" {
		parsed.Transaction.Hash = hash
	}
	return &parsed.Transaction, nil
}

// InMempool reports whether the explorer has seen the transaction at all.
func (c *Client) InMempool(ctx context.Context, hash string) (bool, error) {
	_, err := c.GetTransaction(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
