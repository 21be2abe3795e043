/**
 * @description
 * This package provides a client for the wallet/signing service, which owns
 * the chain-specific cryptography: building and broadcasting transactions
 * from the master settlement wallet, deriving public addresses from raw
 * private keys, and issuing master-wallet token approvals. The ledger and
 * worker treat all of this as a black box behind an authenticated HTTP API.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */

package chainwallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrInsufficientFunds is returned when the settlement wallet cannot cover
// the requested outputs. Broadcast never happened; the attempt is terminal.
var ErrInsufficientFunds = errors.New("settlement wallet has insufficient funds")

// Client is a client for the wallet service API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new wallet service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Output is one (destination, amount, currency) leg of an outbound
// transaction. Amount is in native chain units rendered as a decimal string,
// since native precision exceeds int64 cents.
type Output struct {
	Address  string `json:"address"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// SendRequest asks the wallet service to build, sign, and broadcast one
// transaction spending master-wallet inputs to all outputs.
type SendRequest struct {
	Outputs []Output `json:"outputs"`
}

type sendResponse struct {
	TxHash string `json:"tx_hash"`
	Nonce  *int64 `json:"nonce,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Send broadcasts a transaction and returns its hash. Broadcasting is
// irreversible: callers must treat a returned hash as spent money regardless
// of any later polling outcome.
func (c *Client) Send(ctx context.Context, outputs []Output) (string, *int64, error) {
	var parsed sendResponse
	if err := c.post(ctx, "/v1/transactions", SendRequest{Outputs: outputs}, &parsed); err != nil {
		return "", nil, err
	}
	if parsed.TxHash == "" {
		return "", nil, fmt.Errorf("wallet service returned no transaction hash")
	}
	return parsed.TxHash, parsed.Nonce, nil
}

// Approve issues a master-wallet token approval for the account behind the
// encrypted key and returns the approval transaction hash.
func (c *Client) Approve(ctx context.Context, accountKey string) (string, error) {
	var parsed sendResponse
	body := map[string]string{"account_key": accountKey}
	if err := c.post(ctx, "/v1/approvals", body, &parsed); err != nil {
		return "", err
	}
	if parsed.TxHash == "" {
		return "", fmt.Errorf("wallet service returned no transaction hash")
	}
	return parsed.TxHash, nil
}

// DeriveAddress returns the public address for a raw private key.
func (c *Client) DeriveAddress(ctx context.Context, privateKeyHex string) (string, error) {
	var parsed struct {
		Address string `json:"address"`
	}
	body := map[string]string{"private_key": privateKeyHex}
	if err := c.post(ctx, "/v1/addresses/derive", body, &parsed); err != nil {
		return "", err
	}
	if parsed.Address == "" {
		return "", fmt.Errorf("wallet service returned no address")
	}
	return parsed.Address, nil
}

// Balance returns the master wallet's spendable balance in native units as a
// decimal string.
func (c *Client) Balance(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/balance", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("wallet request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet service returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Balance string `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode wallet response: %w", err)
	}
	return parsed.Balance, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return ErrInsufficientFunds
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("wallet service returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode wallet response: %w", err)
		}
	}
	return nil
}
