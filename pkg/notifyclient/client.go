package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/opencredit/ledger-service/internal/domain"
)

// Client posts settlement updates to the front-end callback URL. Delivery is
// fire and forget: failures are logged, never retried synchronously, and
// never block the receipt path. A nil client drops updates silently.
type Client struct {
	CallbackURL string
	HTTPClient  *http.Client
}

// NewClient creates a notification client. An empty callback URL returns nil,
// which disables notifications.
func NewClient(callbackURL string) *Client {
	if callbackURL == "" {
		return nil
	}
	return &Client{
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifySettlementUpdate posts the update on a background goroutine.
func (c *Client) NotifySettlementUpdate(update domain.SettlementUpdate) {
	if c == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		payload, err := json.Marshal(update)
		if err != nil {
			log.Printf("level=error component=notifyclient msg=\"failed to marshal settlement update\" transfer_id=%s err=%v", update.TransferID, err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CallbackURL, bytes.NewReader(payload))
		if err != nil {
			log.Printf("level=error component=notifyclient msg=\"failed to create callback request\" transfer_id=%s err=%v", update.TransferID, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			log.Printf("level=warn component=notifyclient msg=\"settlement callback failed\" transfer_id=%s err=%v", update.TransferID, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("level=warn component=notifyclient msg=\"settlement callback rejected\" transfer_id=%s status=%d", update.TransferID, resp.StatusCode)
		}
	}()
}
