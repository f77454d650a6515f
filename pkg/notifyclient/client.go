/**
 * @description
 * HTTP client for the notification service. Billing never blocks on delivery:
 * callers treat send failures as log-and-continue.
 */
package notifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// Client posts notification requests to the notification service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a notification client. An empty baseURL yields a disabled
// client whose Send is a no-op.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

type sendRequest struct {
	CustomerID   string            `json:"customer_id"`
	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// Send asks the notification service to deliver a templated message.
func (c *Client) Send(ctx context.Context, customerID, templateCode string, variables map[string]string) error {
	if c == nil || c.baseURL == "" {
		return nil
	}

	body, err := json.Marshal(sendRequest{
		CustomerID:   customerID,
		TemplateCode: templateCode,
		Variables:    variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/notifications/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}
