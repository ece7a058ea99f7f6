package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the gateway's REST API. Timeouts live here; the
// coordinator never wraps gateway calls in a database transaction, so a
// slow gateway cannot hold locks.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type createIntentReq struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Customer    string            `json:"customer"`
	Metadata    map[string]string `json:"metadata"`
}

func (c *Client) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string, customerRef string) (*Intent, error) {
	body, err := json.Marshal(createIntentReq{
		AmountCents: amountCents,
		Currency:    "usd",
		Customer:    customerRef,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, &GatewayError{Op: "create_intent", Err: err}
	}

	var out Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", body, &out); err != nil {
		return nil, &GatewayError{Op: "create_intent", Err: err}
	}
	return &out, nil
}

func (c *Client) IntentStatus(ctx context.Context, intentID string) (IntentState, error) {
	var out struct {
		Status IntentState `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &out); err != nil {
		return "", &GatewayError{Op: "intent_status", Err: err}
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
