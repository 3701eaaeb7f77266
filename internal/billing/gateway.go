package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxline-ai/voxline/internal/config"
)

// ErrPaymentFailed means the gateway did not verify the payment. No money
// was captured as far as the gateway is concerned; the upgrade flow treats
// this as a clean failure the user can retry.
var ErrPaymentFailed = errors.New("payment verification failed")

// Order is a payment order created at the gateway before checkout.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// PaymentResult is what the checkout flow reports back after the user pays.
type PaymentResult struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// Gateway is the payment-gateway API client.
type Gateway struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
}

// NewGateway builds a gateway client from the billing config.
func NewGateway(cfg config.BillingConfig) *Gateway {
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder registers a new order for the given amount and returns the
// gateway's order handle, which checkout needs to collect the payment.
func (g *Gateway) CreateOrder(ctx context.Context, amountMinorUnits int64, receipt string) (*Order, error) {
	body := map[string]any{
		"amount":   amountMinorUnits,
		"currency": g.currency,
		"receipt":  receipt,
	}

	var order Order
	if err := g.doJSON(ctx, http.MethodPost, "/v1/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("create order: gateway returned no order id")
	}
	return &order, nil
}

// VerifyPayment asks the gateway to confirm the signed payment result.
// Returns ErrPaymentFailed when the gateway rejects it.
func (g *Gateway) VerifyPayment(ctx context.Context, res PaymentResult) error {
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/v1/payments/verify", res, &out); err != nil {
		return fmt.Errorf("verify payment: %w", err)
	}
	if !out.Valid {
		return ErrPaymentFailed
	}
	return nil
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
