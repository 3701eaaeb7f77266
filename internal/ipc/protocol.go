// Package ipc is the agent's local control surface: a Unix-socket
// JSON-Lines protocol the host shell uses to drive calls, buy plans, and
// stream session events.
package ipc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voxline-ai/voxline/internal/billing"
	"github.com/voxline-ai/voxline/internal/history"
	"github.com/voxline-ai/voxline/internal/store"
)

// Request is a JSON-Lines request from a host client.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is sent back to the client.
type Response struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"` // "result" or "error" or "event"
	Data json.RawMessage `json:"data,omitempty"`
}

// StatusResult is returned by the "status" method.
type StatusResult struct {
	UserID           string    `json:"user_id"`
	AgentID          string    `json:"agent_id"`
	Phase            string    `json:"phase"`
	ElapsedSeconds   int       `json:"elapsed_seconds"`
	BalanceKnown     bool      `json:"balance_known"`
	RemainingSeconds int       `json:"remaining_seconds"`
	RemainingDisplay string    `json:"remaining_display"`
	PlanTier         string    `json:"plan_tier"`
	StartedAt        time.Time `json:"started_at"`
	Uptime           string    `json:"uptime"`
	Version          string    `json:"version"`
}

// PlansResult is returned by the "plans" method.
type PlansResult struct {
	Offers []billing.Offer `json:"offers"`
}

// HistoryParams are sent with the "history" method.
type HistoryParams struct {
	Limit int `json:"limit,omitempty"`
}

// HistoryResult is returned by the "history" method.
type HistoryResult struct {
	Calls []history.Entry `json:"calls"`
}

// UpgradeBeginParams are sent with the "upgrade.begin" method.
type UpgradeBeginParams struct {
	OfferID string `json:"offer_id"`
}

// UpgradeCompleteParams are sent with the "upgrade.complete" method.
type UpgradeCompleteParams struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// UpgradeCancelParams are sent with the "upgrade.cancel" method.
type UpgradeCancelParams struct {
	OrderID string `json:"order_id"`
}

// SubscribeParams are sent with the "subscribe" method.
type SubscribeParams struct {
	Events []string `json:"events"`
}

// ErrorResult carries an error response body.
type ErrorResult struct {
	Error string `json:"error"`
}

// Event wraps an event bus event for IPC transport.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Provider is the interface the IPC server drives the agent through.
type Provider interface {
	Status() StatusResult
	Offers() []billing.Offer
	StartCall(ctx context.Context) error
	EndCall()
	History(ctx context.Context, limit int) ([]history.Entry, error)
	BeginUpgrade(ctx context.Context, offerID string) (*billing.Order, error)
	CompletePayment(ctx context.Context, res billing.PaymentResult) (*store.UsageRecord, error)
	CancelUpgrade(orderID string)
}
