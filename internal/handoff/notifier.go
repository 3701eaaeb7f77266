// Package handoff delivers end-of-session summaries to the hosting shell.
// The IPC event stream covers an attached host; the webhook is the
// cross-process fallback. Delivery is best-effort and never blocks or fails
// the session teardown.
package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/session"
)

// Notifier posts session hand-offs to a configured webhook.
type Notifier struct {
	webhookURL string
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewNotifier builds a notifier; with no webhook configured it is a no-op.
func NewNotifier(cfg config.HandoffConfig, logger *slog.Logger) *Notifier {
	timeout := cfg.Timeout.Duration
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With("component", "handoff"),
	}
}

// Deliver posts the hand-off. Failures are logged and dropped.
func (n *Notifier) Deliver(h session.Handoff) {
	if n.webhookURL == "" {
		return
	}

	raw, err := json.Marshal(h)
	if err != nil {
		n.logger.Warn("handoff encode failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(raw))
	if err != nil {
		n.logger.Warn("handoff request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("handoff delivery failed", "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("handoff rejected", "status", resp.StatusCode)
		return
	}
	n.logger.Debug("handoff delivered", "user_id", h.UserID, "reason", h.Reason)
}
