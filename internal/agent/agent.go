// Package agent is the main orchestrator that ties together the identity
// resolver, usage ledger, session controller, billing flow, and the IPC
// control surface.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/voxline-ai/voxline/internal/billing"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/eventbus"
	"github.com/voxline-ai/voxline/internal/handoff"
	"github.com/voxline-ai/voxline/internal/history"
	"github.com/voxline-ai/voxline/internal/identity"
	"github.com/voxline-ai/voxline/internal/ipc"
	"github.com/voxline-ai/voxline/internal/ledger"
	"github.com/voxline-ai/voxline/internal/session"
	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/voice"
)

// Agent is the voxline agent process.
type Agent struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *eventbus.Bus
	store      store.Store
	ledger     *ledger.Ledger
	controller *session.Controller
	upgrader   *billing.Upgrader
	journal    *history.Journal
	notifier   *handoff.Notifier
	ipcServer  *ipc.Server
	userID     string
	version    string
	startedAt  time.Time
}

// New creates an agent from configuration. It resolves the user identity
// and connects to the balance store; both must succeed before the agent can
// run. If bus is nil, events are not published externally.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger, bus *eventbus.Bus) (*Agent, error) {
	if bus == nil {
		bus = eventbus.New()
	}

	userID, err := identity.Resolve(ctx, cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open balance store: %w", err)
	}

	journal, err := history.Open(cfg.Agent.HistoryPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open call history: %w", err)
	}

	a := &Agent{
		cfg:       cfg,
		logger:    logger.With("component", "agent", "user_id", userID),
		bus:       bus,
		store:     st,
		journal:   journal,
		notifier:  handoff.NewNotifier(cfg.Handoff, logger),
		userID:    userID,
		version:   version,
		startedAt: time.Now(),
	}

	a.ledger = ledger.New(st, cfg.Metering.FreeTrialSeconds, logger)

	dial := func(userID string, micEnabled bool, ev voice.Events) voice.Session {
		return voice.NewClient(cfg.Gateway, userID, micEnabled, ev, logger)
	}

	a.controller = session.New(a.ledger, dial, session.Config{
		UserID:               userID,
		AgentID:              cfg.Gateway.AgentID,
		DebitIntervalSeconds: cfg.Metering.DebitIntervalSeconds,
		TickInterval:         cfg.Metering.TickInterval.Duration,
		MicGranted:           micAvailable(),
	}, bus, a.handleSessionEnd, logger)

	a.upgrader = billing.NewUpgrader(
		billing.NewGateway(cfg.Billing),
		billing.NewCatalog(cfg.Billing.Offers),
		a.ledger,
		bus,
		logger,
	)

	a.ipcServer = ipc.NewServer(cfg.Agent.SocketPath, a, bus, logger)
	return a, nil
}

// Bus returns the agent's event bus.
func (a *Agent) Bus() *eventbus.Bus {
	return a.bus
}

// Run starts the IPC server, loads the balance, and blocks until the
// context is canceled.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting agent",
		"version", a.version,
		"gateway", a.cfg.Gateway.URL,
		"socket", a.cfg.Agent.SocketPath,
	)

	if err := a.ipcServer.Start(); err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}

	defer func() {
		a.logger.Info("shutting down agent")
		a.controller.Close()
		_ = a.ipcServer.Close()
		_ = a.journal.Close()
		_ = a.store.Close()
	}()

	// Initial balance load. Failure is not fatal: the balance stays
	// unknown, call starts are blocked, and we keep retrying until the
	// store answers.
	retry := time.NewTicker(15 * time.Second)
	defer retry.Stop()

	a.loadBalance(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-retry.C:
			if _, known := a.ledger.Cached(); !known {
				a.loadBalance(ctx)
			}
		}
	}
}

func (a *Agent) loadBalance(ctx context.Context) {
	rec, err := a.ledger.Load(ctx, a.userID)
	if err != nil {
		a.logger.Warn("balance load failed", "error", err)
		return
	}
	a.bus.PublishType(eventbus.BalanceUpdated, map[string]any{
		"remaining_seconds": rec.RemainingSeconds,
		"remaining_display": ledger.FormatRemaining(rec.RemainingSeconds),
		"plan_tier":         string(rec.PlanTier),
	})
}

// handleSessionEnd runs once per finished session: journal the call, then
// fan the hand-off out to the bus and the webhook. All best-effort.
func (a *Agent) handleSessionEnd(h session.Handoff) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.journal.Record(ctx, history.Entry{
		UserID:           h.UserID,
		StartedAt:        h.StartedAt,
		EndedAt:          h.EndedAt,
		DurationSeconds:  h.ElapsedSeconds,
		RemainingSeconds: h.RemainingSeconds,
		EndReason:        string(h.Reason),
	})
	if err != nil {
		a.logger.Warn("call history write failed", "error", err)
	}

	a.bus.PublishType(eventbus.CallHandoff, h)
	a.notifier.Deliver(h)
}

// Status implements ipc.Provider.
func (a *Agent) Status() ipc.StatusResult {
	status := ipc.StatusResult{
		UserID:         a.userID,
		AgentID:        a.cfg.Gateway.AgentID,
		Phase:          string(a.controller.Phase()),
		ElapsedSeconds: a.controller.Elapsed(),
		StartedAt:      a.startedAt,
		Uptime:         time.Since(a.startedAt).Truncate(time.Second).String(),
		Version:        a.version,
	}
	if rec, ok := a.ledger.Cached(); ok {
		status.BalanceKnown = true
		status.RemainingSeconds = rec.RemainingSeconds
		status.RemainingDisplay = ledger.FormatRemaining(rec.RemainingSeconds)
		status.PlanTier = string(rec.PlanTier)
	}
	return status
}

// Offers implements ipc.Provider.
func (a *Agent) Offers() []billing.Offer {
	return a.upgrader.Offers()
}

// StartCall implements ipc.Provider.
func (a *Agent) StartCall(ctx context.Context) error {
	return a.controller.StartCall(ctx)
}

// EndCall implements ipc.Provider.
func (a *Agent) EndCall() {
	a.controller.EndCall()
}

// History implements ipc.Provider.
func (a *Agent) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return a.journal.List(ctx, a.userID, limit)
}

// BeginUpgrade implements ipc.Provider.
func (a *Agent) BeginUpgrade(ctx context.Context, offerID string) (*billing.Order, error) {
	return a.upgrader.BeginUpgrade(ctx, offerID)
}

// CompletePayment implements ipc.Provider.
func (a *Agent) CompletePayment(ctx context.Context, res billing.PaymentResult) (*store.UsageRecord, error) {
	return a.upgrader.CompletePayment(ctx, a.userID, res)
}

// CancelUpgrade implements ipc.Provider.
func (a *Agent) CancelUpgrade(orderID string) {
	a.upgrader.CancelUpgrade(orderID)
}

// micAvailable reports whether a capture device exists. Absence degrades
// the call to listen-only; it never blocks starting one.
func micAvailable() bool {
	if _, err := os.Stat("/dev/snd"); err == nil {
		return true
	}
	_, err := os.Stat("/dev/dsp")
	return err == nil
}
