// Package session owns the active-call state machine: it gates call starts
// on the ledger, drives the per-second conversation timer, flushes periodic
// balance debits, and forces termination the moment the balance runs out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/internal/eventbus"
	"github.com/voxline-ai/voxline/internal/ledger"
	"github.com/voxline-ai/voxline/internal/store"
	"github.com/voxline-ai/voxline/internal/voice"
)

// Phase is the connection phase of the call state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnding     Phase = "ending"
	PhaseEnded      Phase = "ended"
)

// EndReason records why a session left the Active phase.
type EndReason string

const (
	EndUser      EndReason = "user"
	EndExhausted EndReason = "exhausted"
	EndRemote    EndReason = "remote"
	EndError     EndReason = "error"
	EndTeardown  EndReason = "teardown"
)

var (
	// ErrCallInProgress is returned when a call is already underway.
	ErrCallInProgress = errors.New("a call is already in progress")

	// ErrNoBalance is returned when the known balance is zero; the caller
	// should surface a subscribe affordance.
	ErrNoBalance = errors.New("no remaining balance")

	// ErrStartFailed means the voice session refused to start. The machine
	// is back in Idle; the caller may retry.
	ErrStartFailed = errors.New("voice session failed to start")
)

// Balances is the slice of the ledger the controller needs.
type Balances interface {
	Cached() (*store.UsageRecord, bool)
	ApplyUsage(ctx context.Context, userID string, deltaSeconds int) (*store.UsageRecord, error)
}

// Handoff is delivered to the hosting shell when a session ends.
type Handoff struct {
	UserID           string    `json:"user_id"`
	ElapsedSeconds   int       `json:"elapsed_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	Reason           EndReason `json:"reason"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
}

// HandoffFunc receives the end-of-session hand-off. Called exactly once per
// session that made it past Idle.
type HandoffFunc func(h Handoff)

// PhaseEvent is the payload published with call.* events.
type PhaseEvent struct {
	Phase          Phase  `json:"phase"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	Reason         string `json:"reason,omitempty"`
}

// Config holds the controller's operating constants.
type Config struct {
	UserID               string
	AgentID              string
	DebitIntervalSeconds int
	// TickInterval is the wall-clock length of one metered second.
	// Production uses one second; tests compress it.
	TickInterval time.Duration
	// MicGranted records whether microphone access was confirmed. Denial
	// degrades the call to no local capture; it never blocks the call.
	MicGranted bool
}

// Controller is the per-mount call session controller. One live instance
// owns one user's call view; the tick timer is created on entering Active
// and torn down on leaving it or on Close.
type Controller struct {
	ledger Balances
	dial   voice.DialFunc
	cfg    Config
	bus    *eventbus.Bus
	onEnd  HandoffFunc
	logger *slog.Logger

	mu         sync.Mutex
	phase      Phase
	elapsed    int // seconds in the current Active phase
	checkpoint int // elapsed value at the last flushed debit
	startedAt  time.Time
	call       voice.Session
	stopTick   chan struct{}
	endOnce    *sync.Once
}

// New creates a controller in the Idle phase.
func New(bal Balances, dial voice.DialFunc, cfg Config, bus *eventbus.Bus, onEnd HandoffFunc, logger *slog.Logger) *Controller {
	if cfg.DebitIntervalSeconds <= 0 {
		cfg.DebitIntervalSeconds = 10
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Controller{
		ledger:  bal,
		dial:    dial,
		cfg:     cfg,
		bus:     bus,
		onEnd:   onEnd,
		logger:  logger.With("component", "session-controller", "user_id", cfg.UserID),
		phase:   PhaseIdle,
		endOnce: &sync.Once{},
	}
}

// Phase returns the current connection phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Elapsed returns the seconds spent in the current Active phase.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// StartCall gates on the ledger and starts the external call session.
// An unknown balance rejects with ledger.ErrBalanceUnknown (surface as
// "checking your time…", not an error); a zero balance rejects with
// ErrNoBalance (surface a subscribe affordance). A start failure leaves the
// machine in Idle and is retryable.
func (c *Controller) StartCall(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case PhaseConnecting, PhaseActive, PhaseEnding:
		c.mu.Unlock()
		return ErrCallInProgress
	}

	rec, known := c.ledger.Cached()
	if !known {
		c.mu.Unlock()
		return ledger.ErrBalanceUnknown
	}
	if !ledger.CanStart(rec) {
		c.mu.Unlock()
		return ErrNoBalance
	}

	if !c.cfg.MicGranted {
		c.logger.Warn("microphone permission not granted, continuing without local capture")
	}

	c.phase = PhaseConnecting
	c.elapsed = 0
	c.checkpoint = 0
	c.startedAt = time.Now()
	c.endOnce = &sync.Once{}

	call := c.dial(c.cfg.UserID, c.cfg.MicGranted, voice.Events{
		OnConnect:    c.handleConnect,
		OnDisconnect: c.handleDisconnect,
		OnError:      c.handleError,
	})
	c.call = call
	c.mu.Unlock()

	c.bus.PublishType(eventbus.CallConnecting, PhaseEvent{Phase: PhaseConnecting})

	if err := call.Start(ctx, c.cfg.AgentID); err != nil {
		c.mu.Lock()
		// EndCall or Close may have already torn the session down while
		// Start was in flight; their terminal phase wins.
		if c.phase == PhaseConnecting {
			c.phase = PhaseIdle
		}
		c.call = nil
		c.mu.Unlock()
		c.logger.Warn("call start failed", "error", err)
		return fmt.Errorf("%w: %v", ErrStartFailed, err)
	}
	return nil
}

// EndCall is the user-initiated hangup. The partial interval since the last
// debit checkpoint is not debited.
func (c *Controller) EndCall() {
	c.beginEnding(EndUser)
}

// Close tears the controller down on view unmount. The tick timer is
// cleared synchronously; if a call was underway it goes through the same
// teardown path as EndCall.
func (c *Controller) Close() {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	if phase == PhaseActive || phase == PhaseConnecting {
		c.beginEnding(EndTeardown)
		return
	}

	c.mu.Lock()
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	c.mu.Unlock()
}

func (c *Controller) handleConnect() {
	c.mu.Lock()
	if c.phase != PhaseConnecting {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseActive
	c.elapsed = 0
	c.checkpoint = 0
	stop := make(chan struct{})
	c.stopTick = stop
	c.mu.Unlock()

	c.logger.Info("call active")
	c.bus.PublishType(eventbus.CallActive, PhaseEvent{Phase: PhaseActive})

	go c.run(stop)
}

func (c *Controller) handleDisconnect(reason string) {
	c.logger.Info("call disconnected by gateway", "reason", reason)
	c.beginEnding(EndRemote)
}

func (c *Controller) handleError(err error) {
	c.logger.Warn("call session error", "error", err)
	c.beginEnding(EndError)
}

func (c *Controller) run(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick advances the conversation clock by one second, flushes a debit when
// a full interval has accrued, and checks for exhaustion.
func (c *Controller) tick() {
	c.mu.Lock()
	if c.phase != PhaseActive {
		c.mu.Unlock()
		return
	}
	c.elapsed++

	if c.elapsed-c.checkpoint >= c.cfg.DebitIntervalSeconds {
		// Optimistic checkpoint: advance before the write confirms. A
		// failed write is lost, bounding drift to one interval per failure.
		c.checkpoint += c.cfg.DebitIntervalSeconds
		go c.flushDebit(c.cfg.DebitIntervalSeconds)
	}
	pending := c.elapsed - c.checkpoint
	c.mu.Unlock()

	// Exhaustion check runs every tick, independent of the debit cadence,
	// so the cutoff lands within one second of the balance reaching zero.
	rec, known := c.ledger.Cached()
	if known && rec.RemainingSeconds-pending <= 0 {
		if c.beginEnding(EndExhausted) {
			c.bus.PublishType(eventbus.BalanceExhausted, PhaseEvent{
				Phase:          PhaseEnding,
				ElapsedSeconds: c.Elapsed(),
			})
		}
	}
}

func (c *Controller) flushDebit(deltaSeconds int) {
	rec, err := c.ledger.ApplyUsage(context.Background(), c.cfg.UserID, deltaSeconds)
	if err != nil {
		// Debit lost: logged, never retried, never surfaced to the user.
		c.logger.Warn("debit lost", "delta_seconds", deltaSeconds, "error", err)
		return
	}
	c.bus.PublishType(eventbus.BalanceUpdated, map[string]any{
		"remaining_seconds": rec.RemainingSeconds,
		"remaining_display": ledger.FormatRemaining(rec.RemainingSeconds),
	})
}

// beginEnding moves Active/Connecting to Ending, tears the session down,
// and completes to Ended with a single hand-off. Reports whether this call
// performed the transition.
func (c *Controller) beginEnding(reason EndReason) bool {
	c.mu.Lock()
	if c.phase != PhaseActive && c.phase != PhaseConnecting {
		c.mu.Unlock()
		return false
	}
	c.phase = PhaseEnding
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	call := c.call
	c.call = nil
	elapsed := c.elapsed
	startedAt := c.startedAt
	once := c.endOnce
	c.mu.Unlock()

	c.logger.Info("call ending", "reason", reason, "elapsed_seconds", elapsed)
	c.bus.PublishType(eventbus.CallEnding, PhaseEvent{
		Phase:          PhaseEnding,
		ElapsedSeconds: elapsed,
		Reason:         string(reason),
	})

	if call != nil {
		if err := call.End(); err != nil {
			c.logger.Debug("voice session end", "error", err)
		}
	}

	c.mu.Lock()
	c.phase = PhaseEnded
	c.mu.Unlock()

	remaining := 0
	if rec, ok := c.ledger.Cached(); ok {
		remaining = rec.RemainingSeconds
	}

	once.Do(func() {
		h := Handoff{
			UserID:           c.cfg.UserID,
			ElapsedSeconds:   elapsed,
			RemainingSeconds: remaining,
			Reason:           reason,
			StartedAt:        startedAt,
			EndedAt:          time.Now(),
		}
		if c.onEnd != nil {
			c.onEnd(h)
		}
		c.bus.PublishType(eventbus.CallEnded, PhaseEvent{
			Phase:          PhaseEnded,
			ElapsedSeconds: elapsed,
			Reason:         string(reason),
		})
	})
	return true
}
