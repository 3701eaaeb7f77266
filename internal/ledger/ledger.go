// Package ledger maintains the authoritative-as-known view of a user's
// remaining conversation balance. It reads and debits the remote balance
// store and caches the last observed record for call gating.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxline-ai/voxline/internal/store"
)

var (
	// ErrBalanceUnknown means the store could not be reached. Callers must
	// treat this as "unknown balance", never as "zero balance": starting a
	// call is disallowed until a load succeeds.
	ErrBalanceUnknown = errors.New("balance unknown: store unreachable")

	// ErrNoUser means no authenticated user is available; no ledger
	// operation is permitted without one.
	ErrNoUser = errors.New("no authenticated user")
)

// Ledger caches the user's usage record and performs debits and grants
// against the remote store.
type Ledger struct {
	store            store.Store
	freeLimitSeconds int
	logger           *slog.Logger

	mu     sync.Mutex
	cached *store.UsageRecord // nil = unknown (not yet loaded, or last load failed)
}

// New creates a ledger. freeLimitSeconds is the trial allotment assumed for
// users whose record has never been written.
func New(s store.Store, freeLimitSeconds int, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:            s,
		freeLimitSeconds: freeLimitSeconds,
		logger:           logger.With("component", "ledger"),
	}
}

// Load reads the user's record from the store and refreshes the cache.
// An absent record yields a fresh trial default WITHOUT writing it; the
// record is created lazily on first debit.
func (l *Ledger) Load(ctx context.Context, userID string) (*store.UsageRecord, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	rec, err := l.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		rec = l.freshDefault(userID)
	} else if err != nil {
		l.mu.Lock()
		l.cached = nil
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrBalanceUnknown, err)
	}

	l.mu.Lock()
	l.cached = rec
	l.mu.Unlock()

	l.logger.Debug("balance loaded",
		"user_id", userID,
		"remaining_seconds", rec.RemainingSeconds,
		"plan_tier", rec.PlanTier,
	)
	return rec, nil
}

// Cached returns the last loaded record. ok is false while the balance is
// unknown.
func (l *Ledger) Cached() (*store.UsageRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached == nil {
		return nil, false
	}
	rec := *l.cached
	return &rec, true
}

// CanStart reports whether a call may start on the given record.
func CanStart(rec *store.UsageRecord) bool {
	return rec != nil && rec.RemainingSeconds > 0
}

// CanStartCall reports whether a call may start on the cached record.
// False while the balance is unknown.
func (l *Ledger) CanStartCall() bool {
	rec, ok := l.Cached()
	return ok && CanStart(rec)
}

// ApplyUsage debits deltaSeconds from the user's balance with a
// read-modify-write cycle. The cycle is not compare-and-swap at the store
// level; overlapping debits for the same user can race, with drift bounded
// by one debit interval and self-correcting on the next successful cycle.
// Remaining is clamped at zero, the cumulative total only grows.
func (l *Ledger) ApplyUsage(ctx context.Context, userID string, deltaSeconds int) (*store.UsageRecord, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if deltaSeconds <= 0 {
		return nil, fmt.Errorf("apply usage: delta must be positive, got %d", deltaSeconds)
	}

	old, err := l.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		old = l.freshDefault(userID)
	} else if err != nil {
		return nil, fmt.Errorf("apply usage read: %w", err)
	}

	updated := &store.UsageRecord{
		UserID:                   userID,
		TotalConversationSeconds: old.TotalConversationSeconds + deltaSeconds,
		RemainingSeconds:         max(0, old.RemainingSeconds-deltaSeconds),
		PlanTier:                 old.PlanTier,
	}

	if err := l.store.Set(ctx, userID, updated); err != nil {
		return nil, fmt.Errorf("apply usage write: %w", err)
	}

	// Refresh the cached view by re-reading. If the re-read fails the
	// computed record is still the best known value.
	if rec, err := l.store.Get(ctx, userID); err == nil {
		updated = rec
	}

	l.mu.Lock()
	l.cached = updated
	l.mu.Unlock()

	l.logger.Debug("usage applied",
		"user_id", userID,
		"delta_seconds", deltaSeconds,
		"remaining_seconds", updated.RemainingSeconds,
	)
	return updated, nil
}

// GrantPlan unconditionally resets the record to a new plan allotment.
// Used only after payment verification.
func (l *Ledger) GrantPlan(ctx context.Context, userID string, tier store.PlanTier, grantedSeconds int) error {
	if userID == "" {
		return ErrNoUser
	}
	if grantedSeconds <= 0 {
		return fmt.Errorf("grant plan: granted seconds must be positive, got %d", grantedSeconds)
	}

	rec := &store.UsageRecord{
		UserID:                   userID,
		TotalConversationSeconds: 0,
		RemainingSeconds:         grantedSeconds,
		PlanTier:                 tier,
	}
	if err := l.store.Set(ctx, userID, rec); err != nil {
		return fmt.Errorf("grant plan: %w", err)
	}

	l.mu.Lock()
	l.cached = rec
	l.mu.Unlock()

	l.logger.Info("plan granted",
		"user_id", userID,
		"plan_tier", tier,
		"granted_seconds", grantedSeconds,
	)
	return nil
}

func (l *Ledger) freshDefault(userID string) *store.UsageRecord {
	return &store.UsageRecord{
		UserID:                   userID,
		TotalConversationSeconds: 0,
		RemainingSeconds:         l.freeLimitSeconds,
		PlanTier:                 store.TierFreeTrial,
	}
}
