// Package store defines the remote balance store: one usage document per
// user, read and written with independent network calls. The store offers no
// transaction across calls; concurrent read-modify-write cycles can race,
// and the ledger tolerates the resulting bounded drift.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no usage record exists for a user yet.
// Records are created lazily on first debit, not on read.
var ErrNotFound = errors.New("usage record not found")

// PlanTier identifies the user's current plan.
type PlanTier string

const (
	TierFreeTrial PlanTier = "FreeTrial"
	TierBasic     PlanTier = "Basic"
	TierPro       PlanTier = "Pro"
	TierPremium   PlanTier = "Premium"
)

// ParseTier maps a stored tier string back to a PlanTier, defaulting to
// the free trial for unknown values. Matching is case-insensitive so
// hand-written config overrides parse too.
func ParseTier(s string) PlanTier {
	switch strings.ToLower(s) {
	case "basic":
		return TierBasic
	case "pro":
		return TierPro
	case "premium":
		return TierPremium
	default:
		return TierFreeTrial
	}
}

// UsageRecord is the per-user usage document.
//
// TotalConversationSeconds only ever increases; RemainingSeconds never goes
// below zero and only increases on plan grants. LastUpdated is assigned by
// the store on every write, never taken from the caller, so client clock
// skew cannot corrupt it.
type UsageRecord struct {
	UserID                   string
	TotalConversationSeconds int
	RemainingSeconds         int
	PlanTier                 PlanTier
	LastUpdated              time.Time
}

// Store is the remote balance store contract.
type Store interface {
	// Get reads the usage record for a user. Returns ErrNotFound if the
	// record has never been written.
	Get(ctx context.Context, userID string) (*UsageRecord, error)

	// Set overwrites the whole record for a user.
	Set(ctx context.Context, userID string, rec *UsageRecord) error

	// Update writes a partial set of fields without touching the rest.
	Update(ctx context.Context, userID string, fields map[string]any) error

	Close() error
}
