package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/voxline-ai/voxline/internal/config"
)

func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.StoreConfig{
		Addr:        mr.Addr(),
		DialTimeout: config.Duration{Duration: 5 * time.Second},
		OpTimeout:   config.Duration{Duration: 3 * time.Second},
	}

	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "user-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_SetGet_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := &UsageRecord{
		UserID:                   "user-1",
		TotalConversationSeconds: 300,
		RemainingSeconds:         900,
		PlanTier:                 TierBasic,
	}
	if err := s.Set(ctx, "user-1", rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalConversationSeconds != 300 {
		t.Errorf("expected total 300, got %d", got.TotalConversationSeconds)
	}
	if got.RemainingSeconds != 900 {
		t.Errorf("expected remaining 900, got %d", got.RemainingSeconds)
	}
	if got.PlanTier != TierBasic {
		t.Errorf("expected tier Basic, got %s", got.PlanTier)
	}
	if got.LastUpdated.IsZero() {
		t.Error("expected last_updated to be stamped by the store")
	}
}

func TestRedisStore_Update_Partial(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := &UsageRecord{
		UserID:                   "user-1",
		TotalConversationSeconds: 100,
		RemainingSeconds:         500,
		PlanTier:                 TierPro,
	}
	if err := s.Set(ctx, "user-1", rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	err := s.Update(ctx, "user-1", map[string]any{"remaining_seconds": 490})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingSeconds != 490 {
		t.Errorf("expected remaining 490, got %d", got.RemainingSeconds)
	}
	if got.TotalConversationSeconds != 100 {
		t.Errorf("expected total untouched at 100, got %d", got.TotalConversationSeconds)
	}
	if got.PlanTier != TierPro {
		t.Errorf("expected tier untouched at Pro, got %s", got.PlanTier)
	}
}

func TestRedisStore_Get_UnknownTierDefaultsToFreeTrial(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := &UsageRecord{UserID: "user-1", RemainingSeconds: 10, PlanTier: PlanTier("Gold")}
	if err := s.Set(ctx, "user-1", rec); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PlanTier != TierFreeTrial {
		t.Errorf("expected unknown tier to parse as FreeTrial, got %s", got.PlanTier)
	}
}

func TestRedisStore_Get_StoreDown(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.StoreConfig{
		Addr:        mr.Addr(),
		DialTimeout: config.Duration{Duration: 5 * time.Second},
		OpTimeout:   config.Duration{Duration: time.Second},
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	mr.Close()

	if _, err := s.Get(context.Background(), "user-1"); err == nil {
		t.Fatal("expected transport error when store is down")
	} else if errors.Is(err, ErrNotFound) {
		t.Fatal("transport error must not be reported as ErrNotFound")
	}
}
