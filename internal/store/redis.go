package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxline-ai/voxline/internal/config"
)

// Hash field names for the per-user usage document.
const (
	fieldTotal       = "total_conversation_seconds"
	fieldRemaining   = "remaining_seconds"
	fieldPlanTier    = "plan_tier"
	fieldLastUpdated = "last_updated"
)

// RedisStore implements Store on a Redis hash per user. Each Get/Set/Update
// is a single independent command; there is no WATCH or Lua CAS, matching
// the document store's lack of cross-call transactions.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

// Open connects to Redis and verifies the connection.
func Open(cfg config.StoreConfig) (*RedisStore, error) {
	dialTimeout := cfg.DialTimeout.Duration
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to balance store: %w", err)
	}

	return &RedisStore{client: client, opTimeout: cfg.OpTimeout.Duration}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func usageKey(userID string) string {
	return "voxline:usage:" + userID
}

// Get reads the usage record for a user.
func (s *RedisStore) Get(ctx context.Context, userID string) (*UsageRecord, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	data, err := s.client.HGetAll(ctx, usageKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(userID, data)
}

// Set overwrites the whole record. LastUpdated is stamped here, not taken
// from the caller.
func (s *RedisStore) Set(ctx context.Context, userID string, rec *UsageRecord) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	err := s.client.HSet(ctx, usageKey(userID), map[string]any{
		fieldTotal:       rec.TotalConversationSeconds,
		fieldRemaining:   rec.RemainingSeconds,
		fieldPlanTier:    string(rec.PlanTier),
		fieldLastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("set usage record: %w", err)
	}
	return nil
}

// Update writes a partial set of fields. LastUpdated is stamped on every
// update regardless of the fields supplied.
func (s *RedisStore) Update(ctx context.Context, userID string, fields map[string]any) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	values := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values[fieldLastUpdated] = time.Now().UTC().Format(time.RFC3339Nano)

	if err := s.client.HSet(ctx, usageKey(userID), values).Err(); err != nil {
		return fmt.Errorf("update usage record: %w", err)
	}
	return nil
}

func (s *RedisStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout > 0 {
		return context.WithTimeout(ctx, s.opTimeout)
	}
	return context.WithCancel(ctx)
}

func parseRecord(userID string, data map[string]string) (*UsageRecord, error) {
	rec := &UsageRecord{
		UserID:   userID,
		PlanTier: ParseTier(data[fieldPlanTier]),
	}

	if v, ok := data[fieldTotal]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldTotal, err)
		}
		rec.TotalConversationSeconds = n
	}
	if v, ok := data[fieldRemaining]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldRemaining, err)
		}
		rec.RemainingSeconds = n
	}
	if v, ok := data[fieldLastUpdated]; ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", fieldLastUpdated, err)
		}
		rec.LastUpdated = t
	}

	// Stored values are never negative; clamp in case of a corrupt document.
	if rec.RemainingSeconds < 0 {
		rec.RemainingSeconds = 0
	}
	if rec.TotalConversationSeconds < 0 {
		rec.TotalConversationSeconds = 0
	}

	return rec, nil
}
