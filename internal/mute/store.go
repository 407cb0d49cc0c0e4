// Package mute provides fingerprint-based mute management backed by Redis.
// A muted user stays connected and keeps receiving messages but cannot send.
// Mute records are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   mute:<fingerprint>
//	Value: <reason>
//	TTL:   mute duration
package mute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// OffensesPrefix is the Redis key prefix for offense counters used by
	// the escalating mute system.
	OffensesPrefix = "offenses:"

	// Escalating mute durations.
	Mute5Min  = 5 * time.Minute  // 1st offense
	Mute30Min = 30 * time.Minute // 2nd offense
	Mute6Hour = 6 * time.Hour    // 3rd+ offense

	// OffensesTTL is how long the offense counter lives in Redis.
	// After 24h without new offenses the counter resets to zero.
	OffensesTTL = 24 * time.Hour

	// AutoMuteThreshold is the number of profanity verdicts within
	// OffensesTTL that triggers an automatic mute.
	AutoMuteThreshold = 3
)

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new mute store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsMuted checks if a fingerprint is currently muted.
// Returns (isMuted, remainingSeconds, reason, error).
// If the fingerprint is not muted, isMuted is false and the other return
// values are zero/empty. Redis errors are returned so callers can decide how
// to handle them (the recommended policy is fail-open).
func (s *Store) IsMuted(ctx context.Context, fingerprint string) (bool, int, string, error) {
	key := MutePrefix + fingerprint

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// We know the mute exists but can't read the TTL. Report muted
		// with 0 remaining rather than swallowing the mute.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}

	return true, remaining, reason, nil
}

// Mute sets a mute on a fingerprint with the given duration and reason.
// The mute automatically expires after the specified duration.
func (s *Store) Mute(ctx context.Context, fingerprint string, duration time.Duration, reason string) error {
	key := MutePrefix + fingerprint
	return s.client.Set(ctx, key, reason, duration).Err()
}

// Unmute removes a mute from a fingerprint immediately.
func (s *Store) Unmute(ctx context.Context, fingerprint string) error {
	key := MutePrefix + fingerprint
	return s.client.Del(ctx, key).Err()
}

// escalationDuration returns the mute duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Mute5Min
	case offenseCount == 2:
		return Mute30Min
	default:
		return Mute6Hour
	}
}

// GetOffenseCount returns the current offense counter for a fingerprint.
// Returns 0 if the key does not exist (no offenses recorded or counter expired).
func (s *Store) GetOffenseCount(ctx context.Context, fingerprint string) (int, error) {
	key := OffensesPrefix + fingerprint
	val, err := s.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// RecordOffense increments the offense counter for a fingerprint and checks
// whether the auto-mute threshold has been reached.
//
// Each profanity verdict on one of the user's messages counts as an offense.
// The counter has a 24h TTL set on first increment, so the window does not
// slide and counters naturally expire without new activity.
//
// If the threshold is met or exceeded, a mute with escalating duration is
// applied. Returns (muted, duration, error).
func (s *Store) RecordOffense(ctx context.Context, fingerprint string, reason string) (bool, time.Duration, error) {
	key := OffensesPrefix + fingerprint

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("mute: offense incr: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, OffensesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("mute: offense expire: %w", err)
		}
	}

	if count >= AutoMuteThreshold {
		// Escalate from the first muting offense: the 3rd offense is the
		// 1st mute, the 4th the 2nd, and so on.
		duration := escalationDuration(int(count) - AutoMuteThreshold + 1)
		if err := s.Mute(ctx, fingerprint, duration, "repeated_profanity"); err != nil {
			return false, 0, fmt.Errorf("mute: offense mute: %w", err)
		}
		return true, duration, nil
	}

	return false, 0, nil
}
