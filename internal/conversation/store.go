// Package conversation manages multi-party conversation state in Redis:
// participant membership, lifecycle status, and the persisted severity score.
// Keys:
//
//	conv:<id>          hash    status, created_at, severity
//	conv:<id>:members  set     session IDs of participants
package conversation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ConvPrefix is the Redis key prefix for conversation hashes.
	ConvPrefix = "conv:"

	// MembersSuffix is appended to the hash key for the participant set.
	MembersSuffix = ":members"

	// ConvTTL is refreshed on every activity; idle conversations expire.
	ConvTTL = 12 * time.Hour

	// MaxParticipants caps conversation size.
	MaxParticipants = 32

	StatusActive = "active"
	StatusEnded  = "ended"
)

// Conversation is a snapshot of one conversation's Redis state.
type Conversation struct {
	ID        string
	Status    string
	CreatedAt int64
	Severity  int64
}

// Store manages conversation state in Redis.
type Store struct {
	rdb        *redis.Client
	joinScript *redis.Script
}

// NewStore creates a conversation store backed by the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:        rdb,
		joinScript: redis.NewScript(joinLua),
	}
}

// Create registers a new active conversation.
func (s *Store) Create(ctx context.Context, conversationID string) error {
	key := ConvPrefix + conversationID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"status":     StatusActive,
		"created_at": time.Now().Unix(),
		"severity":   0,
	})
	pipe.Expire(ctx, key, ConvTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conversation: create %s: %w", conversationID, err)
	}
	return nil
}

// Get retrieves a conversation snapshot. Returns nil if not found.
func (s *Store) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	key := ConvPrefix + conversationID
	result, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: get %s: %w", conversationID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	createdAt, _ := strconv.ParseInt(result["created_at"], 10, 64)
	sev, _ := strconv.ParseInt(result["severity"], 10, 64)

	return &Conversation{
		ID:        conversationID,
		Status:    result["status"],
		CreatedAt: createdAt,
		Severity:  sev,
	}, nil
}

// Join atomically adds a session to an active conversation. Returns:
//
//	 1 = joined
//	 0 = already a participant
//	-1 = conversation not found or ended
//	-2 = conversation full
func (s *Store) Join(ctx context.Context, conversationID, sessionID string) (int, error) {
	key := ConvPrefix + conversationID
	result, err := s.joinScript.Run(ctx, s.rdb,
		[]string{key, key + MembersSuffix},
		sessionID, MaxParticipants, int(ConvTTL.Seconds()),
	).Int()
	if err != nil {
		return -1, fmt.Errorf("conversation: join %s: %w", conversationID, err)
	}
	return result, nil
}

// Leave removes a session from the participant set. Returns the number of
// remaining participants.
func (s *Store) Leave(ctx context.Context, conversationID, sessionID string) (int64, error) {
	members := ConvPrefix + conversationID + MembersSuffix

	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, members, sessionID)
	card := pipe.SCard(ctx, members)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("conversation: leave %s: %w", conversationID, err)
	}
	return card.Val(), nil
}

// Participants returns the session IDs of every participant.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, ConvPrefix+conversationID+MembersSuffix).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: participants %s: %w", conversationID, err)
	}
	return members, nil
}

// IsParticipant checks membership for a single session.
func (s *Store) IsParticipant(ctx context.Context, conversationID, sessionID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, ConvPrefix+conversationID+MembersSuffix, sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("conversation: membership %s: %w", conversationID, err)
	}
	return ok, nil
}

// UpdateSeverity persists the authoritative severity score for the
// conversation. The in-process tracker computes the score; this write makes
// it visible to other server instances and to moderation tooling.
func (s *Store) UpdateSeverity(ctx context.Context, conversationID string, score int64) error {
	key := ConvPrefix + conversationID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "severity", score)
	pipe.Expire(ctx, key, ConvTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conversation: update severity %s: %w", conversationID, err)
	}
	return nil
}

// End marks a conversation ended and drops its participant set.
func (s *Store) End(ctx context.Context, conversationID string) error {
	key := ConvPrefix + conversationID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, "status", StatusEnded)
	pipe.Del(ctx, key+MembersSuffix)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("conversation: end %s: %w", conversationID, err)
	}
	return nil
}

// joinLua atomically checks status and capacity before adding the member,
// refreshing the TTL on both keys.
const joinLua = `
local key = KEYS[1]
local members = KEYS[2]
local session_id = ARGV[1]
local max = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local status = redis.call('HGET', key, 'status')
if not status or status ~= 'active' then return -1 end

if redis.call('SISMEMBER', members, session_id) == 1 then
    redis.call('EXPIRE', key, ttl)
    redis.call('EXPIRE', members, ttl)
    return 0
end

if redis.call('SCARD', members) >= max then return -2 end

redis.call('SADD', members, session_id)
redis.call('EXPIRE', key, ttl)
redis.call('EXPIRE', members, ttl)
return 1
`
