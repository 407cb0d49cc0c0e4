// Package session manages anonymous user sessions. It handles session creation,
// lookup, expiration, and storage of ephemeral session state backed by Redis.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// DefaultLanguage is assumed until the client announces one.
	DefaultLanguage = "en"

	// Status constants for the session state machine.
	StatusIdle     = "idle"
	StatusChatting = "chatting"
)

// Session represents a user's session state stored in Redis.
type Session struct {
	ID             string `redis:"id"`
	Status         string `redis:"status"`          // idle | chatting
	ConversationID string `redis:"conversation_id"` // empty outside a conversation
	Server         string `redis:"server"`          // which WS server instance
	Language       string `redis:"language"`        // BCP 47-ish tag, e.g. "en", "pt-BR"
	Fingerprint    string `redis:"fingerprint"`     // browser fingerprint hash
	CreatedAt      int64  `redis:"created_at"`      // unix timestamp
	LastActive     int64  `redis:"last_active"`     // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session in Redis with idle status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":              sessionID,
		"status":          StatusIdle,
		"conversation_id": "",
		"server":          s.serverName,
		"language":        DefaultLanguage,
		"fingerprint":     "",
		"created_at":      now,
		"last_active":     now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetLanguage records the client's announced language tag. The tag is passed
// through to moderation prompts verbatim; unknown tags are fine.
func (s *Store) SetLanguage(ctx context.Context, sessionID string, language string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "language", language, "last_active", time.Now().Unix()).Err()
}

// SetConversationID sets the active conversation for the session and marks
// status as chatting.
func (s *Store) SetConversationID(ctx context.Context, sessionID string, conversationID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "conversation_id", conversationID, "status", StatusChatting, "last_active", time.Now().Unix()).Err()
}

// ClearConversationID removes the active conversation and resets status to idle.
func (s *Store) ClearConversationID(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "conversation_id", "", "status", StatusIdle, "last_active", time.Now().Unix()).Err()
}

// SetFingerprint stores the browser fingerprint hash.
func (s *Store) SetFingerprint(ctx context.Context, sessionID string, fingerprint string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "fingerprint", fingerprint).Err()
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
