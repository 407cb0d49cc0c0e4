// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeSetFingerprint    = "set_fingerprint"
	TypeSetLanguage       = "set_language"
	TypeJoinConversation  = "join_conversation"
	TypeLeaveConversation = "leave_conversation"
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypePing              = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated    = "session_created"
	TypeJoined            = "joined"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeSeverityUpdate    = "severity_update"
	TypeRateLimited       = "rate_limited"
	TypeMuted             = "muted"
	TypeError             = "error"
	TypePong              = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SetFingerprintMsg is sent by the client to associate a browser fingerprint
// hash with the current session for mute enforcement.
type SetFingerprintMsg struct {
	Type        string `json:"type"`
	Fingerprint string `json:"fingerprint"`
}

// SetLanguageMsg announces the client's language tag. The tag flows into
// moderation prompts; it is never validated against a fixed list.
type SetLanguageMsg struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

// JoinConversationMsg is sent by the client to join an existing conversation
// by ID, or to create a new one when ConversationID is empty.
type JoinConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// LeaveConversationMsg is sent by the client to leave the current conversation.
type LeaveConversationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// ChatMsg is a text message sent by the client within a conversation.
type ChatMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// SessionCreatedMsg is sent by the server when a new session is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// JoinedMsg confirms the client has joined a conversation and carries the
// current participant count and severity score.
type JoinedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Participants   int    `json:"participants"`
	Severity       int64  `json:"severity"`
}

// ParticipantJoinedMsg tells existing participants that someone joined.
type ParticipantJoinedMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Participants   int    `json:"participants"`
}

// ParticipantLeftMsg tells remaining participants that someone left.
type ParticipantLeftMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Participants   int    `json:"participants"`
}

// ServerChatMsg is a moderated text message relayed to every participant.
// Text always carries the moderated form; the original never leaves the
// sender's device via the server.
type ServerChatMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"` // anonymised sender tag
	Text           string `json:"text"`
	Filtered       bool   `json:"filtered"` // true when moderation changed the text
	Ts             int64  `json:"ts"`
}

// ServerTypingMsg relays a participant's typing indicator.
type ServerTypingMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"`
	IsTyping       bool   `json:"is_typing"`
}

// SeverityUpdateMsg carries the conversation's updated severity score,
// broadcast to every participant after each moderated message.
type SeverityUpdateMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Severity       int64  `json:"severity"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// MutedMsg is sent by the server when the client has been muted. The client
// keeps receiving messages but sends are rejected until the mute expires.
type MutedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"` // seconds remaining
	Reason   string `json:"reason"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeSetFingerprint:
		var m SetFingerprintMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetLanguage:
		var m SetLanguageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinConversation:
		var m JoinConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveConversation:
		var m LeaveConversationMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
