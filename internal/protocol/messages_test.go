package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join_conversation message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinConversation(t *testing.T) {
	input := []byte(`{"type":"join_conversation","conversation_id":"conv-123"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinConversation {
		t.Fatalf("expected type %q, got %q", TypeJoinConversation, msgType)
	}

	jm, ok := msg.(JoinConversationMsg)
	if !ok {
		t.Fatalf("expected JoinConversationMsg, got %T", msg)
	}
	if jm.ConversationID != "conv-123" {
		t.Errorf("expected conversation_id %q, got %q", "conv-123", jm.ConversationID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message (chat) message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","conversation_id":"abc-123","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.ConversationID != "abc-123" {
		t.Errorf("expected conversation_id %q, got %q", "abc-123", cm.ConversationID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a severity_update server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_SeverityUpdate(t *testing.T) {
	payload := SeverityUpdateMsg{
		ConversationID: "uuid-456",
		Severity:       7,
	}

	data, err := NewServerMessage(TypeSeverityUpdate, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeSeverityUpdate {
		t.Errorf("expected type %q, got %v", TypeSeverityUpdate, result["type"])
	}
	if result["conversation_id"] != "uuid-456" {
		t.Errorf("expected conversation_id %q, got %v", "uuid-456", result["conversation_id"])
	}

	severity, ok := result["severity"].(float64)
	if !ok {
		t.Fatalf("expected severity to be a number, got %T", result["severity"])
	}
	if int(severity) != 7 {
		t.Errorf("expected severity 7, got %v", severity)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Round-trip fidelity (marshal -> unmarshal)
// ---------------------------------------------------------------------------

func TestRoundTrip_SetLanguage(t *testing.T) {
	original := SetLanguageMsg{
		Type:     TypeSetLanguage,
		Language: "pt-BR",
	}

	// Marshal to JSON.
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	// Parse back through the protocol parser.
	msgType, msg, err := ParseClientMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSetLanguage {
		t.Fatalf("expected type %q, got %q", TypeSetLanguage, msgType)
	}

	decoded, ok := msg.(SetLanguageMsg)
	if !ok {
		t.Fatalf("expected SetLanguageMsg, got %T", msg)
	}
	if decoded.Language != original.Language {
		t.Errorf("language mismatch: expected %q, got %q", original.Language, decoded.Language)
	}
}

func TestRoundTrip_ServerChatMessage(t *testing.T) {
	original := ServerChatMsg{
		Type:           TypeMessage,
		ConversationID: "test-uuid",
		From:           "participant_2",
		Text:           "**** you",
		Filtered:       true,
		Ts:             1700000000,
	}

	// Create server message bytes.
	data, err := NewServerMessage(TypeMessage, original)
	if err != nil {
		t.Fatalf("failed to create server message: %v", err)
	}

	// Unmarshal back into the struct.
	var decoded ServerChatMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}

	if decoded.Type != TypeMessage {
		t.Errorf("type mismatch: expected %q, got %q", TypeMessage, decoded.Type)
	}
	if decoded.ConversationID != original.ConversationID {
		t.Errorf("conversation_id mismatch: expected %q, got %q", original.ConversationID, decoded.ConversationID)
	}
	if decoded.Text != original.Text {
		t.Errorf("text mismatch: expected %q, got %q", original.Text, decoded.Text)
	}
	if !decoded.Filtered {
		t.Error("expected filtered=true to survive the round trip")
	}
	if decoded.Ts != original.Ts {
		t.Errorf("ts mismatch: expected %d, got %d", original.Ts, decoded.Ts)
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"set_fingerprint", `{"type":"set_fingerprint","fingerprint":"abc"}`, TypeSetFingerprint},
		{"set_language", `{"type":"set_language","language":"en"}`, TypeSetLanguage},
		{"join_conversation", `{"type":"join_conversation","conversation_id":"id1"}`, TypeJoinConversation},
		{"leave_conversation", `{"type":"leave_conversation","conversation_id":"id1"}`, TypeLeaveConversation},
		{"message", `{"type":"message","conversation_id":"id1","text":"hi"}`, TypeMessage},
		{"typing", `{"type":"typing","conversation_id":"id1","is_typing":true}`, TypeTyping},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgType, msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msgType != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msgType)
			}
			if msg == nil {
				t.Error("expected non-nil message")
			}
		})
	}
}
