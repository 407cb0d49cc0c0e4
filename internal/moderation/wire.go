package moderation

// CheckRequest is the NATS payload for an out-of-process moderation check
// (subject moderation.check).
type CheckRequest struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Language       string `json:"language,omitempty"`
	Text           string `json:"text"`
}

// CheckResult is the NATS payload published on moderation.result.<session_id>
// in response to a CheckRequest.
type CheckResult struct {
	SessionID         string `json:"session_id"`
	ConversationID    string `json:"conversation_id"`
	OriginalText      string `json:"original_text"`
	ModeratedText     string `json:"moderated_text"`
	ContainsProfanity bool   `json:"contains_profanity"`
	WasModified       bool   `json:"was_modified"`
	Source            Source `json:"source"`
}

// ResultFromVerdict converts a pipeline verdict into its wire form.
func ResultFromVerdict(req CheckRequest, v Verdict) CheckResult {
	return CheckResult{
		SessionID:         req.SessionID,
		ConversationID:    req.ConversationID,
		OriginalText:      v.OriginalText,
		ModeratedText:     v.ModeratedText,
		ContainsProfanity: v.ContainsProfanity,
		WasModified:       v.WasModified,
		Source:            v.Source,
	}
}
