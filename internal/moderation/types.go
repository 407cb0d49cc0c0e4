// Package moderation implements the moderation decision pipeline: prompt
// construction, AI classification with retry and rate-limit short-circuit,
// structured-response reconciliation, and a deterministic heuristic fallback.
// Every message relayed between chat participants passes through this
// package first.
package moderation

import "encoding/json"

// Source records which path produced a verdict.
type Source string

const (
	// SourceAI means the classifier produced the verdict.
	SourceAI Source = "ai"
	// SourceHeuristic means the word-list detector produced the verdict.
	SourceHeuristic Source = "heuristic"
	// SourceConservative means no path produced a usable verdict and the
	// text was fully censored.
	SourceConservative Source = "conservative"
)

// Request is one moderation call. It is immutable after construction.
type Request struct {
	OriginalText        string
	ConversationContext string
	Language            string
}

// Verdict is the outcome of moderating a single message. OriginalText always
// equals the request's OriginalText byte for byte; the reconciler repairs
// classifier responses that violate this.
type Verdict struct {
	OriginalText      string
	ModeratedText     string
	WasModified       bool
	ContainsProfanity bool
	Source            Source
	Raw               json.RawMessage // classifier payload retained for audit
}

// cleanVerdict builds a pass-through verdict for text that needs no change.
func cleanVerdict(text string, src Source) Verdict {
	return Verdict{
		OriginalText:  text,
		ModeratedText: text,
		Source:        src,
	}
}
