// Package policy defines the moderation policy consumed by the prompt
// composer, reconciler, and orchestrator, and a process-wide store that
// holds the active policy as an immutable snapshot.
package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sensitivity controls how strict moderation is. It scales the reconciler's
// close-match threshold and is forwarded to the classifier prompt.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

// CloseMatchThreshold returns the length-ratio threshold used by the default
// close-match check: stricter sensitivity tolerates less divergence between
// the original text and what the classifier echoed back.
func (s Sensitivity) CloseMatchThreshold() float64 {
	switch s {
	case SensitivityHigh:
		return 1.1
	case SensitivityLow:
		return 1.5
	default:
		return 1.3
	}
}

// RuleProfanityFilter is the FilterRule type consulted for term lists.
const RuleProfanityFilter = "ProfanityFilter"

// FilterRule is one entry in the policy's ordered rule list.
// AlwaysFilterTerms wins over AllowedExceptions when both match a token.
type FilterRule struct {
	Type              string   `json:"type"`
	Enabled           bool     `json:"enabled"`
	AllowedExceptions []string `json:"allowed_exceptions"`
	AlwaysFilterTerms []string `json:"always_filter_terms"`
}

// ResponseOptions are the response-shape flags forwarded to the classifier
// prompt and consulted by the reconciler.
type ResponseOptions struct {
	IncludeExplanations       bool `json:"include_explanations"`
	ShowConfidenceScores      bool `json:"show_confidence_scores"`
	AlwaysShowCulturalContext bool `json:"always_show_cultural_context"`
	PreserveOriginalText      bool `json:"preserve_original_text"`
	StrictJSONFormat          bool `json:"strict_json_format"`
}

// Policy is a complete moderation configuration snapshot. A Policy is never
// mutated after it is published to the Store; reloads swap in a new value.
type Policy struct {
	Sensitivity             Sensitivity     `json:"sensitivity"`
	DefaultLanguage         string          `json:"default_language"`
	AlwaysModerateLanguages []string        `json:"always_moderate_languages"`
	Rules                   []FilterRule    `json:"rules"`
	ResponseOptions         ResponseOptions `json:"response_options"`
	InstructionRules        []string        `json:"instruction_rules"`

	// Retry tuning for the orchestrator. These are policy knobs rather than
	// constants so load testing can adjust them without a deploy.
	DetectAttempts  int           `json:"detect_attempts"`
	RewriteAttempts int           `json:"rewrite_attempts"`
	RetryBackoff    time.Duration `json:"retry_backoff"`
}

// Default returns the policy used when no policy file is configured.
func Default() *Policy {
	return &Policy{
		Sensitivity:             SensitivityMedium,
		DefaultLanguage:         "en",
		AlwaysModerateLanguages: []string{"en"},
		Rules: []FilterRule{
			{
				Type:    RuleProfanityFilter,
				Enabled: true,
			},
		},
		ResponseOptions: ResponseOptions{
			PreserveOriginalText: true,
			StrictJSONFormat:     true,
		},
		InstructionRules: []string{
			"Replace profanity with asterisks of the same length.",
			"Do not change the meaning of the message.",
		},
		DetectAttempts:  2,
		RewriteAttempts: 4,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// ProfanityRule returns the first enabled ProfanityFilter rule, or nil if the
// policy has none. Rule order is stable within a snapshot, so this is
// deterministic.
func (p *Policy) ProfanityRule() *FilterRule {
	for i := range p.Rules {
		if p.Rules[i].Type == RuleProfanityFilter && p.Rules[i].Enabled {
			return &p.Rules[i]
		}
	}
	return nil
}

// validate normalizes a decoded policy, filling zero-valued tunables with the
// defaults so a partial policy file is usable.
func (p *Policy) validate() error {
	switch p.Sensitivity {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
	case "":
		p.Sensitivity = SensitivityMedium
	default:
		return fmt.Errorf("policy: unknown sensitivity %q", p.Sensitivity)
	}
	if p.DefaultLanguage == "" {
		p.DefaultLanguage = "en"
	}
	if p.DetectAttempts <= 0 {
		p.DetectAttempts = 2
	}
	if p.RewriteAttempts <= 0 {
		p.RewriteAttempts = 4
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 500 * time.Millisecond
	}
	return nil
}

// Parse decodes a policy from JSON and validates it.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// UnmarshalJSON accepts RetryBackoff either as nanoseconds or as a duration
// string like "500ms".
func (p *Policy) UnmarshalJSON(data []byte) error {
	type alias Policy
	aux := struct {
		*alias
		RetryBackoff json.RawMessage `json:"retry_backoff"`
	}{alias: (*alias)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.RetryBackoff) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(aux.RetryBackoff, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("policy: retry_backoff: %w", err)
		}
		p.RetryBackoff = d
		return nil
	}

	var ns int64
	if err := json.Unmarshal(aux.RetryBackoff, &ns); err != nil {
		return fmt.Errorf("policy: retry_backoff: %w", err)
	}
	p.RetryBackoff = time.Duration(ns)
	return nil
}
