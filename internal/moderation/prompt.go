package moderation

import (
	"fmt"
	"strings"

	"github.com/murmurchat/murmur/internal/policy"
)

// preamble is the fixed rule block that opens every classifier prompt.
const preamble = `You are a chat moderation assistant. Review the user message below and respond with a single JSON object and nothing else.
The JSON object must contain the fields "originalMessage", "moderatedMessage" and "containsProfanity".
"originalMessage" must repeat the user message exactly as given, character for character.
"moderatedMessage" must be the message with any profanity or inappropriate content rewritten; if the message is clean it must equal the original.
"containsProfanity" must be a boolean.`

// Task prompts appended by the orchestrator. The detection prompt asks only
// for a verdict; the rewrite prompt asks for the user-facing rewritten text.
const (
	detectTaskPrompt  = `Task: decide whether the message contains profanity or inappropriate content. Do not rewrite anything beyond the required fields.`
	rewriteTaskPrompt = `Task: rewrite the message so it is appropriate for all participants while preserving its meaning and tone as far as possible.`
)

// Compose builds the classifier instruction text from the policy and the
// per-call request. It is a pure function: identical inputs produce
// byte-identical prompts. Section order is fixed: preamble, numbered policy
// rules, the escaped original message plus context, response-shape
// directives, profanity term lists, and finally the task prompt.
func Compose(req Request, pol *policy.Policy, taskPrompt string) string {
	var b strings.Builder

	b.WriteString(preamble)
	b.WriteString("\n")

	for i, rule := range pol.InstructionRules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}

	lang := req.Language
	if lang == "" {
		lang = pol.DefaultLanguage
	}
	fmt.Fprintf(&b, "\nMessage language: %s\n", lang)
	fmt.Fprintf(&b, "Moderation sensitivity: %s\n", pol.Sensitivity)

	if req.ConversationContext != "" {
		fmt.Fprintf(&b, "Conversation context: \"%s\"\n", escapeQuoted(req.ConversationContext))
	}
	fmt.Fprintf(&b, "User message: \"%s\"\n", escapeQuoted(req.OriginalText))

	opts := pol.ResponseOptions
	if opts.IncludeExplanations {
		b.WriteString("Include an \"explanation\" field describing why the message was or was not modified.\n")
	}
	if opts.ShowConfidenceScores {
		b.WriteString("Include a \"confidence\" field between 0 and 1.\n")
	}
	if opts.AlwaysShowCulturalContext {
		b.WriteString("Include a \"culturalContext\" field noting any culturally specific meaning.\n")
	}
	if opts.StrictJSONFormat {
		b.WriteString("Respond with strictly valid JSON: no markdown fences, no commentary, no trailing text.\n")
	}

	for _, rule := range pol.Rules {
		if rule.Type != policy.RuleProfanityFilter || !rule.Enabled {
			continue
		}
		if len(rule.AlwaysFilterTerms) > 0 {
			fmt.Fprintf(&b, "Always treat these terms as profanity: %s\n", strings.Join(rule.AlwaysFilterTerms, ", "))
		}
		if len(rule.AllowedExceptions) > 0 {
			fmt.Fprintf(&b, "Never treat these terms as profanity: %s\n", strings.Join(rule.AllowedExceptions, ", "))
		}
	}

	b.WriteString("\n")
	b.WriteString(taskPrompt)
	return b.String()
}

// escapeQuoted escapes exactly the characters that would break the quoted
// message block: backslash, double quote, newline, carriage return, and tab.
func escapeQuoted(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
