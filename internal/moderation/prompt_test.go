package moderation

import (
	"strings"
	"testing"

	"github.com/murmurchat/murmur/internal/policy"
)

func TestCompose_Deterministic(t *testing.T) {
	pol := policy.Default()
	req := Request{
		OriginalText:        "hello there",
		ConversationContext: "casual chat",
		Language:            "en",
	}

	a := Compose(req, pol, rewriteTaskPrompt)
	b := Compose(req, pol, rewriteTaskPrompt)
	if a != b {
		t.Fatal("Compose is not deterministic for identical inputs")
	}
}

func TestCompose_SectionOrder(t *testing.T) {
	pol := policy.Default()
	pol.InstructionRules = []string{"Rule one.", "Rule two."}
	pol.Rules = []policy.FilterRule{{
		Type:              policy.RuleProfanityFilter,
		Enabled:           true,
		AlwaysFilterTerms: []string{"frak"},
		AllowedExceptions: []string{"hell"},
	}}
	pol.ResponseOptions.IncludeExplanations = true

	req := Request{OriginalText: "watch it"}
	prompt := Compose(req, pol, rewriteTaskPrompt)

	// Sections must appear in the contract's fixed order.
	markers := []string{
		"chat moderation assistant", // preamble
		"1. Rule one.",
		"2. Rule two.",
		`User message: "watch it"`,
		`"explanation"`,
		"Always treat these terms as profanity: frak",
		"Never treat these terms as profanity: hell",
		"Task: rewrite",
	}
	last := -1
	for _, m := range markers {
		i := strings.Index(prompt, m)
		if i < 0 {
			t.Fatalf("prompt missing %q:\n%s", m, prompt)
		}
		if i < last {
			t.Errorf("marker %q appears out of order", m)
		}
		last = i
	}

	if !strings.HasSuffix(strings.TrimSpace(prompt), strings.TrimSpace(rewriteTaskPrompt)) {
		t.Error("task prompt must be the final section")
	}
}

func TestCompose_EscapesMessage(t *testing.T) {
	pol := policy.Default()
	req := Request{OriginalText: "line1\nline2\t\"quoted\" back\\slash\rend"}

	prompt := Compose(req, pol, detectTaskPrompt)

	want := `User message: "line1\nline2\t\"quoted\" back\\slash\rend"`
	if !strings.Contains(prompt, want) {
		t.Errorf("escaped message block not found, prompt:\n%s", prompt)
	}
	// Raw control characters must not survive inside the quoted block.
	if strings.Contains(prompt, "line1\nline2") {
		t.Error("raw newline leaked into the quoted message")
	}
}

func TestCompose_LanguageFallback(t *testing.T) {
	pol := policy.Default()
	pol.DefaultLanguage = "fr"

	prompt := Compose(Request{OriginalText: "bonjour tout le monde"}, pol, detectTaskPrompt)
	if !strings.Contains(prompt, "Message language: fr") {
		t.Error("default language not applied when request has no language tag")
	}

	prompt = Compose(Request{OriginalText: "hola a todos", Language: "es"}, pol, detectTaskPrompt)
	if !strings.Contains(prompt, "Message language: es") {
		t.Error("request language tag not used")
	}
}

func TestCompose_DisabledRuleOmitted(t *testing.T) {
	pol := policy.Default()
	pol.Rules = []policy.FilterRule{{
		Type:              policy.RuleProfanityFilter,
		Enabled:           false,
		AlwaysFilterTerms: []string{"frak"},
	}}

	prompt := Compose(Request{OriginalText: "hello world"}, pol, detectTaskPrompt)
	if strings.Contains(prompt, "frak") {
		t.Error("disabled rule's terms leaked into the prompt")
	}
}

func TestEscapeQuoted(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`plain`, `plain`},
		{"tab\there", `tab\there`},
		{`say "hi"`, `say \"hi\"`},
		{"a\\b", `a\\b`},
		{"a\r\n", `a\r\n`},
		{"unicode é stays", "unicode é stays"},
	}
	for _, tt := range tests {
		if got := escapeQuoted(tt.input); got != tt.want {
			t.Errorf("escapeQuoted(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
