package policy

import (
	"sync"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	p := Default()
	if p.Sensitivity != SensitivityMedium {
		t.Errorf("Sensitivity = %q, want %q", p.Sensitivity, SensitivityMedium)
	}
	if p.DetectAttempts != 2 || p.RewriteAttempts != 4 {
		t.Errorf("attempts = (%d, %d), want (2, 4)", p.DetectAttempts, p.RewriteAttempts)
	}
	if p.RetryBackoff != 500*time.Millisecond {
		t.Errorf("RetryBackoff = %s, want 500ms", p.RetryBackoff)
	}
	if p.ProfanityRule() == nil {
		t.Error("default policy has no enabled ProfanityFilter rule")
	}
}

func TestCloseMatchThreshold(t *testing.T) {
	tests := []struct {
		s    Sensitivity
		want float64
	}{
		{SensitivityHigh, 1.1},
		{SensitivityMedium, 1.3},
		{SensitivityLow, 1.5},
		{Sensitivity("bogus"), 1.3}, // unknown falls back to medium
	}
	for _, tt := range tests {
		if got := tt.s.CloseMatchThreshold(); got != tt.want {
			t.Errorf("CloseMatchThreshold(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	data := []byte(`{
		"sensitivity": "high",
		"default_language": "es",
		"rules": [
			{"type": "ProfanityFilter", "enabled": true, "always_filter_terms": ["frak"]}
		],
		"response_options": {"preserve_original_text": true},
		"instruction_rules": ["Keep it short."],
		"retry_backoff": "250ms"
	}`)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Sensitivity != SensitivityHigh {
		t.Errorf("Sensitivity = %q, want high", p.Sensitivity)
	}
	if p.RetryBackoff != 250*time.Millisecond {
		t.Errorf("RetryBackoff = %s, want 250ms", p.RetryBackoff)
	}
	// Zero-valued tunables are filled with defaults.
	if p.DetectAttempts != 2 || p.RewriteAttempts != 4 {
		t.Errorf("attempts = (%d, %d), want defaults (2, 4)", p.DetectAttempts, p.RewriteAttempts)
	}
	rule := p.ProfanityRule()
	if rule == nil {
		t.Fatal("ProfanityRule returned nil")
	}
	if len(rule.AlwaysFilterTerms) != 1 || rule.AlwaysFilterTerms[0] != "frak" {
		t.Errorf("AlwaysFilterTerms = %v", rule.AlwaysFilterTerms)
	}
}

func TestParse_BadSensitivity(t *testing.T) {
	if _, err := Parse([]byte(`{"sensitivity": "extreme"}`)); err == nil {
		t.Fatal("expected error for unknown sensitivity")
	}
}

func TestProfanityRule_Order(t *testing.T) {
	p := &Policy{
		Rules: []FilterRule{
			{Type: RuleProfanityFilter, Enabled: false, AlwaysFilterTerms: []string{"a"}},
			{Type: "LinkFilter", Enabled: true},
			{Type: RuleProfanityFilter, Enabled: true, AlwaysFilterTerms: []string{"b"}},
		},
	}
	rule := p.ProfanityRule()
	if rule == nil {
		t.Fatal("ProfanityRule returned nil")
	}
	// First enabled ProfanityFilter wins; disabled rules are skipped.
	if len(rule.AlwaysFilterTerms) != 1 || rule.AlwaysFilterTerms[0] != "b" {
		t.Errorf("got terms %v, want [b]", rule.AlwaysFilterTerms)
	}
}

func TestStore_ReplaceAndConcurrentReads(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Hammer Current while Replace swaps snapshots. Readers must always see
	// a complete policy, never a nil or partially written one.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				p := s.Current()
				if p == nil {
					t.Error("Current returned nil")
					return
				}
				if p.Sensitivity == "" {
					t.Error("Current returned policy with empty sensitivity")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		next := Default()
		next.Sensitivity = SensitivityHigh
		if err := s.Replace(next); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	if s.Current().Sensitivity != SensitivityHigh {
		t.Errorf("Sensitivity after replace = %q, want high", s.Current().Sensitivity)
	}
}

func TestStore_ReplaceNil(t *testing.T) {
	s := NewStore()
	if err := s.Replace(nil); err == nil {
		t.Fatal("expected error replacing with nil policy")
	}
}

func TestStore_ReloadWithoutFile(t *testing.T) {
	s := NewStore()
	if err := s.Reload(); err == nil {
		t.Fatal("expected error reloading store with no backing file")
	}
}
