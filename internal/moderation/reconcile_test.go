package moderation

import (
	"encoding/json"
	"testing"

	"github.com/murmurchat/murmur/internal/policy"
)

func TestCloseMatch(t *testing.T) {
	sim := LengthRatioSimilarity{}

	tests := []struct {
		name string
		a, b string
		sens policy.Sensitivity
		want bool
	}{
		{"identical", "hello world", "hello world", policy.SensitivityHigh, true},
		{"dropped letter low", "hello world", "hello wold", policy.SensitivityLow, true},
		{"dropped letter medium", "hello world", "hello wold", policy.SensitivityMedium, true},
		{"short exact rule", "ab", "ba", policy.SensitivityLow, false},
		{"short equal", "hey", "hey", policy.SensitivityLow, true},
		{"short vs long", "hi", "hi there everyone", policy.SensitivityLow, false},
		{"ratio too far medium", "abcdefgh", "abcdefghijklmnop", policy.SensitivityMedium, false},
		{"reordered fails subset", "hello world", "world hello", policy.SensitivityLow, false},
		{"symmetric", "hello wold", "hello world", policy.SensitivityMedium, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sim.CloseMatch(tt.a, tt.b, tt.sens); got != tt.want {
				t.Errorf("CloseMatch(%q, %q, %s) = %v, want %v", tt.a, tt.b, tt.sens, got, tt.want)
			}
		})
	}
}

func TestReconcile_UnparseablePayload(t *testing.T) {
	pol := policy.Default()
	out := Reconcile("not json at all", "the original", pol, nil)

	var fields map[string]any
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("reconciled payload is not valid JSON: %v", err)
	}
	if fields["originalMessage"] != "the original" {
		t.Errorf("originalMessage = %v, want the original", fields["originalMessage"])
	}
	if fields["wasModified"] != false {
		t.Errorf("wasModified = %v, want false", fields["wasModified"])
	}
	if fields["error"] == nil || fields["error"] == "" {
		t.Error("expected an error marker in the basic verdict")
	}
}

func TestReconcile_RepairsDriftedOriginal(t *testing.T) {
	pol := policy.Default() // preserve_original_text on, medium sensitivity
	original := "this is the original message text"
	payload := `{"originalMessage":"this is totally different content entirely","moderatedMessage":"x","containsProfanity":false}`

	out := Reconcile(payload, original, pol, nil)

	var fields map[string]any
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("invalid JSON after reconcile: %v", err)
	}
	if fields["originalMessage"] != original {
		t.Errorf("originalMessage = %v, want repaired original", fields["originalMessage"])
	}
	// Every other field is untouched.
	if fields["moderatedMessage"] != "x" {
		t.Errorf("moderatedMessage = %v, want x", fields["moderatedMessage"])
	}
	if fields["containsProfanity"] != false {
		t.Errorf("containsProfanity = %v, want false", fields["containsProfanity"])
	}
}

func TestReconcile_CaseInsensitiveFieldNames(t *testing.T) {
	pol := policy.Default()
	original := "the actual message the user sent"

	for _, key := range []string{"originalMessage", "ORIGINALMESSAGE", "original", "Original"} {
		payload := `{"` + key + `":"something the model made up instead"}`
		out := Reconcile(payload, original, pol, nil)

		var fields map[string]string
		if err := json.Unmarshal([]byte(out), &fields); err != nil {
			t.Fatalf("key %s: invalid JSON: %v", key, err)
		}
		if fields[key] != original {
			t.Errorf("key %s: value = %q, want repaired original", key, fields[key])
		}
	}
}

func TestReconcile_CloseMatchLeftAlone(t *testing.T) {
	pol := policy.Default()
	original := "hello world"
	payload := `{"originalMessage":"hello wold","containsProfanity":false}`

	out := Reconcile(payload, original, pol, nil)
	if out != payload {
		t.Errorf("close-match payload was rewritten:\n got %s\nwant %s", out, payload)
	}
}

func TestReconcile_PreserveDisabled(t *testing.T) {
	pol := policy.Default()
	pol.ResponseOptions.PreserveOriginalText = false
	payload := `{"originalMessage":"completely unrelated text goes here","containsProfanity":true}`

	out := Reconcile(payload, "the real original message", pol, nil)
	if out != payload {
		t.Error("payload must pass through untouched when preservation is disabled")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	pol := policy.Default()
	original := "the one true original message"

	payloads := []string{
		"garbage {{{",
		`{"originalMessage":"model hallucinated something else here","containsProfanity":true}`,
		`{"original":"drifted text that is not the original","moderatedMessage":"m"}`,
		`{"containsProfanity":false}`,
	}

	for _, p := range payloads {
		once := Reconcile(p, original, pol, nil)
		twice := Reconcile(once, original, pol, nil)
		if once != twice {
			t.Errorf("Reconcile not idempotent for %q:\n once: %s\ntwice: %s", p, once, twice)
		}
	}
}

func TestReconcile_NonStringOriginalFieldIgnored(t *testing.T) {
	pol := policy.Default()
	payload := `{"originalMessage":42,"containsProfanity":false}`

	out := Reconcile(payload, "the original", pol, nil)
	if out != payload {
		t.Error("non-string original field must be left as-is")
	}
}

// fixedSimilarity lets tests force the close-match outcome.
type fixedSimilarity struct{ match bool }

func (f fixedSimilarity) CloseMatch(a, b string, s policy.Sensitivity) bool { return f.match }

func TestReconcile_PluggableSimilarity(t *testing.T) {
	pol := policy.Default()
	payload := `{"originalMessage":"anything"}`

	// A strategy that always matches leaves the payload alone.
	if out := Reconcile(payload, "other", pol, fixedSimilarity{match: true}); out != payload {
		t.Error("always-match similarity must not rewrite the payload")
	}

	// A strategy that never matches forces the repair.
	out := Reconcile(payload, "other", pol, fixedSimilarity{match: false})
	var fields map[string]string
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if fields["originalMessage"] != "other" {
		t.Errorf("originalMessage = %q, want repaired", fields["originalMessage"])
	}
}
