package moderation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/murmurchat/murmur/internal/policy"
)

// Similarity decides whether the text a classifier echoed back is close
// enough to the true original to leave untouched. It is pluggable so a
// stricter metric (e.g. edit distance) can replace the default without
// touching the orchestrator.
type Similarity interface {
	CloseMatch(a, b string, sensitivity policy.Sensitivity) bool
}

// LengthRatioSimilarity is the default close-match check: cheap and
// intentionally imprecise. Strings under 5 characters must match exactly.
// Longer strings match when minLen x threshold >= maxLen (the threshold
// tightens with sensitivity) and the shorter string's characters appear in
// order within the longer one.
type LengthRatioSimilarity struct{}

// CloseMatch implements Similarity.
func (LengthRatioSimilarity) CloseMatch(a, b string, sensitivity policy.Sensitivity) bool {
	if a == b {
		return true
	}
	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)
	if lenA < 5 || lenB < 5 {
		return false // exact-match rule already failed above
	}

	minLen, maxLen := lenA, lenB
	short, long := a, b
	if lenB < lenA {
		minLen, maxLen = lenB, lenA
		short, long = b, a
	}
	if float64(minLen)*sensitivity.CloseMatchThreshold() < float64(maxLen) {
		return false
	}
	return isOrderedSubset(short, long)
}

// isOrderedSubset reports whether every character of short appears in long in
// the same order, allowing gaps ("hello wold" against "hello world").
func isOrderedSubset(short, long string) bool {
	rest := long
	for _, r := range short {
		i := strings.IndexRune(rest, r)
		if i < 0 {
			return false
		}
		rest = rest[i+utf8.RuneLen(r):]
	}
	return true
}

// originalFieldKeys are the payload fields the reconciler guards, compared
// case-insensitively.
func isOriginalField(key string) bool {
	switch strings.ToLower(key) {
	case "originalmessage", "original":
		return true
	}
	return false
}

// Reconcile validates a classifier payload against the true original text.
// An unparseable payload is replaced wholesale with a basic verdict carrying
// the original unmodified and an error marker. A parseable payload has its
// original-message fields rewritten in place when they drifted from the true
// original, leaving every other field untouched. Reconcile is idempotent.
func Reconcile(payload string, original string, pol *policy.Policy, sim Similarity) string {
	if sim == nil {
		sim = LengthRatioSimilarity{}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &fields); err != nil || fields == nil {
		return basicVerdictJSON(original, "unparseable classifier response")
	}

	if !pol.ResponseOptions.PreserveOriginalText {
		return payload
	}

	changed := false
	for key, raw := range fields {
		if !isOriginalField(key) {
			continue
		}
		var val string
		if err := json.Unmarshal(raw, &val); err != nil {
			continue // non-string original field is left as-is
		}
		if sim.CloseMatch(val, original, pol.Sensitivity) {
			continue
		}
		repaired, err := json.Marshal(original)
		if err != nil {
			continue
		}
		fields[key] = repaired
		changed = true
	}

	if !changed {
		return payload
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return basicVerdictJSON(original, "reconcile re-encode failed")
	}
	return string(out)
}

// basicVerdictJSON is the conservative terminal shape for payloads that could
// not be parsed at all.
func basicVerdictJSON(original, errMarker string) string {
	out, err := json.Marshal(map[string]any{
		"originalMessage":   original,
		"moderatedMessage":  original,
		"wasModified":       false,
		"containsProfanity": false,
		"error":             errMarker,
	})
	if err != nil {
		// original contained nothing marshalable; cannot happen for strings.
		return `{"error":"` + errMarker + `"}`
	}
	return string(out)
}
