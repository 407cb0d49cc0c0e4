package moderation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/murmurchat/murmur/internal/policy"
)

// defaultWords is the built-in profanity list. Matching is word-boundary and
// case-insensitive, so "class" and "assess" do not trip the "ass" entry.
var defaultWords = []string{
	"ass", "asshole", "bastard", "bitch", "bollocks", "cock", "crap",
	"cunt", "dick", "douche", "faggot", "fuck", "fucker", "fucking",
	"motherfucker", "nigger", "piss", "prick", "pussy", "shit", "slut",
	"twat", "wanker", "whore",
}

// leetClasses maps letters to the character classes used to catch simple
// evasions such as "sh1t" or "f*u*c*k". Letters without an entry match
// themselves only.
var leetClasses = map[rune]string{
	'a': "[a@4]",
	'b': "[b8]",
	'e': "[e3]",
	'g': "[g9]",
	'i': "[i1!|]",
	'l': "[l1|]",
	'o': "[o0]",
	's': "[s$5z]",
	't': "[t7+]",
	'u': "[uv]",
}

// leetEdgeClasses restricts the first and last letter of an evasion pattern
// to word characters so the surrounding \b anchors still apply.
var leetEdgeClasses = map[rune]string{
	'a': "[a4]",
	'b': "[b8]",
	'e': "[e3]",
	'g': "[g9]",
	'i': "[i1]",
	'l': "[l1]",
	'o': "[o0]",
	's': "[s5z]",
	't': "[t7]",
	'u': "[uv]",
}

// nonWordGap allows arbitrary non-word characters between the letters of an
// evaded word ("f.u.c.k", "f u c k").
const nonWordGap = `[\W_]*`

// suspiciousPatterns is the narrow tie-breaker set used only when the AI path
// has degraded. It trades precision for recall and is expected to produce
// false positives on innocent text.
var suspiciousPatterns = []*regexp.Regexp{
	// "f" followed by a vowel-like or masked character.
	regexp.MustCompile(`(?i)\bf[\W_]*[u@v*o0]\w*`),
	// Short token ending in a hard c/k-like cluster ("fck", "fkk").
	regexp.MustCompile(`(?i)\b\w{1,3}(ck|kk|xx)\b`),
	// A word with symbols punched through its interior ("b#tch", "s--t").
	regexp.MustCompile(`(?i)\b[a-z]+[*#@$%&_-]+[a-z]+\b`),
}

// wordPattern holds the compiled matchers for one list entry.
type wordPattern struct {
	word  string
	plain *regexp.Regexp
	leet  *regexp.Regexp
}

// Detector is the deterministic profanity detector. It is the cheap pre-check
// for very short inputs and the sole source of truth when the classifier is
// unavailable. All methods are pure and safe for concurrent use.
type Detector struct {
	patterns   []wordPattern
	exceptions map[string]struct{} // lowercased terms exempt from matching
	always     map[string]struct{} // lowercased terms that always match
}

// NewDetector builds a detector over the built-in word list.
func NewDetector() *Detector {
	return newDetector(defaultWords, nil, nil)
}

// NewDetectorForRule builds a detector honoring a policy FilterRule: its
// AlwaysFilterTerms are added to the word list and its AllowedExceptions are
// skipped on match. AlwaysFilterTerms wins when a term appears in both sets.
// A nil or disabled rule yields the default detector.
func NewDetectorForRule(rule *policy.FilterRule) *Detector {
	if rule == nil || !rule.Enabled {
		return NewDetector()
	}

	always := make(map[string]struct{}, len(rule.AlwaysFilterTerms))
	words := make([]string, 0, len(defaultWords)+len(rule.AlwaysFilterTerms))
	words = append(words, defaultWords...)
	for _, t := range rule.AlwaysFilterTerms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		always[t] = struct{}{}
		words = append(words, t)
	}

	exceptions := make(map[string]struct{}, len(rule.AllowedExceptions))
	for _, t := range rule.AllowedExceptions {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			exceptions[t] = struct{}{}
		}
	}

	return newDetector(words, exceptions, always)
}

func newDetector(words []string, exceptions, always map[string]struct{}) *Detector {
	d := &Detector{exceptions: exceptions, always: always}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		d.patterns = append(d.patterns, wordPattern{
			word:  w,
			plain: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`),
			leet:  compileLeet(w),
		})
	}
	return d
}

// compileLeet builds the evasion pattern for a word: every letter may be
// substituted per leetClasses and separated by non-word characters.
func compileLeet(word string) *regexp.Regexp {
	runes := []rune(word)
	var b strings.Builder
	b.WriteString(`(?i)\b`)
	for i, r := range runes {
		if i > 0 {
			b.WriteString(nonWordGap)
		}
		classes := leetClasses
		if i == 0 || i == len(runes)-1 {
			classes = leetEdgeClasses
		}
		if class, ok := classes[r]; ok {
			b.WriteString(class)
		} else {
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`\b`)
	return regexp.MustCompile(b.String())
}

// allowed reports whether a matched word is exempted by the policy's
// exception list. AlwaysFilterTerms beats AllowedExceptions.
func (d *Detector) allowed(word string) bool {
	if _, force := d.always[word]; force {
		return false
	}
	_, ok := d.exceptions[word]
	return ok
}

// Detect reports whether text contains a word-list match or a l33t-speak
// evasion of one.
func (d *Detector) Detect(text string) bool {
	for _, p := range d.patterns {
		if d.allowed(p.word) {
			continue
		}
		if p.plain.MatchString(text) || p.leet.MatchString(text) {
			return true
		}
	}
	return false
}

// Filter replaces every matched span with an equal-length run of asterisks.
// The plain and evasion passes run independently; a span masked by the first
// pass is harmlessly re-masked by the second.
func (d *Detector) Filter(text string) string {
	for _, p := range d.patterns {
		if d.allowed(p.word) {
			continue
		}
		text = maskMatches(text, p.plain)
	}
	for _, p := range d.patterns {
		if d.allowed(p.word) {
			continue
		}
		text = maskMatches(text, p.leet)
	}
	return text
}

// Suspicious reports whether text trips the narrow prefix/suffix patterns.
// It is a tie-breaker for the degraded path, not a primary detector.
func (d *Detector) Suspicious(text string) bool {
	for _, re := range suspiciousPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// maskMatches rewrites each regexp match to asterisks of the same length.
func maskMatches(text string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Repeat("*", utf8.RuneCountInString(m))
	})
}

// MaskAll censors an entire message, preserving its character count. This is
// the terminal conservative default when no moderation path produced a
// usable verdict.
func MaskAll(text string) string {
	return strings.Repeat("*", utf8.RuneCountInString(text))
}
