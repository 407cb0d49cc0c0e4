package moderation

import (
	"context"
	"encoding/json"
	"log"
	"time"
	"unicode/utf8"

	"github.com/murmurchat/murmur/internal/classifier"
	"github.com/murmurchat/murmur/internal/metrics"
	"github.com/murmurchat/murmur/internal/policy"
)

// minClassifierLen is the input length below which the classifier is skipped
// entirely: too little signal to be worth a network round trip. This is a
// short-circuit to the heuristic detector, not a failure path.
const minClassifierLen = 5

// Classifier is the orchestrator's view of the classifier gateway. The
// returned payload is always valid JSON, even when err is non-nil.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Classifier Classifier          // nil runs the pipeline heuristic-only
	Detector   *Detector           // nil forces the conservative default on fallback
	Policies   *policy.Store       // required
	Similarity Similarity          // nil uses LengthRatioSimilarity
	Sleep      func(time.Duration) // nil uses time.Sleep; injectable for tests
}

// Orchestrator runs the moderation decision pipeline for one message at a
// time: classifier attempts with backoff, immediate fallback on rate
// limiting, heuristic fallback on exhaustion, and full censorship as the
// terminal conservative default. It keeps no state between calls; every
// invocation is independent given the same input and policy snapshot.
type Orchestrator struct {
	classifier Classifier
	detector   *Detector
	policies   *policy.Store
	sim        Similarity
	sleep      func(time.Duration)
}

// NewOrchestrator creates an Orchestrator from the given configuration.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		classifier: config.Classifier,
		detector:   config.Detector,
		policies:   config.Policies,
		sim:        config.Similarity,
		sleep:      config.Sleep,
	}
	if o.sim == nil {
		o.sim = LengthRatioSimilarity{}
	}
	if o.sleep == nil {
		o.sleep = time.Sleep
	}
	return o
}

// Moderate runs the full moderation/rewrite path and returns a verdict whose
// ModeratedText is safe to relay. This is the user-facing critical path, so
// it tolerates more classifier attempts than Detect.
func (o *Orchestrator) Moderate(ctx context.Context, req Request) Verdict {
	pol := o.policies.Current()
	return o.run(ctx, req, pol, pol.RewriteAttempts, rewriteTaskPrompt, true)
}

// Detect runs the cheaper detection-only path: the verdict reports whether
// the text contains profanity but its ModeratedText is the original.
func (o *Orchestrator) Detect(ctx context.Context, req Request) Verdict {
	pol := o.policies.Current()
	return o.run(ctx, req, pol, pol.DetectAttempts, detectTaskPrompt, false)
}

func (o *Orchestrator) run(ctx context.Context, req Request, pol *policy.Policy, attempts int, taskPrompt string, rewrite bool) Verdict {
	start := time.Now()
	defer func() {
		metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	}()

	// Entry guard: very short inputs never reach the classifier.
	if o.classifier == nil || utf8.RuneCountInString(req.OriginalText) < minClassifierLen {
		return o.fallback(req, rewrite)
	}

	prompt := Compose(req, pol, taskPrompt)

	for n := 1; n <= attempts; n++ {
		callStart := time.Now()
		payload, err := o.classifier.Classify(ctx, prompt)
		metrics.ClassifierLatency.Observe(time.Since(callStart).Seconds())

		if classifier.IsRateLimited(err) {
			// Retrying a rate-limited call wastes quota and time.
			log.Printf("moderation: classifier rate limited on attempt %d, falling back: %v", n, err)
			metrics.ClassifierAttempts.WithLabelValues("rate_limited").Inc()
			return o.fallback(req, rewrite)
		}

		if err == nil {
			payload = Reconcile(payload, req.OriginalText, pol, o.sim)
			if v, ok := extractVerdict(payload, req, rewrite); ok {
				metrics.ClassifierAttempts.WithLabelValues("ok").Inc()
				return o.applyOverride(v, req, rewrite)
			}
			// The payload itself may carry a quota marker even though the
			// call "succeeded" at the transport level.
			if classifier.HasRateLimitMarker(payload) {
				log.Printf("moderation: rate-limit marker in classifier payload on attempt %d, falling back", n)
				metrics.ClassifierAttempts.WithLabelValues("rate_limited").Inc()
				return o.fallback(req, rewrite)
			}
		}

		metrics.ClassifierAttempts.WithLabelValues("retryable").Inc()
		if n < attempts {
			o.sleep(pol.RetryBackoff * time.Duration(n))
		}
	}

	log.Printf("moderation: classifier exhausted after %d attempts, falling back", attempts)
	return o.fallback(req, rewrite)
}

// applyOverride distrusts AI false negatives on exact-match profanity: when
// the classifier reports a clean message but the detector's obvious-match
// check disagrees, the verdict flips to "profanity present". There is
// deliberately no override in the other direction.
func (o *Orchestrator) applyOverride(v Verdict, req Request, rewrite bool) Verdict {
	if !v.ContainsProfanity && o.detector != nil && o.detector.Detect(req.OriginalText) {
		v.ContainsProfanity = true
		if rewrite {
			v.ModeratedText = o.detector.Filter(req.OriginalText)
			v.WasModified = v.ModeratedText != req.OriginalText
		}
	}
	metrics.VerdictsTotal.WithLabelValues(string(v.Source)).Inc()
	return v
}

// fallback produces a verdict without the classifier. With no detector
// available either, the only safe terminal state is full censorship:
// favoring a false positive over leaking unmoderated content.
func (o *Orchestrator) fallback(req Request, rewrite bool) Verdict {
	if o.detector == nil {
		masked := MaskAll(req.OriginalText)
		metrics.VerdictsTotal.WithLabelValues(string(SourceConservative)).Inc()
		return Verdict{
			OriginalText:      req.OriginalText,
			ModeratedText:     masked,
			WasModified:       masked != req.OriginalText,
			ContainsProfanity: true,
			Source:            SourceConservative,
		}
	}

	detected := o.detector.Detect(req.OriginalText)
	if !detected && o.detector.Suspicious(req.OriginalText) {
		// The suspicion patterns trade precision for recall; on the
		// degraded path that trade goes to the conservative side.
		detected = true
	}

	v := cleanVerdict(req.OriginalText, SourceHeuristic)
	v.ContainsProfanity = detected
	if rewrite && detected {
		v.ModeratedText = o.detector.Filter(req.OriginalText)
		v.WasModified = v.ModeratedText != req.OriginalText
	}
	metrics.VerdictsTotal.WithLabelValues(string(v.Source)).Inc()
	return v
}

// aiResponse is the classifier's expected verdict shape after reconciliation.
// Field matching is case-insensitive per encoding/json.
type aiResponse struct {
	OriginalMessage   *string `json:"originalMessage"`
	ModeratedMessage  *string `json:"moderatedMessage"`
	ContainsProfanity *bool   `json:"containsProfanity"`
	Error             *string `json:"error"`
}

// extractVerdict pulls the verdict fields out of a reconciled payload.
// It fails when the payload is error-shaped or missing the verdict fields,
// which counts as a retryable attempt failure.
func extractVerdict(payload string, req Request, rewrite bool) (Verdict, bool) {
	var resp aiResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return Verdict{}, false
	}
	if resp.Error != nil || resp.ContainsProfanity == nil {
		return Verdict{}, false
	}
	if rewrite && *resp.ContainsProfanity && resp.ModeratedMessage == nil {
		// A profanity verdict with no rewrite is unusable on the rewrite path.
		return Verdict{}, false
	}

	v := Verdict{
		OriginalText:      req.OriginalText,
		ModeratedText:     req.OriginalText,
		ContainsProfanity: *resp.ContainsProfanity,
		Source:            SourceAI,
		Raw:               json.RawMessage(payload),
	}
	if rewrite && resp.ModeratedMessage != nil {
		v.ModeratedText = *resp.ModeratedMessage
		v.WasModified = v.ModeratedText != req.OriginalText
	}
	return v, true
}
