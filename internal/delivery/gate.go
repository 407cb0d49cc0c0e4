// Package delivery gates every chat message through the moderation pipeline
// before it reaches other participants. A message is never relayed in its
// original form when moderation flags it: the gate relays the moderated text,
// updates the conversation severity score, broadcasts the new score, and
// records offenses for mute escalation.
package delivery

import (
	"context"
	"log"
	"time"

	"github.com/murmurchat/murmur/internal/audit"
	"github.com/murmurchat/murmur/internal/metrics"
	"github.com/murmurchat/murmur/internal/moderation"
	"github.com/murmurchat/murmur/internal/protocol"
	"github.com/murmurchat/murmur/internal/severity"
)

// Severity score deltas applied per verdict. Clean messages slowly walk the
// score back down; the tracker floors it at zero.
const (
	profanityDelta = 2
	cleanDelta     = -1
)

// Moderator produces a verdict for a message. Implemented by
// moderation.Orchestrator.
type Moderator interface {
	Moderate(ctx context.Context, req moderation.Request) moderation.Verdict
}

// Broadcaster fans out payloads to every participant of a conversation.
// Implemented by messaging.NATSClient.
type Broadcaster interface {
	PublishConversationMessage(conversationID string, data []byte) error
	PublishSeverityUpdate(conversationID string, data []byte) error
}

// SeverityStore persists the authoritative severity score. Implemented by
// conversation.Store.
type SeverityStore interface {
	UpdateSeverity(ctx context.Context, conversationID string, score int64) error
}

// MuteStore checks and escalates mutes. Implemented by mute.Store.
type MuteStore interface {
	IsMuted(ctx context.Context, fingerprint string) (bool, int, string, error)
	RecordOffense(ctx context.Context, fingerprint string, reason string) (bool, time.Duration, error)
}

// AuditLog persists verdicts for offline review. Implemented by audit.Store.
type AuditLog interface {
	Create(ctx context.Context, rec *audit.Record) error
}

// GateConfig wires the gate's collaborators. Moderator, Tracker, and
// Broadcaster are required; the stores are optional and skipped when nil
// (single-node or degraded deployments).
type GateConfig struct {
	Moderator   Moderator
	Tracker     *severity.Tracker
	Broadcaster Broadcaster
	Severities  SeverityStore
	Mutes       MuteStore
	Audit       AuditLog
}

// Gate is the moderation delivery gate.
type Gate struct {
	moderator   Moderator
	tracker     *severity.Tracker
	broadcaster Broadcaster
	severities  SeverityStore
	mutes       MuteStore
	audit       AuditLog
}

// Inbound is one message arriving from a participant.
type Inbound struct {
	SessionID      string
	ConversationID string
	Fingerprint    string
	Language       string
	Text           string
	From           string // anonymised sender tag shown to other participants
}

// Result reports what the gate did with a message.
type Result struct {
	Relayed  bool
	Verdict  moderation.Verdict
	Severity int64

	// Mute state. MutedBefore means the message was dropped without
	// moderation; MutedNow means this message's offense triggered a mute.
	MutedBefore   bool
	MutedNow      bool
	MuteRemaining int // seconds, when MutedBefore
	MuteDuration  time.Duration
	MuteReason    string
}

// NewGate creates a delivery gate from the given configuration.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		moderator:   cfg.Moderator,
		tracker:     cfg.Tracker,
		broadcaster: cfg.Broadcaster,
		severities:  cfg.Severities,
		mutes:       cfg.Mutes,
		audit:       cfg.Audit,
	}
}

// HandleMessage runs one message through the gate: mute check, moderation,
// relay, severity update, offense accounting, and audit. The returned Result
// tells the caller what to report back to the sender.
func (g *Gate) HandleMessage(ctx context.Context, in Inbound) (Result, error) {
	var res Result

	// Muted senders are dropped before moderation spends a classifier call.
	if g.mutes != nil && in.Fingerprint != "" {
		muted, remaining, reason, err := g.mutes.IsMuted(ctx, in.Fingerprint)
		if err != nil {
			// Fail open: a Redis outage must not block all chat.
			log.Printf("delivery: mute check failed session=%s: %v", in.SessionID, err)
		} else if muted {
			metrics.MessagesTotal.WithLabelValues("dropped").Inc()
			res.MutedBefore = true
			res.MuteRemaining = remaining
			res.MuteReason = reason
			return res, nil
		}
	}

	start := time.Now()
	verdict := g.moderate(ctx, in)
	res.Verdict = verdict

	// Relay the moderated text to every participant. The original text never
	// leaves this function except inside the sender-side verdict.
	out, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
		ConversationID: in.ConversationID,
		From:           in.From,
		Text:           verdict.ModeratedText,
		Filtered:       verdict.WasModified,
		Ts:             time.Now().Unix(),
	})
	if err != nil {
		return res, err
	}
	if err := g.broadcaster.PublishConversationMessage(in.ConversationID, out); err != nil {
		return res, err
	}
	res.Relayed = true

	if verdict.WasModified {
		metrics.MessagesTotal.WithLabelValues("rewritten").Inc()
	} else {
		metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	}

	res.Severity = g.updateSeverity(ctx, in.ConversationID, verdict)

	if verdict.ContainsProfanity {
		g.recordOffense(ctx, in, &res)
	}

	g.record(ctx, in, verdict, time.Since(start))

	return res, nil
}

// moderate calls the moderator with panic recovery. A panic anywhere in the
// pipeline degrades to the conservative all-mask verdict instead of taking
// the worker down.
func (g *Gate) moderate(ctx context.Context, in Inbound) (verdict moderation.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("delivery: moderation panic session=%s: %v", in.SessionID, r)
			verdict = moderation.Verdict{
				OriginalText:      in.Text,
				ModeratedText:     moderation.MaskAll(in.Text),
				WasModified:       true,
				ContainsProfanity: true,
				Source:            moderation.SourceConservative,
			}
		}
	}()

	return g.moderator.Moderate(ctx, moderation.Request{
		OriginalText: in.Text,
		Language:     in.Language,
	})
}

// updateSeverity applies the verdict's delta to the in-process tracker,
// persists the new score, and broadcasts it to the conversation.
func (g *Gate) updateSeverity(ctx context.Context, conversationID string, verdict moderation.Verdict) int64 {
	delta := int64(cleanDelta)
	if verdict.ContainsProfanity {
		delta = profanityDelta
	}
	score := g.tracker.Add(conversationID, delta)

	if g.severities != nil {
		if err := g.severities.UpdateSeverity(ctx, conversationID, score); err != nil {
			log.Printf("delivery: severity persist failed conv=%s: %v", conversationID, err)
		}
	}

	update, err := protocol.NewServerMessage(protocol.TypeSeverityUpdate, protocol.SeverityUpdateMsg{
		ConversationID: conversationID,
		Severity:       score,
	})
	if err != nil {
		log.Printf("delivery: severity message build failed conv=%s: %v", conversationID, err)
		return score
	}
	if err := g.broadcaster.PublishSeverityUpdate(conversationID, update); err != nil {
		log.Printf("delivery: severity broadcast failed conv=%s: %v", conversationID, err)
		return score
	}
	metrics.SeverityUpdates.Inc()

	return score
}

// recordOffense counts a profanity verdict against the sender and fills in
// the mute result when the escalation threshold is crossed.
func (g *Gate) recordOffense(ctx context.Context, in Inbound, res *Result) {
	if g.mutes == nil || in.Fingerprint == "" {
		return
	}
	muted, duration, err := g.mutes.RecordOffense(ctx, in.Fingerprint, "profanity")
	if err != nil {
		log.Printf("delivery: offense record failed session=%s: %v", in.SessionID, err)
		return
	}
	if muted {
		res.MutedNow = true
		res.MuteDuration = duration
		res.MuteReason = "repeated_profanity"
	}
}

// record writes the verdict to the audit trail. Failures are logged only;
// the audit store must never block delivery.
func (g *Gate) record(ctx context.Context, in Inbound, verdict moderation.Verdict, elapsed time.Duration) {
	if g.audit == nil {
		return
	}
	rec := &audit.Record{
		ConversationID:    in.ConversationID,
		SessionID:         in.SessionID,
		OriginalText:      verdict.OriginalText,
		ModeratedText:     verdict.ModeratedText,
		ContainsProfanity: verdict.ContainsProfanity,
		WasModified:       verdict.WasModified,
		Source:            string(verdict.Source),
		RawResponse:       verdict.Raw,
		LatencyMS:         elapsed.Milliseconds(),
	}
	if err := g.audit.Create(ctx, rec); err != nil {
		log.Printf("delivery: audit write failed session=%s: %v", in.SessionID, err)
	}
}
