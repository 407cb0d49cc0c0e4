package classifier

import (
	"context"
	"encoding/json"
	"strings"
)

// GatewayConfig holds the generation knobs the gateway applies to every call.
type GatewayConfig struct {
	Temperature float32 // low temperature keeps verdicts stable
	MaxTokens   int32
}

// DefaultGatewayConfig returns the defaults used by the moderation pipeline.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Temperature: 0.1,
		MaxTokens:   1024,
	}
}

// Gateway wraps a Generator and guarantees the returned payload parses as
// JSON. A raw response that fails to parse is wrapped as {"text": raw}
// instead of propagating a parse error; a call failure yields an
// error-shaped payload {"error": msg} alongside the error itself so
// downstream code can always attempt a parse.
type Gateway struct {
	gen    Generator
	config GatewayConfig
}

// NewGateway creates a Gateway over the given generator.
func NewGateway(gen Generator, config GatewayConfig) *Gateway {
	return &Gateway{gen: gen, config: config}
}

// Classify performs one classification call. The returned string is always
// valid JSON, even on error.
func (g *Gateway) Classify(ctx context.Context, prompt string) (string, error) {
	raw, err := g.gen.Generate(ctx, prompt, GenerateOptions{
		Temperature: g.config.Temperature,
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return errorPayload(err), err
	}
	return EnsureJSON(raw), nil
}

// EnsureJSON returns raw unchanged (minus surrounding whitespace and
// markdown fences) when it is valid JSON, and otherwise wraps it as a
// minimal fallback object {"text": raw}.
func EnsureJSON(raw string) string {
	trimmed := stripFences(strings.TrimSpace(raw))
	if json.Valid([]byte(trimmed)) && trimmed != "" {
		return trimmed
	}
	wrapped, err := json.Marshal(map[string]string{"text": raw})
	if err != nil {
		return `{"text":""}`
	}
	return string(wrapped)
}

// stripFences removes a ```json ... ``` markdown fence, which models emit
// even when told not to.
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func errorPayload(err error) string {
	wrapped, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error":"classifier call failed"}`
	}
	return string(wrapped)
}
