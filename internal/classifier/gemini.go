// Package classifier is the single call boundary to the external AI
// capability. It converts a prompt into raw generated text and guarantees
// that whatever comes back is syntactically valid JSON. Retry is the
// caller's responsibility; this layer makes exactly one outbound call per
// invocation.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GenerateOptions are the per-call generation knobs forwarded to the model.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int32
}

// Generator produces raw text from a prompt. Implementations may return
// malformed structured text and may fail; the Gateway absorbs both.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// Gemini is the production Generator backed by the Google Generative AI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator using an API key. The model name is
// e.g. "gemini-1.5-flash".
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("classifier: create genai client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Generate sends the prompt and returns the concatenated text parts of the
// first candidate. The response is constrained to JSON via the response MIME
// type, though the model may still return malformed output.
func (g *Gemini) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(opts.Temperature)
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(opts.MaxTokens)
	}
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("classifier: generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("classifier: empty response from model %s", g.model)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("classifier: no text parts in response from model %s", g.model)
	}
	return b.String(), nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
