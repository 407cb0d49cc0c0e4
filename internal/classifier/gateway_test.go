package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

// stubGenerator returns a fixed response or error.
type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return s.response, s.err
}

func TestEnsureJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid object", `{"containsProfanity":false}`, `{"containsProfanity":false}`},
		{"whitespace trimmed", "  {\"a\":1}\n", `{"a":1}`},
		{"json fence stripped", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence stripped", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"plain text wrapped", "the model rambled instead", `{"text":"the model rambled instead"}`},
		{"empty wrapped", "", `{"text":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnsureJSON(tt.in)
			if got != tt.want {
				t.Errorf("EnsureJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !json.Valid([]byte(got)) {
				t.Errorf("EnsureJSON(%q) produced invalid JSON", tt.in)
			}
		})
	}
}

func TestClassify_ErrorYieldsParseablePayload(t *testing.T) {
	gw := NewGateway(&stubGenerator{err: errors.New("connection refused")}, DefaultGatewayConfig())

	payload, err := gw.Classify(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected the call error to propagate")
	}

	var fields map[string]string
	if jerr := json.Unmarshal([]byte(payload), &fields); jerr != nil {
		t.Fatalf("error payload is not valid JSON: %v", jerr)
	}
	if fields["error"] == "" {
		t.Error("expected an error field in the payload")
	}
}

func TestClassify_WrapsNonJSONResponse(t *testing.T) {
	gw := NewGateway(&stubGenerator{response: "not json"}, DefaultGatewayConfig())

	payload, err := gw.Classify(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != `{"text":"not json"}` {
		t.Errorf("payload = %q", payload)
	}
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("connection refused"), false},
		{"googleapi 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"googleapi 500", &googleapi.Error{Code: http.StatusInternalServerError}, false},
		{"resource exhausted", errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED"), true},
		{"quota message", errors.New("quota exceeded for project"), true},
		{"429 in message", errors.New("googleapi: Error 429"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimited(tt.err); got != tt.want {
				t.Errorf("IsRateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHasRateLimitMarker(t *testing.T) {
	if !HasRateLimitMarker(`{"text":"quota exceeded for project"}`) {
		t.Error("quota marker missed")
	}
	if HasRateLimitMarker(`{"containsProfanity":false}`) {
		t.Error("clean payload flagged")
	}
}
