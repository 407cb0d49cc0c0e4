// The moderator service runs the moderation pipeline out of process. WS
// servers publish check requests on moderation.check; this worker moderates
// each message and publishes the verdict on moderation.result.<session_id>.
// Deployments that want classifier latency off the chat servers run this
// alongside a gate configured to go through NATS.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/murmurchat/murmur/internal/classifier"
	"github.com/murmurchat/murmur/internal/messaging"
	"github.com/murmurchat/murmur/internal/moderation"
	"github.com/murmurchat/murmur/internal/policy"
)

func main() {
	log.Println("Starting Murmur moderation service...")

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsConfig.Name = "murmur-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// Moderation policy.
	var policies *policy.Store
	if path := os.Getenv("POLICY_FILE"); path != "" {
		policies, err = policy.NewStoreFromFile(path)
		if err != nil {
			log.Fatalf("failed to load policy file: %v", err)
		}
		log.Printf("policy loaded from %s", path)
	} else {
		policies = policy.NewStore()
	}
	detector := moderation.NewDetectorForRule(policies.Current().ProfanityRule())

	// AI classifier (optional; heuristic-only without an API key).
	var mod moderation.Classifier
	var gemini *classifier.Gemini
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		model := "gemini-2.0-flash"
		if v := os.Getenv("GEMINI_MODEL"); v != "" {
			model = v
		}
		gemini, err = classifier.NewGemini(context.Background(), apiKey, model)
		if err != nil {
			log.Fatalf("failed to create gemini client: %v", err)
		}
		mod = classifier.NewGateway(gemini, classifier.DefaultGatewayConfig())
		log.Printf("AI classifier enabled (model=%s)", model)
	} else {
		log.Printf("GEMINI_API_KEY not set, running heuristic-only moderation")
	}

	orchestrator := moderation.NewOrchestrator(moderation.OrchestratorConfig{
		Classifier: mod,
		Detector:   detector,
		Policies:   policies,
	})

	// Subscribe to moderation check requests.
	err = natsClient.SubscribeModerationCheck(func(data []byte) {
		var req moderation.CheckRequest
		if err := json.Unmarshal(data, &req); err != nil {
			log.Printf("[moderator] failed to unmarshal request: %v", err)
			return
		}

		verdict := orchestrator.Moderate(context.Background(), moderation.Request{
			OriginalText: req.Text,
			Language:     req.Language,
		})

		if verdict.ContainsProfanity {
			log.Printf("[moderator] FLAGGED session=%s conv=%s source=%s",
				req.SessionID, req.ConversationID, verdict.Source)
		}

		respData, err := json.Marshal(moderation.ResultFromVerdict(req, verdict))
		if err != nil {
			log.Printf("[moderator] failed to marshal result: %v", err)
			return
		}
		if err := natsClient.PublishModerationResult(req.SessionID, respData); err != nil {
			log.Printf("[moderator] failed to publish result: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to moderation checks: %v", err)
	}

	log.Printf("Murmur moderation service running")
	log.Printf("  nats_url: %s", natsConfig.URL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if gemini != nil {
		_ = gemini.Close()
	}
}
