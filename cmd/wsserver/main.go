package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/murmurchat/murmur/internal/audit"
	"github.com/murmurchat/murmur/internal/classifier"
	"github.com/murmurchat/murmur/internal/conversation"
	"github.com/murmurchat/murmur/internal/delivery"
	"github.com/murmurchat/murmur/internal/messaging"
	"github.com/murmurchat/murmur/internal/metrics"
	"github.com/murmurchat/murmur/internal/moderation"
	"github.com/murmurchat/murmur/internal/mute"
	"github.com/murmurchat/murmur/internal/policy"
	"github.com/murmurchat/murmur/internal/protocol"
	"github.com/murmurchat/murmur/internal/ratelimit"
	"github.com/murmurchat/murmur/internal/session"
	"github.com/murmurchat/murmur/internal/severity"
	"github.com/murmurchat/murmur/internal/ws"
)

// senderTag returns the anonymised name shown to other participants.
func senderTag(sessionID string) string {
	if len(sessionID) >= 8 {
		return "user-" + sessionID[:8]
	}
	return "user-" + sessionID
}

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "ws-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	convStore := conversation.NewStore(sessionStore.Client())
	muteStore := mute.NewStore(sessionStore.Client())
	limiter := ratelimit.NewLimiter(sessionStore.Client())

	// --- PostgreSQL audit trail (optional) ---
	var auditStore *audit.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		migrationsPath := "migrations"
		if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
			migrationsPath = v
		}
		m, err := migrate.New("file://"+migrationsPath, dsn)
		if err != nil {
			log.Fatalf("failed to init migrations: %v", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run migrations: %v", err)
		}
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Printf("migration close: src=%v db=%v", srcErr, dbErr)
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		auditStore = audit.NewStore(db)
		log.Printf("audit trail enabled")
	} else {
		log.Printf("DATABASE_URL not set, audit trail disabled")
	}

	// --- Moderation policy ---
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

	// --- AI classifier (optional; heuristic-only without an API key) ---
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

	tracker := severity.NewTracker()
	gate := delivery.NewGate(delivery.GateConfig{
		Moderator:   orchestrator,
		Tracker:     tracker,
		Broadcaster: natsClient,
		Severities:  convStore,
		Mutes:       muteStore,
		Audit:       deliveryAudit(auditStore),
	})

	log.Printf("Murmur WebSocket server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Declare server early so closures can capture it.
	var server *ws.Server

	// subscribeConversation sets up NATS fan-in for a session: moderated chat
	// messages and severity updates for its conversation. Payloads arrive
	// ready to forward; only self-typing events are filtered out.
	subscribeConversation := func(localSID, conversationID string) {
		if err := natsClient.SubscribeToConversation(conversationID, localSID, func(data []byte) {
			var env struct {
				Type string `json:"type"`
				From string `json:"from"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				return
			}
			if env.Type == protocol.TypeTyping && env.From == senderTag(localSID) {
				return // don't echo the client's own typing indicator
			}
			if err := server.SendMessage(localSID, data); err != nil {
				log.Printf("[conv-sub] send to %s failed: %v", localSID, err)
			}
		}); err != nil {
			log.Printf("[conv-sub] subscribe conv=%s for session=%s failed: %v", conversationID, localSID, err)
		}

		if err := natsClient.SubscribeSeverity(conversationID, localSID, func(data []byte) {
			_ = server.SendMessage(localSID, data)
		}); err != nil {
			log.Printf("[conv-sub] severity subscribe conv=%s for session=%s failed: %v", conversationID, localSID, err)
		}
	}

	// leaveConversation tears down a session's conversation state: Redis
	// membership, NATS subscriptions, and the participant_left broadcast. If
	// the conversation is now empty it is ended and its score forgotten.
	leaveConversation := func(ctx context.Context, sid, conversationID string) {
		remaining, err := convStore.Leave(ctx, conversationID, sid)
		if err != nil {
			log.Printf("[leave] conv=%s session=%s: %v", conversationID, sid, err)
		}
		_ = natsClient.UnsubscribeFromConversation(sid)
		_ = natsClient.UnsubscribeSeverity(sid)
		sessionStore.ClearConversationID(ctx, sid)

		if remaining > 0 {
			notif, _ := protocol.NewServerMessage(protocol.TypeParticipantLeft, protocol.ParticipantLeftMsg{
				ConversationID: conversationID,
				Participants:   int(remaining),
			})
			natsClient.PublishConversationMessage(conversationID, notif)
			return
		}

		// Last one out turns off the lights.
		if err := convStore.End(ctx, conversationID); err != nil {
			log.Printf("[leave] end conv=%s: %v", conversationID, err)
		}
		tracker.Forget(conversationID)
		metrics.ActiveConversations.Dec()
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// set_fingerprint — associate a browser fingerprint for mute enforcement
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSetFingerprint, func(conn *ws.Connection, msg interface{}) {
		fpMsg, ok := msg.(protocol.SetFingerprintMsg)
		if !ok || fpMsg.Fingerprint == "" {
			return
		}
		conn.SetFingerprint(fpMsg.Fingerprint)
		sessionStore.SetFingerprint(context.Background(), conn.ID, fpMsg.Fingerprint)
	})

	// -----------------------------------------------------------------------
	// set_language — record the client's language tag for moderation prompts
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSetLanguage, func(conn *ws.Connection, msg interface{}) {
		langMsg, ok := msg.(protocol.SetLanguageMsg)
		if !ok || langMsg.Language == "" {
			return
		}
		sessionStore.SetLanguage(context.Background(), conn.ID, langMsg.Language)
	})

	// -----------------------------------------------------------------------
	// join_conversation — join by ID, or create a new conversation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinConversation, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinConversationMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleJoin)
		if !allowed {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleJoin.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		conversationID := joinMsg.ConversationID
		if conversationID == "" {
			conversationID = uuid.New().String()
			if err := convStore.Create(ctx, conversationID); err != nil {
				log.Printf("[join] create conv failed session=%s: %v", sid, err)
				return
			}
			metrics.ActiveConversations.Inc()
		}

		result, err := convStore.Join(ctx, conversationID, sid)
		if err != nil {
			log.Printf("[join] conv=%s session=%s: %v", conversationID, sid, err)
			return
		}
		switch result {
		case -1:
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "unknown_conversation", Message: "conversation not found or ended",
			})
			conn.WriteMessage(resp)
			return
		case -2:
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "conversation_full", Message: "conversation is full",
			})
			conn.WriteMessage(resp)
			return
		}

		subscribeConversation(sid, conversationID)
		conn.SetConversationID(conversationID)
		sessionStore.SetConversationID(ctx, sid, conversationID)

		members, _ := convStore.Participants(ctx, conversationID)
		resp, _ := protocol.NewServerMessage(protocol.TypeJoined, protocol.JoinedMsg{
			ConversationID: conversationID,
			Participants:   len(members),
			Severity:       tracker.Score(conversationID),
		})
		conn.WriteMessage(resp)

		if result == 1 {
			notif, _ := protocol.NewServerMessage(protocol.TypeParticipantJoined, protocol.ParticipantJoinedMsg{
				ConversationID: conversationID,
				Participants:   len(members),
			})
			natsClient.PublishConversationMessage(conversationID, notif)
		}

		log.Printf("join_conversation session=%s conv=%s participants=%d", sid, conversationID, len(members))
	})

	// -----------------------------------------------------------------------
	// leave_conversation — leave the active conversation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveConversation, func(conn *ws.Connection, msg interface{}) {
		sid := conn.ID
		conversationID := conn.ConversationID()
		if conversationID == "" {
			return
		}
		conn.SetConversationID("")
		leaveConversation(context.Background(), sid, conversationID)
		log.Printf("leave_conversation session=%s conv=%s", sid, conversationID)
	})

	// -----------------------------------------------------------------------
	// message — moderate and relay a chat message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleMessage)
		if !allowed {
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleMessage.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		conversationID := conn.ConversationID()
		if conversationID == "" || conversationID != chatMsg.ConversationID {
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_conversation", Message: "not in that conversation",
			})
			conn.WriteMessage(resp)
			return
		}
		if chatMsg.Text == "" || len(chatMsg.Text) > 2000 {
			resp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_message", Message: "message must be 1-2000 characters",
			})
			conn.WriteMessage(resp)
			return
		}

		sess, _ := sessionStore.Get(ctx, sid)
		language := session.DefaultLanguage
		if sess != nil && sess.Language != "" {
			language = sess.Language
		}

		res, err := gate.HandleMessage(ctx, delivery.Inbound{
			SessionID:      sid,
			ConversationID: conversationID,
			Fingerprint:    conn.Fingerprint(),
			Language:       language,
			Text:           chatMsg.Text,
			From:           senderTag(sid),
		})
		if err != nil {
			log.Printf("[message] gate error session=%s: %v", sid, err)
			return
		}

		if res.MutedBefore {
			resp, _ := protocol.NewServerMessage(protocol.TypeMuted, protocol.MutedMsg{
				Duration: res.MuteRemaining,
				Reason:   res.MuteReason,
			})
			conn.WriteMessage(resp)
			return
		}
		if res.MutedNow {
			resp, _ := protocol.NewServerMessage(protocol.TypeMuted, protocol.MutedMsg{
				Duration: int(res.MuteDuration.Seconds()),
				Reason:   res.MuteReason,
			})
			conn.WriteMessage(resp)
		}

		sessionStore.RefreshTTL(ctx, sid)
	})

	// -----------------------------------------------------------------------
	// typing — relay typing indicator (not moderated)
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		typingMsg, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		conversationID := conn.ConversationID()
		if conversationID == "" || conversationID != typingMsg.ConversationID {
			return
		}

		data, _ := protocol.NewServerMessage(protocol.TypeTyping, protocol.ServerTypingMsg{
			ConversationID: conversationID,
			From:           senderTag(conn.ID),
			IsTyping:       typingMsg.IsTyping,
		})
		natsClient.PublishConversationMessage(conversationID, data)
	})

	server = ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Disconnect cleanup — leave the active conversation, if any.
	server.SetOnDisconnect(func(connID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		sess, err := sessionStore.Get(ctx, connID)
		if err != nil || sess == nil {
			return
		}
		if sess.ConversationID != "" {
			leaveConversation(ctx, connID, sess.ConversationID)
		}
		log.Printf("disconnect cleanup for session=%s status=%s", connID, sess.Status)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if gemini != nil {
			_ = gemini.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// deliveryAudit adapts the optional audit store to the gate's interface
// without handing it a typed-nil.
func deliveryAudit(s *audit.Store) delivery.AuditLog {
	if s == nil {
		return nil
	}
	return s
}
