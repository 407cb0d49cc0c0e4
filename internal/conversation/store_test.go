package conversation

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore creates a Store connected to a local Redis instance and flushes
// all test conversation keys before returning. Tests that call this helper
// require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, ConvPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewStore(client)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_create"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	conv, err := store.Get(ctx, "test_create")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv == nil {
		t.Fatal("expected conversation, got nil")
	}
	if conv.Status != StatusActive {
		t.Errorf("status = %q, want %q", conv.Status, StatusActive)
	}
	if conv.Severity != 0 {
		t.Errorf("severity = %d, want 0", conv.Severity)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	conv, err := store.Get(context.Background(), "test_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv != nil {
		t.Errorf("expected nil for missing conversation, got %+v", conv)
	}
}

func TestJoin(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_join"

	store.Create(ctx, id)

	result, err := store.Join(ctx, id, "session-a")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if result != 1 {
		t.Errorf("first join = %d, want 1", result)
	}

	// Joining again is idempotent.
	result, err = store.Join(ctx, id, "session-a")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if result != 0 {
		t.Errorf("repeat join = %d, want 0", result)
	}

	ok, err := store.IsParticipant(ctx, id, "session-a")
	if err != nil {
		t.Fatalf("IsParticipant() error: %v", err)
	}
	if !ok {
		t.Error("expected session-a to be a participant")
	}
}

func TestJoin_UnknownConversation(t *testing.T) {
	store := newTestStore(t)

	result, err := store.Join(context.Background(), "test_nonexistent", "session-a")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if result != -1 {
		t.Errorf("join of unknown conversation = %d, want -1", result)
	}
}

func TestJoin_EndedConversation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_join_ended"

	store.Create(ctx, id)
	store.End(ctx, id)

	result, err := store.Join(ctx, id, "session-a")
	if err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if result != -1 {
		t.Errorf("join of ended conversation = %d, want -1", result)
	}
}

func TestLeave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_leave"

	store.Create(ctx, id)
	store.Join(ctx, id, "session-a")
	store.Join(ctx, id, "session-b")

	remaining, err := store.Leave(ctx, id, "session-a")
	if err != nil {
		t.Fatalf("Leave() error: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}

	members, err := store.Participants(ctx, id)
	if err != nil {
		t.Fatalf("Participants() error: %v", err)
	}
	if len(members) != 1 || members[0] != "session-b" {
		t.Errorf("participants = %v, want [session-b]", members)
	}
}

func TestUpdateSeverity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_severity"

	store.Create(ctx, id)
	if err := store.UpdateSeverity(ctx, id, 7); err != nil {
		t.Fatalf("UpdateSeverity() error: %v", err)
	}

	conv, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if conv.Severity != 7 {
		t.Errorf("severity = %d, want 7", conv.Severity)
	}
}

func TestEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := "test_end"

	store.Create(ctx, id)
	store.Join(ctx, id, "session-a")

	if err := store.End(ctx, id); err != nil {
		t.Fatalf("End() error: %v", err)
	}

	conv, _ := store.Get(ctx, id)
	if conv.Status != StatusEnded {
		t.Errorf("status = %q, want %q", conv.Status, StatusEnded)
	}
	members, _ := store.Participants(ctx, id)
	if len(members) != 0 {
		t.Errorf("participants after End = %v, want empty", members)
	}
}
