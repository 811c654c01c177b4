package dialog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestStore_PersistAttachRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewStore(client, 0, testLogger())
	ctx := context.Background()

	dc := map[string]any{PendingActionKey: "confirm_booking", "class_id": "yoga-7"}
	if err := s.Persist(ctx, "t1", "s1", dc); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if ttl := mr.TTL("dialog:t1:s1"); ttl != DefaultTTL {
		t.Fatalf("TTL = %v, want %v", ttl, DefaultTTL)
	}

	msg := domain.InboundMessage{TenantID: "t1", SenderID: "s1", Content: "ja"}
	got := s.Attach(ctx, msg)
	if msg.Meta(domain.MetaDialog) != "" {
		t.Fatal("Attach mutated the original message")
	}
	attached := FromMetadata(got)
	if attached[PendingActionKey] != "confirm_booking" || attached["class_id"] != "yoga-7" {
		t.Fatalf("attached context = %v", attached)
	}
}

func TestStore_ClearDeletes(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewStore(client, time.Minute, testLogger())
	ctx := context.Background()

	_ = s.Persist(ctx, "t1", "s1", map[string]any{PendingActionKey: "x"})
	if err := s.Persist(ctx, "t1", "s1", map[string]any{ClearKey: true}); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("dialog:t1:s1") {
		t.Fatal("context should be deleted")
	}
}

func TestStore_ExpiresAfterTTL(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewStore(client, 0, testLogger())
	ctx := context.Background()

	_ = s.Persist(ctx, "t1", "s1", map[string]any{PendingActionKey: "x"})
	mr.FastForward(31 * time.Minute)
	dc, err := s.Load(ctx, "t1", "s1")
	if err != nil || dc != nil {
		t.Fatalf("Load after expiry = %v, %v", dc, err)
	}
}

func TestStore_AbsenceNeverFails(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewStore(client, 0, testLogger())
	msg := domain.InboundMessage{TenantID: "t1", SenderID: "s1", Content: "hi"}

	if got := s.Attach(context.Background(), msg); got.Meta(domain.MetaDialog) != "" {
		t.Fatal("no context expected")
	}

	mr.Close()
	if got := s.Attach(context.Background(), msg); got.Content != "hi" {
		t.Fatal("Attach must pass the message through when redis is down")
	}
}

func TestStore_TenantIsolation(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewStore(client, 0, testLogger())
	ctx := context.Background()

	_ = s.Persist(ctx, "t1", "s1", map[string]any{PendingActionKey: "x"})
	if dc, _ := s.Load(ctx, "t2", "s1"); dc != nil {
		t.Fatal("context leaked across tenants")
	}
	if err := s.Persist(ctx, "", "s1", map[string]any{"a": 1}); !errors.Is(err, domain.ErrMissingTenant) {
		t.Fatalf("err = %v, want ErrMissingTenant", err)
	}
}

func TestCleared(t *testing.T) {
	cases := []struct {
		dc   map[string]any
		want bool
	}{
		{nil, false},
		{map[string]any{"a": 1}, false},
		{map[string]any{ClearKey: true}, true},
		{map[string]any{ClearKey: false}, false},
		{map[string]any{ClearKey: "yes"}, true},
	}
	for _, tc := range cases {
		if got := Cleared(tc.dc); got != tc.want {
			t.Errorf("Cleared(%v) = %v, want %v", tc.dc, got, tc.want)
		}
	}
}

func TestHandoff_Lifecycle(t *testing.T) {
	client, mr := newTestClient(t)
	h := NewHandoff(client, 0)
	ctx := context.Background()

	if on, _ := h.Active(ctx, "t1", "s1"); on {
		t.Fatal("handoff active before Set")
	}
	if err := h.Set(ctx, "t1", "s1"); err != nil {
		t.Fatal(err)
	}
	if on, _ := h.Active(ctx, "t1", "s1"); !on {
		t.Fatal("handoff not active after Set")
	}
	if ttl := mr.TTL("handoff:t1:s1"); ttl != DefaultHandoffTTL {
		t.Fatalf("TTL = %v", ttl)
	}
	if err := h.Clear(ctx, "t1", "s1"); err != nil {
		t.Fatal(err)
	}
	if on, _ := h.Active(ctx, "t1", "s1"); on {
		t.Fatal("handoff still active after Clear")
	}

	_ = h.Set(ctx, "t1", "s1")
	mr.FastForward(25 * time.Hour)
	if on, _ := h.Active(ctx, "t1", "s1"); on {
		t.Fatal("handoff should expire")
	}
}
