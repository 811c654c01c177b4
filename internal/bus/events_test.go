package bus

import (
	"context"
	"testing"
	"time"

	"frontdesk/internal/domain"
)

func TestPublishEvent_RoundTripsThroughBus(t *testing.T) {
	b := NewMemoryBus(0, testLogger())
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan SystemEvent, 1)
	go b.Subscribe(ctx, domain.ChannelSystemEvents, func(_ context.Context, _ string, p []byte) {
		ev, err := DecodeEvent(p)
		if err != nil {
			t.Errorf("DecodeEvent: %v", err)
			return
		}
		got <- ev
	})
	for b.Subscribers(domain.ChannelSystemEvents) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	ev := NewEvent(EventAlert, "t1", map[string]any{"sender": "s1"})
	ev.Severity = SeverityCritical
	if err := PublishEvent(ctx, b, ev); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case e := <-got:
		if e.ID != ev.ID || e.Type != EventAlert || e.Severity != SeverityCritical || e.TenantID != "t1" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishInbound_RequiresTenant(t *testing.T) {
	b := NewMemoryBus(0, testLogger())
	defer b.Close()
	_, err := PublishInbound(context.Background(), b, domain.InboundMessage{ID: "m1"})
	if err != domain.ErrMissingTenant {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(EventAlert); got != "frontdesk.alert" {
		t.Errorf("RoutingKey = %q", got)
	}
	if got := RoutingKey(""); got != "frontdesk.unknown" {
		t.Errorf("RoutingKey(empty) = %q", got)
	}
}
