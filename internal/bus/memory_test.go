package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"frontdesk/internal/domain"
)

func TestMemoryBus_FanOutToCurrentSubscribersOnly(t *testing.T) {
	b := NewMemoryBus(10, testLogger())
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, _ := b.Publish(ctx, "inbound:t1", []byte("lost")); n != 0 {
		t.Fatalf("no subscribers yet, got %d deliveries", n)
	}

	got := make(chan string, 4)
	for i := 0; i < 2; i++ {
		go b.Subscribe(ctx, "inbound:*", func(_ context.Context, ch string, p []byte) {
			got <- string(p)
		})
	}
	deadline := time.Now().Add(time.Second)
	for b.Subscribers("inbound:t1") < 2 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	n, err := b.Publish(ctx, "inbound:t1", []byte("hi"))
	if err != nil || n != 2 {
		t.Fatalf("Publish = %d, %v; want 2, nil", n, err)
	}
	for i := 0; i < 2; i++ {
		select {
		case p := <-got:
			if p != "hi" {
				t.Errorf("payload = %q", p)
			}
		case <-time.After(time.Second):
			t.Fatal("delivery timed out")
		}
	}
	if n, _ := b.Publish(ctx, "outbound", []byte("x")); n != 0 {
		t.Errorf("pattern should not match outbound, delivered %d", n)
	}
}

func TestMemoryBus_QueueOrderAndTimeout(t *testing.T) {
	b := NewMemoryBus(0, testLogger())
	defer b.Close()
	ctx := context.Background()

	b.PushQueue(ctx, "q", []byte("1"))
	b.PushQueue(ctx, "q", []byte("2"))

	for _, want := range []string{"1", "2"} {
		_, p, err := b.PopQueue(ctx, "q", time.Second)
		if err != nil || string(p) != want {
			t.Fatalf("PopQueue = %q, %v; want %q", p, err, want)
		}
	}
	if _, _, err := b.PopQueue(ctx, "q", 20*time.Millisecond); !errors.Is(err, domain.ErrQueueTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestMemoryBus_PopWakesOnPush(t *testing.T) {
	b := NewMemoryBus(0, testLogger())
	defer b.Close()
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.PushQueue(ctx, "q", []byte("late"))
	}()
	_, p, err := b.PopQueue(ctx, "q", 2*time.Second)
	if err != nil || string(p) != "late" {
		t.Fatalf("PopQueue = %q, %v", p, err)
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	b := NewMemoryBus(0, testLogger())
	b.Close()
	ctx := context.Background()
	if _, err := b.Publish(ctx, "x", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Publish: %v", err)
	}
	if _, err := b.PushQueue(ctx, "x", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("PushQueue: %v", err)
	}
	if b.HealthCheck(ctx) {
		t.Error("HealthCheck true after Close")
	}
}
