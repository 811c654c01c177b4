package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestRedisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := NewRedisBusFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger())
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBus_NotConnected(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBusFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testLogger())
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Publish(ctx, "x", []byte("y")); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("Publish before Connect: got %v", err)
	}
	if _, err := b.PushQueue(ctx, "q", []byte("y")); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("PushQueue before Connect: got %v", err)
	}
	if b.HealthCheck(ctx) {
		t.Error("HealthCheck should be false before Connect")
	}
}

func TestRedisBus_QueueFIFO(t *testing.T) {
	b, _ := newTestRedisBus(t)
	ctx := context.Background()

	for i, p := range []string{"a", "b", "c"} {
		n, err := b.PushQueue(ctx, domain.QueueVoice, []byte(p))
		if err != nil {
			t.Fatalf("PushQueue: %v", err)
		}
		if n != int64(i+1) {
			t.Errorf("length = %d, want %d", n, i+1)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		q, payload, err := b.PopQueue(ctx, domain.QueueVoice, time.Second)
		if err != nil {
			t.Fatalf("PopQueue: %v", err)
		}
		if q != domain.QueueVoice || string(payload) != want {
			t.Errorf("got (%s, %s), want (%s, %s)", q, payload, domain.QueueVoice, want)
		}
	}
}

func TestRedisBus_PopTimeout(t *testing.T) {
	b, _ := newTestRedisBus(t)
	_, _, err := b.PopQueue(context.Background(), "empty", 100*time.Millisecond)
	if !errors.Is(err, domain.ErrQueueTimeout) {
		t.Fatalf("expected ErrQueueTimeout, got %v", err)
	}
}

func TestRedisBus_PublishSubscribePattern(t *testing.T) {
	b, _ := newTestRedisBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Subscribe(ctx, domain.ChannelInboundAll, func(_ context.Context, ch string, p []byte) {
			mu.Lock()
			got = append(got, ch+"="+string(p))
			mu.Unlock()
		})
	}()

	// wait until the pattern subscription is live
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := b.Publish(ctx, domain.InboundChannel("t1"), []byte("hello"))
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(20 * time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("message not delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "inbound:t1=hello" {
		t.Errorf("got %q", got[0])
	}
}

func TestRedisBus_ClosedRejects(t *testing.T) {
	b, _ := newTestRedisBus(t)
	b.Close()
	if _, err := b.Publish(context.Background(), "x", nil); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after Close, got %v", err)
	}
}
