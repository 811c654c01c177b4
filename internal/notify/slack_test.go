package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type webhookRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (wr *webhookRecorder) handler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	wr.mu.Lock()
	wr.texts = append(wr.texts, body.Text)
	wr.mu.Unlock()
	w.Write([]byte("ok"))
}

func (wr *webhookRecorder) Texts() []string {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return append([]string(nil), wr.texts...)
}

func TestSlack_PostsAndThrottles(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	s := NewSlack(SlackConfig{WebhookURL: srv.URL, MinInterval: 50 * time.Millisecond, Logger: testLogger()})
	ctx := context.Background()

	if err := s.Notify(ctx, "dispatch failed on whatsapp"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Notify(ctx, "dispatch failed on whatsapp"); err != nil {
		t.Fatalf("throttled Notify must not fail: %v", err)
	}
	if got := rec.Texts(); len(got) != 1 || !strings.Contains(got[0], "dispatch failed on whatsapp") {
		t.Fatalf("posts = %v", got)
	}

	time.Sleep(60 * time.Millisecond)
	if err := s.Notify(ctx, "engine down"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	got := rec.Texts()
	if len(got) != 2 || !strings.Contains(got[1], "1 similar notifications suppressed") {
		t.Fatalf("posts = %v", got)
	}
}

func TestSlack_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSlack(SlackConfig{WebhookURL: srv.URL, Logger: testLogger()})
	if err := s.Notify(context.Background(), "x"); err == nil {
		t.Fatal("expected webhook error")
	}
}
