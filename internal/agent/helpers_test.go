package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"frontdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedProvider answers with a function of the call number (1-based).
type scriptedProvider struct {
	mu       sync.Mutex
	calls    int
	requests []domain.ChatRequest
	script   func(n int, req domain.ChatRequest) (string, error)
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	content, err := p.script(n, req)
	if err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Content: content}, nil
}

func (p *scriptedProvider) Name() string                  { return "scripted" }
func (p *scriptedProvider) Healthy(context.Context) error { return nil }

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Request(i int) domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func replies(answers ...string) *scriptedProvider {
	return &scriptedProvider{script: func(n int, _ domain.ChatRequest) (string, error) {
		if n > len(answers) {
			return answers[len(answers)-1], nil
		}
		return answers[n-1], nil
	}}
}

func downProvider() *scriptedProvider {
	return &scriptedProvider{script: func(int, domain.ChatRequest) (string, error) {
		return "", errors.New("connection refused")
	}}
}

// countingWorker records every query it receives.
type countingWorker struct {
	mu      sync.Mutex
	queries []string
	result  domain.WorkerResult
	err     error
}

func (w *countingWorker) Handle(_ context.Context, msg domain.InboundMessage) (*domain.WorkerResult, error) {
	w.mu.Lock()
	w.queries = append(w.queries, msg.Content)
	w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	res := w.result
	if res.Content == "" {
		res.Content = "answer to " + msg.Content
	}
	return &res, nil
}

func (w *countingWorker) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queries)
}

type settingsMap map[string]string

func (s settingsMap) GetSetting(_ context.Context, key, tenantID, def string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return def, nil
}

func verifiedMsg(content string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:         "m1",
		Platform:   domain.PlatformWhatsApp,
		SenderID:   "4917012345678",
		Content:    content,
		Kind:       domain.KindText,
		TenantID:   "t1",
		ReceivedAt: time.Now(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
