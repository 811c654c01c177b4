package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"frontdesk/internal/bus"
	"frontdesk/internal/channel"
	"frontdesk/internal/domain"
)

type fakeTranscriber struct {
	text string
	err  error
	got  []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, filename string) (string, error) {
	f.got = append(f.got, filename+":"+string(audio))
	return f.text, f.err
}

func voiceJob(mediaRef string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:       "call-1",
		Platform: domain.PlatformVoice,
		SenderID: "+4917012345678",
		Content:  channel.PlaceholderVoice,
		Kind:     domain.KindVoice,
		MediaRef: mediaRef,
		TenantID: "t1",
	}
}

func runVoiceJob(t *testing.T, w *VoiceWorker, b *bus.MemoryBus, job domain.InboundMessage) domain.InboundMessage {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []domain.InboundMessage
	go b.Subscribe(ctx, "inbound:t1", func(_ context.Context, _ string, payload []byte) {
		var m domain.InboundMessage
		if json.Unmarshal(payload, &m) == nil {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		}
	})
	waitFor(t, "subscriber", func() bool { return b.Subscribers("inbound:t1") > 0 })

	payload, _ := json.Marshal(job)
	if _, err := b.PushQueue(ctx, domain.QueueVoice, payload); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, "republished message", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	})
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("voice worker did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	return got[0]
}

func TestVoiceWorker_Transcribes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "AC1" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	b := bus.NewMemoryBus(0, testLogger())
	tr := &fakeTranscriber{text: " Wann ist heute Yoga? "}
	w := NewVoiceWorker(VoiceWorkerConfig{
		Bus:         b,
		Transcriber: tr,
		Fetcher:     HTTPFetcher{Username: "AC1", Password: "secret"},
		PopTimeout:  50 * time.Millisecond,
		Logger:      testLogger(),
	})

	got := runVoiceJob(t, w, b, voiceJob(srv.URL+"/Recordings/RE1.wav"))
	if got.Content != "Wann ist heute Yoga?" || got.Meta(domain.MetaTranscribed) != "true" {
		t.Fatalf("republished = %+v", got)
	}
	if len(tr.got) != 1 || tr.got[0] != "RE1.wav:RIFF" {
		t.Fatalf("transcriber input = %v", tr.got)
	}
	if channel.NeedsTranscription(got) {
		t.Fatal("republished message must not be queued again")
	}
}

func TestVoiceWorker_FailureForwardsPlaceholder(t *testing.T) {
	b := bus.NewMemoryBus(0, testLogger())
	w := NewVoiceWorker(VoiceWorkerConfig{
		Bus:         b,
		Transcriber: &fakeTranscriber{err: errors.New("whisper down")},
		PopTimeout:  50 * time.Millisecond,
		Logger:      testLogger(),
	})

	got := runVoiceJob(t, w, b, voiceJob("media-id-without-url"))
	if got.Content != channel.PlaceholderVoice || got.Meta(domain.MetaTranscribed) != "true" {
		t.Fatalf("republished = %+v", got)
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	store := newMemStore()
	s := NewSweeper(store, time.Hour, 30, testLogger())
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("SweepOnce = %d, %v", n, err)
	}
	if want := now.AddDate(0, 0, -30); !store.cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", store.cutoff, want)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := newMemStore()
	s := NewSweeper(store, time.Hour, 30, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	waitFor(t, "first sweep", func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return !store.cutoff.IsZero()
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

type fakeLinks struct {
	linked   map[string][]string
	unlinked []string
}

func (l *fakeLinks) ListLinkedMembers(context.Context, time.Time) (map[string][]string, error) {
	return l.linked, nil
}

func (l *fakeLinks) UnlinkMember(_ context.Context, tenantID, memberID string) (int64, error) {
	l.unlinked = append(l.unlinked, tenantID+"/"+memberID)
	return 2, nil
}

type partialDirectory struct{ known map[string]bool }

func (d partialDirectory) FindMembersByPhoneKey(context.Context, string, string) ([]domain.Member, error) {
	return nil, nil
}

func (d partialDirectory) GetMember(_ context.Context, tenantID, memberID string) (*domain.Member, error) {
	if memberID == "m-broken" {
		return nil, errors.New("crm timeout")
	}
	if !d.known[memberID] {
		return nil, nil
	}
	return &domain.Member{ID: memberID, TenantID: tenantID}, nil
}

func (d partialDirectory) UpsertMember(context.Context, domain.Member) error { return nil }

func TestSweeper_ResyncMembers(t *testing.T) {
	links := &fakeLinks{linked: map[string][]string{"t1": {"m-1", "m-gone", "m-broken"}}}
	s := NewSweeper(newMemStore(), time.Hour, 30, testLogger()).
		WithMemberResync(links, partialDirectory{known: map[string]bool{"m-1": true}})

	n, err := s.ResyncMembers(context.Background())
	if err != nil {
		t.Fatalf("ResyncMembers: %v", err)
	}
	if n != 2 || len(links.unlinked) != 1 || links.unlinked[0] != "t1/m-gone" {
		t.Fatalf("n = %d, unlinked = %v", n, links.unlinked)
	}
}

func TestSweeper_ResyncDisabled(t *testing.T) {
	s := NewSweeper(newMemStore(), time.Hour, 30, testLogger())
	if n, err := s.ResyncMembers(context.Background()); n != 0 || err != nil {
		t.Fatalf("ResyncMembers = %d, %v", n, err)
	}
}

type stuckFetcher struct{}

func (stuckFetcher) Fetch(ctx context.Context, _ domain.InboundMessage) ([]byte, string, error) {
	<-ctx.Done()
	return nil, "", ctx.Err()
}

func TestVoiceWorker_StuckDownloadTimesOut(t *testing.T) {
	b := bus.NewMemoryBus(0, testLogger())
	w := NewVoiceWorker(VoiceWorkerConfig{
		Bus:         b,
		Transcriber: &fakeTranscriber{text: "never"},
		Fetcher:     stuckFetcher{},
		PopTimeout:  50 * time.Millisecond,
		JobTimeout:  100 * time.Millisecond,
		Logger:      testLogger(),
	})

	got := runVoiceJob(t, w, b, voiceJob("https://media.example/stuck.wav"))
	if got.Content != channel.PlaceholderVoice || got.Meta(domain.MetaTranscribed) != "true" {
		t.Fatalf("republished = %+v", got)
	}
}
