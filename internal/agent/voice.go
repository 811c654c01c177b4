package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"frontdesk/internal/bus"
	"frontdesk/internal/channel"
	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

const (
	defaultPopTimeout  = 5 * time.Second
	maxRecordingBytes  = 25 << 20
	busDownBackoff     = 2 * time.Second
	defaultJobTimeout  = 2 * time.Minute
	defaultAudioSuffix = "recording.wav"
)

// MediaFetcher downloads the audio a voice message points at.
type MediaFetcher interface {
	Fetch(ctx context.Context, msg domain.InboundMessage) (audio []byte, filename string, err error)
}

// HTTPFetcher downloads recordings whose media reference is an http(s) URL.
// Username and Password, when set, are sent as basic auth (Twilio recordings).
type HTTPFetcher struct {
	Client   *http.Client
	Username string
	Password string
}

func (f HTTPFetcher) Fetch(ctx context.Context, msg domain.InboundMessage) ([]byte, string, error) {
	ref := msg.MediaRef
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, "", fmt.Errorf("media reference is not a url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if f.Username != "" {
		req.SetBasicAuth(f.Username, f.Password)
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("fetch recording: status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read recording: %w", err)
	}

	name := msg.Meta(channel.MetaFileName)
	if name == "" {
		name = path.Base(strings.SplitN(ref, "?", 2)[0])
	}
	if name == "" || name == "/" || name == "." || !strings.Contains(name, ".") {
		name = defaultAudioSuffix
	}
	return audio, name, nil
}

// VoiceWorkerConfig wires a VoiceWorker.
type VoiceWorkerConfig struct {
	Bus         domain.MessageBus
	Transcriber domain.Transcriber
	Fetcher     MediaFetcher
	PopTimeout  time.Duration
	// JobTimeout bounds download plus transcription of one recording.
	JobTimeout  time.Duration
	Logger      *slog.Logger
}

// VoiceWorker drains the voice queue: it transcribes each recording and
// republishes the message on its tenant's inbound channel.
type VoiceWorker struct {
	bus         domain.MessageBus
	transcriber domain.Transcriber
	fetcher     MediaFetcher
	popTimeout  time.Duration
	jobTimeout  time.Duration
	logger      *slog.Logger
}

func NewVoiceWorker(cfg VoiceWorkerConfig) *VoiceWorker {
	w := &VoiceWorker{
		bus:         cfg.Bus,
		transcriber: cfg.Transcriber,
		fetcher:     cfg.Fetcher,
		popTimeout:  cfg.PopTimeout,
		jobTimeout:  cfg.JobTimeout,
		logger:      cfg.Logger,
	}
	if w.fetcher == nil {
		w.fetcher = HTTPFetcher{}
	}
	if w.popTimeout <= 0 {
		w.popTimeout = defaultPopTimeout
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = defaultJobTimeout
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run pops jobs until ctx is cancelled. A job popped before cancellation is
// finished, and a stuck transcription falls back to the placeholder after
// the job timeout.
func (w *VoiceWorker) Run(ctx context.Context) error {
	w.logger.Info("voice worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("voice worker stopping")
			return nil
		}
		_, payload, err := w.bus.PopQueue(ctx, domain.QueueVoice, w.popTimeout)
		switch {
		case err == nil:
			w.process(context.WithoutCancel(ctx), payload)
		case errors.Is(err, domain.ErrQueueTimeout):
		case ctx.Err() != nil:
		default:
			w.logger.Warn("voice queue unavailable", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(busDownBackoff):
			}
		}
	}
}

func (w *VoiceWorker) process(ctx context.Context, payload []byte) {
	var msg domain.InboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		metrics.VoiceJobs.WithLabelValues("invalid").Inc()
		w.logger.Error("dropping undecodable voice job", "err", err)
		return
	}

	tctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	text, err := w.transcribe(tctx, msg)
	cancel()
	outcome := "transcribed"
	if err != nil {
		outcome = "failed"
		w.logger.Warn("transcription failed, forwarding placeholder", "tenant", msg.TenantID, "platform", msg.Platform, "err", err)
		text = channel.PlaceholderVoice
	}

	out := msg.WithContent(text).WithMetadata(map[string]string{domain.MetaTranscribed: "true"})
	if _, err := bus.PublishInbound(ctx, w.bus, out); err != nil {
		metrics.VoiceJobs.WithLabelValues("lost").Inc()
		w.logger.Error("transcribed message not published", "tenant", msg.TenantID, "err", err)
		return
	}
	metrics.VoiceJobs.WithLabelValues(outcome).Inc()
}

func (w *VoiceWorker) transcribe(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if w.transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	audio, name, err := w.fetcher.Fetch(ctx, msg)
	if err != nil {
		return "", err
	}
	text, err := w.transcriber.Transcribe(ctx, audio, name)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty transcript")
	}
	return text, nil
}
