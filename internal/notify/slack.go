// Package notify alerts human operators about systemic failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

const slackMaxMsgLen = 4000

// SlackConfig configures the Slack notifier.
type SlackConfig struct {
	WebhookURL  string
	MinInterval time.Duration // minimum gap between posts; bursts beyond it are counted and folded into the next post
	Client      *http.Client
	Logger      *slog.Logger
}

// Slack posts operator notifications to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	suppressed atomic.Int64
	logger     *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		webhookURL: cfg.WebhookURL,
		client:     cfg.Client,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		logger:     cfg.Logger,
	}
}

// Notify posts text unless the throttle is exhausted, in which case the
// notification is counted and reported with the next post.
func (s *Slack) Notify(ctx context.Context, text string) error {
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		s.logger.Debug("operator notification throttled")
		return nil
	}
	if n := s.suppressed.Swap(0); n > 0 {
		text = fmt.Sprintf("%s\n(%d similar notifications suppressed)", text, n)
	}
	if len(text) > slackMaxMsgLen {
		text = text[:slackMaxMsgLen-3] + "..."
	}

	msg := &slack.WebhookMessage{Text: ":rotating_light: " + text}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// Log writes notifications to the process log. It stands in when no
// webhook is configured.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, text string) error {
	l.Logger.Warn("operator notification", "text", text)
	return nil
}
