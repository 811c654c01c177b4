// Package dispatch delivers replies on the platform a message arrived on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

// ErrNoTransport is returned when no transport is registered for a platform.
var ErrNoTransport = errors.New("no transport for platform")

// MetaReplyTo carries the id of the inbound message being answered.
const MetaReplyTo = "reply_to"

// Dispatcher routes outbound messages to per-platform transports.
type Dispatcher struct {
	mu         sync.RWMutex
	transports map[domain.Platform]domain.Transport
	logger     *slog.Logger
}

func New(logger *slog.Logger, transports ...domain.Transport) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{transports: make(map[domain.Platform]domain.Transport), logger: logger}
	for _, t := range transports {
		d.Register(t)
	}
	return d
}

// Register adds or replaces the transport for t.Platform().
func (d *Dispatcher) Register(t domain.Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transports[t.Platform()] = t
}

// Platforms lists the platforms with a registered transport.
func (d *Dispatcher) Platforms() []domain.Platform {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Platform, 0, len(d.transports))
	for _, p := range domain.Platforms {
		if _, ok := d.transports[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Send delivers content to senderID on platform. metadata may carry routing
// hints (chat id, subject, tenant id); all of them are optional. Failures are
// logged with platform and sender only and returned to the caller.
func (d *Dispatcher) Send(ctx context.Context, senderID string, platform domain.Platform, content string, metadata map[string]string) error {
	msg := domain.OutboundMessage{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Platform:    platform,
		RecipientID: senderID,
		Content:     content,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	msg.TenantID = msg.Meta(domain.MetaTenantID, "")
	msg.ReplyTo = msg.Meta(MetaReplyTo, "")
	return d.SendMessage(ctx, msg)
}

// SendMessage delivers an already built outbound message.
func (d *Dispatcher) SendMessage(ctx context.Context, msg domain.OutboundMessage) error {
	d.mu.RLock()
	t, ok := d.transports[msg.Platform]
	d.mu.RUnlock()
	if !ok {
		d.logger.Error("outbound delivery failed", "platform", msg.Platform, "sender", msg.RecipientID, "err", ErrNoTransport)
		metrics.DispatchFailures.WithLabelValues(string(msg.Platform)).Inc()
		return fmt.Errorf("dispatch %s: %w", msg.Platform, ErrNoTransport)
	}

	if err := t.Send(ctx, msg); err != nil {
		d.logger.Error("outbound delivery failed", "platform", msg.Platform, "sender", msg.RecipientID, "err", err)
		metrics.DispatchFailures.WithLabelValues(string(msg.Platform)).Inc()
		return fmt.Errorf("dispatch %s: %w", msg.Platform, err)
	}
	return nil
}
