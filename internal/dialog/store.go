// Package dialog keeps short-lived per-sender conversation state in Redis:
// the dialog context carried between turns and the human-handoff flag.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

const (
	// DefaultTTL is how long a dialog context survives without a new turn.
	DefaultTTL = 30 * time.Minute

	// ClearKey in a returned context deletes the stored context.
	ClearKey = "clear"
	// PendingActionKey discriminates what a follow-up message is answering.
	PendingActionKey = "pending_action"
)

func contextKey(tenantID, senderID string) string {
	return fmt.Sprintf("dialog:%s:%s", tenantID, senderID)
}

// Store reads and writes dialog contexts.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewStore(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Load returns the stored context, or nil when none exists.
func (s *Store) Load(ctx context.Context, tenantID, senderID string) (map[string]any, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	raw, err := s.client.Get(ctx, contextKey(tenantID, senderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode dialog context: %w", err)
	}
	return out, nil
}

// Attach merges the stored context into a copy of msg under
// domain.MetaDialog. Failures are logged and the message is returned as is.
func (s *Store) Attach(ctx context.Context, msg domain.InboundMessage) domain.InboundMessage {
	dc, err := s.Load(ctx, msg.TenantID, msg.SenderID)
	if err != nil {
		s.logger.Warn("dialog context unavailable", "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
		return msg
	}
	if len(dc) == 0 {
		return msg
	}
	encoded, err := json.Marshal(dc)
	if err != nil {
		return msg
	}
	return msg.WithMetadata(map[string]string{domain.MetaDialog: string(encoded)})
}

// Persist stores the orchestrator's returned context with a fresh TTL, or
// deletes it when the context carries a true ClearKey. An empty context
// leaves the stored one untouched.
func (s *Store) Persist(ctx context.Context, tenantID, senderID string, dc map[string]any) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}
	if Cleared(dc) {
		if err := s.client.Del(ctx, contextKey(tenantID, senderID)).Err(); err != nil {
			return fmt.Errorf("clear dialog context: %w", err)
		}
		return nil
	}
	if len(dc) == 0 {
		return nil
	}
	raw, err := json.Marshal(dc)
	if err != nil {
		return fmt.Errorf("encode dialog context: %w", err)
	}
	if err := s.client.Set(ctx, contextKey(tenantID, senderID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist dialog context: %w", err)
	}
	return nil
}

// Cleared reports whether dc asks for the stored context to be dropped.
func Cleared(dc map[string]any) bool {
	v, ok := dc[ClearKey]
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// FromMetadata decodes the context Attach placed on a message.
func FromMetadata(msg domain.InboundMessage) map[string]any {
	raw := msg.Meta(domain.MetaDialog)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
