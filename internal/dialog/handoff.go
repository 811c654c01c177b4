package dialog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"frontdesk/internal/domain"
)

// DefaultHandoffTTL bounds how long a sender stays with a human operator.
const DefaultHandoffTTL = 24 * time.Hour

func handoffKey(tenantID, senderID string) string {
	return fmt.Sprintf("handoff:%s:%s", tenantID, senderID)
}

// Handoff manages the human-handoff flag. While the flag is set the
// orchestrator is bypassed for that sender.
type Handoff struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewHandoff(client redis.Cmdable, ttl time.Duration) *Handoff {
	if ttl <= 0 {
		ttl = DefaultHandoffTTL
	}
	return &Handoff{client: client, ttl: ttl}
}

func (h *Handoff) Set(ctx context.Context, tenantID, senderID string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}
	if err := h.client.Set(ctx, handoffKey(tenantID, senderID), "1", h.ttl).Err(); err != nil {
		return fmt.Errorf("set handoff: %w", err)
	}
	return nil
}

func (h *Handoff) Active(ctx context.Context, tenantID, senderID string) (bool, error) {
	if tenantID == "" {
		return false, domain.ErrMissingTenant
	}
	n, err := h.client.Exists(ctx, handoffKey(tenantID, senderID)).Result()
	if err != nil {
		return false, fmt.Errorf("check handoff: %w", err)
	}
	return n == 1, nil
}

func (h *Handoff) Clear(ctx context.Context, tenantID, senderID string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}
	if err := h.client.Del(ctx, handoffKey(tenantID, senderID)).Err(); err != nil {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}
