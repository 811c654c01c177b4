package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"frontdesk/internal/domain"
)

// System event types published on domain.ChannelSystemEvents.
const (
	EventMessageInbound   = "message.inbound"
	EventMessageOutbound  = "message.outbound"
	EventVerificationSent = "verification.code_sent"
	EventVerified         = "verification.verified"
	EventHandoffMessage   = "handoff.message"
	EventHandoffStarted   = "handoff.started"
	EventHandoffEnded     = "handoff.ended"
	EventAlert            = "alert"
	EventDispatchFailed   = "dispatch.failed"
)

// Severity levels for alert events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SystemEvent is the envelope for everything on the system-events channel.
type SystemEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with an id and timestamp filled in.
func NewEvent(eventType, tenantID string, data map[string]any) SystemEvent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return SystemEvent{
		ID:        id.String(),
		Type:      eventType,
		TenantID:  tenantID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// DecodeEvent parses a system-events payload.
func DecodeEvent(payload []byte) (SystemEvent, error) {
	var ev SystemEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("decode system event: %w", err)
	}
	return ev, nil
}

// PublishEvent marshals ev and publishes it on the system-events channel.
func PublishEvent(ctx context.Context, b domain.MessageBus, ev SystemEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode system event: %w", err)
	}
	if _, err := b.Publish(ctx, domain.ChannelSystemEvents, payload); err != nil {
		return err
	}
	return nil
}

// PublishInbound publishes a normalized message on its tenant's inbound channel.
func PublishInbound(ctx context.Context, b domain.MessageBus, msg domain.InboundMessage) (int64, error) {
	if msg.TenantID == "" {
		return 0, domain.ErrMissingTenant
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode inbound: %w", err)
	}
	return b.Publish(ctx, domain.InboundChannel(msg.TenantID), payload)
}
