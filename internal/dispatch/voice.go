package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"frontdesk/internal/domain"
)

// Voice hands replies to the telephony bridge over the outbound bus channel;
// the bridge speaks them on the live call.
type Voice struct {
	bus domain.MessageBus
}

func NewVoice(bus domain.MessageBus) *Voice {
	return &Voice{bus: bus}
}

func (v *Voice) Platform() domain.Platform { return domain.PlatformVoice }

func (v *Voice) Send(ctx context.Context, msg domain.OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbound: %w", err)
	}
	n, err := v.bus.Publish(ctx, domain.ChannelOutbound, payload)
	if err != nil {
		return fmt.Errorf("publish to bridge: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no telephony bridge subscribed")
	}
	return nil
}
