package domain

import "context"

// WorkerResult is what a capability worker returns for one request.
type WorkerResult struct {
	Content              string         `json:"content"`
	Confidence           float64        `json:"confidence"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// Worker handles one capability (booking, retention, health, ...).
type Worker interface {
	Handle(ctx context.Context, msg InboundMessage) (*WorkerResult, error)
}

// Transport delivers an outbound message on one platform.
type Transport interface {
	Platform() Platform
	Send(ctx context.Context, msg OutboundMessage) error
}
