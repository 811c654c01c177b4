package agent

import (
	"context"
	"fmt"

	"frontdesk/internal/domain"
)

const emergencyReply = "This sounds like a medical emergency. Please call %s right away and stop training. " +
	"If you are in the studio, tell a staff member immediately so they can help until the ambulance arrives."

const healthFallbackReply = "Please take it easy and don't train through pain. If the symptoms persist, see a doctor before your next session."

// HealthWorker answers health questions. Its Emergency response depends on
// nothing but the configured emergency number.
type HealthWorker struct {
	emergencyNumber string
	advice          domain.Worker
}

// NewHealthWorker builds a health worker. advice answers non-emergency
// questions and may be nil.
func NewHealthWorker(emergencyNumber string, advice domain.Worker) *HealthWorker {
	if emergencyNumber == "" {
		emergencyNumber = "112"
	}
	return &HealthWorker{emergencyNumber: emergencyNumber, advice: advice}
}

// Emergency returns the fixed emergency instruction.
func (h *HealthWorker) Emergency(domain.InboundMessage) *domain.WorkerResult {
	return &domain.WorkerResult{
		Content:    fmt.Sprintf(emergencyReply, h.emergencyNumber),
		Confidence: 1.0,
		Metadata:   map[string]any{"severity": "critical"},
	}
}

func (h *HealthWorker) Handle(ctx context.Context, msg domain.InboundMessage) (*domain.WorkerResult, error) {
	if IsEmergency(msg.Content) {
		return h.Emergency(msg), nil
	}
	if h.advice == nil {
		return &domain.WorkerResult{Content: healthFallbackReply, Confidence: 0.5}, nil
	}
	return h.advice.Handle(ctx, msg)
}
