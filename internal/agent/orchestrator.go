package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/domain"
)

// Fixed replies. None of them mention a tenant or an internal error.
const (
	ReplyApology        = "Sorry, I'm having trouble answering right now. Please try again in a moment."
	ReplyStillGathering = "I'm still gathering the information you asked for. Please bear with me, I'll get back to you shortly."
	DefaultUpsell       = "This channel isn't included in your studio's current plan. Please reach us on one of the other channels."
)

const (
	ModeCoordinator = "coordinator"
	ModeDispatcher  = "dispatcher"

	defaultMaxIterations = 5
	defaultEngineTimeout = 30 * time.Second
	defaultWorkerTimeout = 20 * time.Second
)

// Reply is the orchestrator's answer for one turn.
type Reply struct {
	Content    string
	Confidence float64
	// Context is persisted as the sender's dialog context; nil leaves it untouched.
	Context  map[string]any
	Workers  []WorkerName
	Degraded bool // engine failure or timeout produced the fixed apology
	Alert    bool // safety-critical: raise a critical alert
	Handoff  bool // a worker asked for a human to take over
	Gated    bool // platform not included in the tenant's plan
}

// Orchestrator turns one verified inbound message into a reply. Handle
// never fails; errors are folded into the reply.
type Orchestrator interface {
	Handle(ctx context.Context, msg domain.InboundMessage) Reply
}

// SettingReader reads tenant settings.
type SettingReader interface {
	GetSetting(ctx context.Context, key, tenantID, def string) (string, error)
}

// OrchestratorConfig wires both orchestrator shapes.
type OrchestratorConfig struct {
	Mode          string
	Provider      domain.Provider
	Registry      *Registry
	Settings      SettingReader
	Health        *HealthWorker
	Profiles      map[WorkerName]WorkerProfile
	MaxIterations int
	EngineTimeout time.Duration
	WorkerTimeout time.Duration
	Logger        *slog.Logger
}

// NewOrchestrator builds the orchestrator selected by cfg.Mode.
func NewOrchestrator(cfg OrchestratorConfig) Orchestrator {
	if cfg.Mode == ModeDispatcher {
		return NewSingleDispatcher(cfg)
	}
	return NewCoordinator(cfg)
}

// guard runs the checks shared by every orchestrator shape, in order:
// channel gating, then the emergency hard-route.
type guard struct {
	settings SettingReader
	health   *HealthWorker
	logger   *slog.Logger
}

func newGuard(cfg OrchestratorConfig) guard {
	health := cfg.Health
	if health == nil {
		health = NewHealthWorker("", nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return guard{settings: cfg.Settings, health: health, logger: logger}
}

// preflight returns a reply and true when the turn must not reach any
// reasoning step.
func (g guard) preflight(ctx context.Context, msg domain.InboundMessage) (Reply, bool) {
	if !g.platformAllowed(ctx, msg) {
		return Reply{Content: g.upsell(ctx, msg.TenantID), Confidence: 1.0, Gated: true}, true
	}
	if IsEmergency(msg.Content) {
		g.logger.Warn("emergency keyword detected, routing to health worker", "tenant", msg.TenantID, "platform", msg.Platform)
		res := g.health.Emergency(msg)
		return Reply{Content: res.Content, Confidence: res.Confidence, Alert: true, Workers: []WorkerName{WorkerHealth}}, true
	}
	return Reply{}, false
}

// platformAllowed reads plan.platforms, a comma separated list. An empty
// list allows everything; a failed lookup allows the message.
func (g guard) platformAllowed(ctx context.Context, msg domain.InboundMessage) bool {
	if g.settings == nil {
		return true
	}
	raw, err := g.settings.GetSetting(ctx, domain.SettingPlanPlatforms, msg.TenantID, "")
	if err != nil {
		g.logger.Warn("plan lookup failed, allowing message", "tenant", msg.TenantID, "err", err)
		return true
	}
	if strings.TrimSpace(raw) == "" {
		return true
	}
	for _, p := range strings.Split(raw, ",") {
		if strings.EqualFold(strings.TrimSpace(p), string(msg.Platform)) {
			return true
		}
	}
	return false
}

func (g guard) upsell(ctx context.Context, tenantID string) string {
	if g.settings == nil {
		return DefaultUpsell
	}
	text, err := g.settings.GetSetting(ctx, domain.SettingUpsellText, tenantID, DefaultUpsell)
	if err != nil || text == "" {
		return DefaultUpsell
	}
	return text
}

// turnState accumulates what workers contributed to one turn.
type turnState struct {
	context map[string]any
	workers []WorkerName
	handoff bool
	alert   bool
}

func (s *turnState) absorb(name WorkerName, res *domain.WorkerResult) {
	s.workers = append(s.workers, name)
	if res == nil || res.Metadata == nil {
		return
	}
	if dc, ok := res.Metadata[resultContext].(map[string]any); ok {
		if s.context == nil {
			s.context = make(map[string]any, len(dc))
		}
		for k, v := range dc {
			s.context[k] = v
		}
	}
	if b, ok := res.Metadata[resultHandoff].(bool); ok && b {
		s.handoff = true
	}
	if sev, ok := res.Metadata[resultSeverity].(string); ok && sev == "critical" {
		s.alert = true
	}
}

func (s *turnState) reply(content string, confidence float64) Reply {
	return Reply{
		Content:    content,
		Confidence: confidence,
		Context:    s.context,
		Workers:    s.workers,
		Handoff:    s.handoff,
		Alert:      s.alert,
	}
}
