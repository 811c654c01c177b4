package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"frontdesk/internal/bus"
	"frontdesk/internal/channel"
	"frontdesk/internal/dispatch"
	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
	"frontdesk/internal/verify"
)

const (
	defaultConcurrency = 8
	defaultTurnTimeout = 2 * time.Minute
	resubscribeBackoff = 2 * time.Second
)

// Verifier is the identity gate.
type Verifier interface {
	Check(ctx context.Context, sess *domain.Session, msg domain.InboundMessage) verify.Decision
}

// ContextStore carries dialog context between turns.
type ContextStore interface {
	Attach(ctx context.Context, msg domain.InboundMessage) domain.InboundMessage
	Persist(ctx context.Context, tenantID, senderID string, dc map[string]any) error
}

// HandoffFlags tracks senders handed over to a human.
type HandoffFlags interface {
	Set(ctx context.Context, tenantID, senderID string) error
	Active(ctx context.Context, tenantID, senderID string) (bool, error)
}

// Sender delivers a reply on the sender's platform.
type Sender interface {
	Send(ctx context.Context, senderID string, platform domain.Platform, content string, metadata map[string]string) error
}

// PipelineConfig wires a Pipeline. Dialog, Handoff and Notifier are optional.
type PipelineConfig struct {
	Bus          domain.MessageBus
	Store        domain.Store
	Gate         Verifier
	Dialog       ContextStore
	Handoff      HandoffFlags
	Orchestrator Orchestrator
	Sender       Sender
	Notifier     domain.Notifier
	Effects      *SideEffects
	Health       *HealthWorker
	Concurrency  int
	TurnTimeout  time.Duration
	Logger       *slog.Logger
}

// Pipeline processes one inbound message end to end: session, gate, dialog
// context, orchestrator, dispatch. Logging and broadcasts run as side effects.
type Pipeline struct {
	bus         domain.MessageBus
	store       domain.Store
	gate        Verifier
	dialog      ContextStore
	handoff     HandoffFlags
	orch        Orchestrator
	sender      Sender
	notifier    domain.Notifier
	effects     *SideEffects
	health      *HealthWorker
	concurrency int
	turnTimeout time.Duration
	logger      *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		bus:         cfg.Bus,
		store:       cfg.Store,
		gate:        cfg.Gate,
		dialog:      cfg.Dialog,
		handoff:     cfg.Handoff,
		orch:        cfg.Orchestrator,
		sender:      cfg.Sender,
		notifier:    cfg.Notifier,
		effects:     cfg.Effects,
		health:      cfg.Health,
		concurrency: cfg.Concurrency,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.effects == nil {
		p.effects = NewSideEffects(0, p.logger)
	}
	if p.health == nil {
		p.health = NewHealthWorker("", nil)
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.turnTimeout <= 0 {
		p.turnTimeout = defaultTurnTimeout
	}
	return p
}

// Run consumes every tenant's inbound channel with bounded concurrency until
// ctx is cancelled, then waits for in-flight turns. Turns in flight keep
// running after cancellation, bounded by the turn timeout.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "concurrency", p.concurrency)
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	handler := func(_ context.Context, ch string, payload []byte) {
		var msg domain.InboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.logger.Error("dropping undecodable inbound message", "channel", ch, "err", err)
			return
		}
		if tenant := strings.TrimPrefix(ch, "inbound:"); msg.TenantID != tenant {
			p.logger.Error("dropping inbound message with mismatched tenant", "channel", ch, "tenant", msg.TenantID)
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("turn panicked", "tenant", msg.TenantID, "platform", msg.Platform, "panic", r)
				}
			}()
			turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.turnTimeout)
			defer cancel()
			if err := p.Process(turnCtx, msg); err != nil {
				p.logger.Warn("turn ended with error", "tenant", msg.TenantID, "platform", msg.Platform, "err", err)
			}
		}()
	}

	for {
		err := p.bus.Subscribe(ctx, domain.ChannelInboundAll, handler)
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping")
			return nil
		}
		p.logger.Error("inbound subscription ended, resubscribing", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeBackoff):
		}
	}
}

// Process runs one turn. The returned error is informational; the sender has
// already received whatever reply the failure allowed.
func (p *Pipeline) Process(ctx context.Context, msg domain.InboundMessage) error {
	if msg.TenantID == "" {
		p.logger.Error("inbound message without tenant", "platform", msg.Platform, "sender", msg.SenderID)
		metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "rejected").Inc()
		return domain.ErrMissingTenant
	}

	sess, err := p.store.GetOrCreateSession(ctx, msg.TenantID, msg.Platform, msg.SenderID)
	if err != nil {
		p.logger.Error("session lookup failed", "tenant", msg.TenantID, "platform", msg.Platform, "sender", msg.SenderID, "err", err)
		metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "failed").Inc()
		if IsEmergency(msg.Content) {
			p.deliver(ctx, msg, nil, p.health.Emergency(msg).Content)
			p.raiseAlert(msg)
		} else {
			p.deliver(ctx, msg, nil, ReplyApology)
		}
		return fmt.Errorf("session: %w", err)
	}
	p.logInbound(sess, msg)

	if p.handoffActive(ctx, msg) {
		metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "handoff").Inc()
		p.broadcast(bus.NewEvent(bus.EventHandoffMessage, msg.TenantID, map[string]any{
			"platform": msg.Platform, "sender": msg.SenderID, "content": msg.Content,
		}))
		return nil
	}

	dec := p.gate.Check(ctx, sess, msg)
	if !dec.Proceed {
		metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "gated").Inc()
		switch {
		case dec.MemberID != "":
			p.broadcast(bus.NewEvent(bus.EventVerified, msg.TenantID, map[string]any{"platform": msg.Platform, "sender": msg.SenderID}))
		case dec.CodeSent:
			p.broadcast(bus.NewEvent(bus.EventVerificationSent, msg.TenantID, map[string]any{"platform": msg.Platform, "sender": msg.SenderID}))
		}
		p.deliver(ctx, msg, sess, dec.Reply)
		return nil
	}

	enriched := msg
	if p.dialog != nil {
		enriched = p.dialog.Attach(ctx, msg)
	}
	reply := p.orch.Handle(ctx, enriched)

	if p.dialog != nil && reply.Context != nil {
		if err := p.dialog.Persist(ctx, msg.TenantID, msg.SenderID, reply.Context); err != nil {
			p.logger.Warn("dialog context not saved", "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
		}
	}
	if reply.Handoff {
		p.startHandoff(ctx, msg)
	}

	p.deliver(ctx, msg, sess, reply.Content)
	metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "replied").Inc()

	if reply.Alert {
		p.raiseAlert(msg)
	}
	if reply.Degraded {
		p.notify("reasoning engine unavailable for tenant " + msg.TenantID)
	}
	return nil
}

// deliver sends content and falls back to the apology when the transport fails.
func (p *Pipeline) deliver(ctx context.Context, msg domain.InboundMessage, sess *domain.Session, content string) {
	meta := outboundMetadata(msg)
	err := p.sender.Send(ctx, msg.SenderID, msg.Platform, content, meta)
	if err == nil {
		p.logOutbound(sess, msg, content)
		return
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "failed").Inc()
	p.broadcast(bus.NewEvent(bus.EventDispatchFailed, msg.TenantID, map[string]any{"platform": msg.Platform, "sender": msg.SenderID}))
	p.notify(fmt.Sprintf("outbound delivery failed on %s for tenant %s", msg.Platform, msg.TenantID))

	if content == ReplyApology {
		return
	}
	if err := p.sender.Send(ctx, msg.SenderID, msg.Platform, ReplyApology, meta); err != nil {
		p.logger.Error("fallback apology not delivered", "platform", msg.Platform, "sender", msg.SenderID, "err", err)
		return
	}
	p.logOutbound(sess, msg, ReplyApology)
}

// outboundMetadata copies the routing hints a transport may need.
func outboundMetadata(msg domain.InboundMessage) map[string]string {
	meta := map[string]string{
		domain.MetaTenantID:  msg.TenantID,
		dispatch.MetaReplyTo: msg.ID,
	}
	for _, key := range []string{domain.MetaChatID, domain.MetaSubject, channel.MetaPhoneNumberID} {
		if v := msg.Meta(key); v != "" {
			meta[key] = v
		}
	}
	if msg.Platform == domain.PlatformEmail {
		meta[channel.MetaInReplyTo] = msg.ID
	}
	return meta
}

func (p *Pipeline) handoffActive(ctx context.Context, msg domain.InboundMessage) bool {
	if p.handoff == nil {
		return false
	}
	active, err := p.handoff.Active(ctx, msg.TenantID, msg.SenderID)
	if err != nil {
		p.logger.Warn("handoff lookup failed", "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
		return false
	}
	return active
}

func (p *Pipeline) startHandoff(ctx context.Context, msg domain.InboundMessage) {
	if p.handoff == nil {
		return
	}
	if err := p.handoff.Set(ctx, msg.TenantID, msg.SenderID); err != nil {
		p.logger.Warn("handoff flag not set", "tenant", msg.TenantID, "sender", msg.SenderID, "err", err)
		return
	}
	p.logger.Info("conversation handed to staff", "tenant", msg.TenantID, "platform", msg.Platform, "sender", msg.SenderID)
	p.broadcast(bus.NewEvent(bus.EventHandoffStarted, msg.TenantID, map[string]any{"platform": msg.Platform, "sender": msg.SenderID}))
}

func (p *Pipeline) raiseAlert(msg domain.InboundMessage) {
	ev := bus.NewEvent(bus.EventAlert, msg.TenantID, map[string]any{
		"platform": msg.Platform, "sender": msg.SenderID, "reason": "emergency keyword",
	})
	ev.Severity = bus.SeverityCritical
	p.broadcast(ev)
	p.notify(fmt.Sprintf("EMERGENCY reported by a member of tenant %s on %s", msg.TenantID, msg.Platform))
}

func (p *Pipeline) logInbound(sess *domain.Session, msg domain.InboundMessage) {
	p.effects.Go("log_inbound", func(ctx context.Context) error {
		return p.store.SaveMessage(ctx, sess, "user", msg.Content, msg.Metadata)
	})
	p.broadcast(bus.NewEvent(bus.EventMessageInbound, msg.TenantID, map[string]any{
		"platform": msg.Platform, "sender": msg.SenderID, "content": msg.Content, "kind": msg.Kind,
	}))
}

func (p *Pipeline) logOutbound(sess *domain.Session, msg domain.InboundMessage, content string) {
	if sess != nil {
		p.effects.Go("log_outbound", func(ctx context.Context) error {
			return p.store.SaveMessage(ctx, sess, "assistant", content, map[string]string{dispatch.MetaReplyTo: msg.ID})
		})
	}
	p.broadcast(bus.NewEvent(bus.EventMessageOutbound, msg.TenantID, map[string]any{
		"platform": msg.Platform, "sender": msg.SenderID, "content": content,
	}))
}

func (p *Pipeline) broadcast(ev bus.SystemEvent) {
	p.effects.Go("broadcast", func(ctx context.Context) error {
		return bus.PublishEvent(ctx, p.bus, ev)
	})
}

func (p *Pipeline) notify(text string) {
	if p.notifier == nil {
		return
	}
	p.effects.Go("notify_operator", func(ctx context.Context) error {
		return p.notifier.Notify(ctx, text)
	})
}
