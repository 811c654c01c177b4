package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

// Router classifies a message by keyword and picks one worker.
type Router struct {
	lowerKeywords map[WorkerName][]string // pre-computed lowercase keywords per worker
	fallback      WorkerName
	logger        *slog.Logger
}

func NewRouter(profiles map[WorkerName]WorkerProfile, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	lowerKW := make(map[WorkerName][]string, len(profiles))
	for name, profile := range profiles {
		kws := make([]string, len(profile.Keywords))
		for i, kw := range profile.Keywords {
			kws[i] = strings.ToLower(kw)
		}
		lowerKW[name] = kws
	}
	return &Router{lowerKeywords: lowerKW, fallback: WorkerPersona, logger: logger}
}

// Route returns the worker with the most keyword hits. Ties go to the worker
// listed first in WorkerNames; no hits route to the persona worker.
func (r *Router) Route(message string) WorkerName {
	lower := strings.ToLower(message)

	bestMatch := r.fallback
	bestScore := 0
	for _, name := range WorkerNames {
		score := 0
		for _, kw := range r.lowerKeywords[name] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestMatch = name
		}
	}

	if bestScore > 0 {
		r.logger.Debug("router matched worker", "worker", bestMatch, "score", bestScore)
	}
	return bestMatch
}

// SingleDispatcher hands the whole message to exactly one worker chosen by
// the Router. It shares gating and the emergency hard-route with the
// Coordinator but never calls the reasoning engine itself.
type SingleDispatcher struct {
	guard
	router        *Router
	registry      *Registry
	workerTimeout time.Duration
}

func NewSingleDispatcher(cfg OrchestratorConfig) *SingleDispatcher {
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	timeout := cfg.WorkerTimeout
	if timeout <= 0 {
		timeout = defaultWorkerTimeout
	}
	g := newGuard(cfg)
	return &SingleDispatcher{
		guard:         g,
		router:        NewRouter(profiles, g.logger),
		registry:      registry,
		workerTimeout: timeout,
	}
}

func (d *SingleDispatcher) Handle(ctx context.Context, msg domain.InboundMessage) Reply {
	if r, done := d.preflight(ctx, msg); done {
		return r
	}

	name := d.router.Route(msg.Content)
	w, err := d.registry.Get(name)
	if err != nil && name != WorkerPersona {
		d.logger.Warn("routed worker not registered, using persona", "worker", name)
		name = WorkerPersona
		w, err = d.registry.Get(name)
	}
	if err != nil {
		d.logger.Error("no worker available", "tenant", msg.TenantID, "err", err)
		return Reply{Content: ReplyApology, Degraded: true}
	}

	ctx, cancel := context.WithTimeout(ctx, d.workerTimeout)
	defer cancel()
	res, err := w.Handle(ctx, msg)
	if err != nil || res == nil {
		metrics.WorkerCalls.WithLabelValues(string(name), "error").Inc()
		d.logger.Error("worker failed", "worker", name, "tenant", msg.TenantID, "err", err)
		return Reply{Content: ReplyApology, Degraded: true, Workers: []WorkerName{name}}
	}
	metrics.WorkerCalls.WithLabelValues(string(name), "ok").Inc()

	var st turnState
	st.absorb(name, res)
	return st.reply(res.Content, res.Confidence)
}

var _ Orchestrator = (*SingleDispatcher)(nil)
