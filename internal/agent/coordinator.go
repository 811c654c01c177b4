package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"frontdesk/internal/dialog"
	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

const (
	maxParallelWorkers  = 4
	coordinatorMaxToken = 1024
	coordinatorTemp     = 0.2
)

const repeatNote = "You are repeating a worker call you already made in this conversation turn. " +
	"It was not executed again. Do not call it again; write your final answer using the information already gathered."

// Coordinator is the multi-worker orchestrator: a bounded loop in which the
// reasoning engine may call several workers per iteration before writing the
// final reply.
type Coordinator struct {
	guard
	provider      domain.Provider
	registry      *Registry
	profiles      map[WorkerName]WorkerProfile
	maxIterations int
	engineTimeout time.Duration
	workerTimeout time.Duration
}

func NewCoordinator(cfg OrchestratorConfig) *Coordinator {
	c := &Coordinator{
		guard:         newGuard(cfg),
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		profiles:      cfg.Profiles,
		maxIterations: cfg.MaxIterations,
		engineTimeout: cfg.EngineTimeout,
		workerTimeout: cfg.WorkerTimeout,
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.profiles == nil {
		c.profiles = DefaultProfiles()
	}
	if c.maxIterations <= 0 {
		c.maxIterations = defaultMaxIterations
	}
	if c.engineTimeout <= 0 {
		c.engineTimeout = defaultEngineTimeout
	}
	if c.workerTimeout <= 0 {
		c.workerTimeout = defaultWorkerTimeout
	}
	return c
}

func (c *Coordinator) Handle(ctx context.Context, msg domain.InboundMessage) Reply {
	if r, done := c.preflight(ctx, msg); done {
		return r
	}

	transcript := []domain.Message{
		{Role: "system", Content: c.systemPrompt(msg)},
		{Role: "user", Content: msg.Content},
	}
	// signature -> observation of the first call
	seen := make(map[string]string)
	var st turnState

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		content, err := c.ask(ctx, transcript)
		if err != nil {
			metrics.OrchestratorIterations.Observe(float64(iteration))
			c.logger.Error("reasoning engine failed", "tenant", msg.TenantID, "iteration", iteration, "err", err)
			r := st.reply(ReplyApology, 0)
			r.Degraded = true
			return r
		}

		directives := parseDirectives(content)
		if len(directives) == 0 {
			metrics.OrchestratorIterations.Observe(float64(iteration))
			final := stripRolePrefix(content)
			if final == "" {
				r := st.reply(ReplyApology, 0)
				r.Degraded = true
				return r
			}
			return st.reply(final, 1.0)
		}

		var unique []Directive
		var repeats []string
		for _, d := range directives {
			sig := d.signature()
			if _, ok := seen[sig]; ok {
				repeats = append(repeats, sig)
				metrics.WorkerCalls.WithLabelValues(metricWorker(d.Worker), "duplicate").Inc()
				c.logger.Debug("skipping repeated worker call", "worker", d.Worker, "iteration", iteration)
				continue
			}
			seen[sig] = ""
			unique = append(unique, d)
		}

		observations := c.execute(ctx, msg, unique, &st)
		for i, d := range unique {
			seen[d.signature()] = observations[i]
		}
		if len(repeats) > 0 {
			for _, sig := range repeats {
				observations = append(observations, "Already answered earlier. "+seen[sig])
			}
			observations = append(observations, repeatNote)
		}
		transcript = append(transcript,
			domain.Message{Role: "assistant", Content: content},
			domain.Message{Role: "user", Content: strings.Join(observations, "\n\n")},
		)
	}

	metrics.OrchestratorIterations.Observe(float64(c.maxIterations))
	c.logger.Warn("orchestrator iteration bound reached", "tenant", msg.TenantID, "max", c.maxIterations)
	return st.reply(ReplyStillGathering, 0.5)
}

// ask runs one engine call under the engine timeout.
func (c *Coordinator) ask(ctx context.Context, transcript []domain.Message) (string, error) {
	if c.provider == nil {
		return "", errors.New("no reasoning engine configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.engineTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages:    transcript,
		MaxTokens:   coordinatorMaxToken,
		Temperature: coordinatorTemp,
	})
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.EngineLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

type workerOutcome struct {
	name        WorkerName
	result      *domain.WorkerResult
	observation string
}

// execute runs the directives in parallel and returns their observations in
// directive order.
func (c *Coordinator) execute(ctx context.Context, msg domain.InboundMessage, directives []Directive, st *turnState) []string {
	outcomes := make([]workerOutcome, len(directives))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWorkers)
	for i, d := range directives {
		i, d := i, d
		g.Go(func() error {
			outcomes[i] = c.call(gctx, msg, d)
			return nil
		})
	}
	_ = g.Wait()

	observations := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.result != nil {
			st.absorb(o.name, o.result)
		}
		observations = append(observations, o.observation)
	}
	return observations
}

func (c *Coordinator) call(ctx context.Context, msg domain.InboundMessage, d Directive) workerOutcome {
	name, w, err := c.registry.Lookup(d.Worker)
	if err != nil {
		metrics.WorkerCalls.WithLabelValues("unknown", "unknown").Inc()
		c.logger.Warn("engine called an unknown worker", "worker", d.Worker, "tenant", msg.TenantID)
		return workerOutcome{observation: fmt.Sprintf("Observation from %s: worker not found. Available workers: %s.", d.Worker, c.workerList())}
	}

	ctx, cancel := context.WithTimeout(ctx, c.workerTimeout)
	defer cancel()
	res, err := w.Handle(ctx, msg.WithContent(d.Query))
	if err != nil || res == nil {
		metrics.WorkerCalls.WithLabelValues(string(name), "error").Inc()
		c.logger.Error("worker failed", "worker", name, "tenant", msg.TenantID, "err", err)
		return workerOutcome{name: name, observation: fmt.Sprintf("Observation from %s: the worker could not answer right now.", name)}
	}
	metrics.WorkerCalls.WithLabelValues(string(name), "ok").Inc()
	return workerOutcome{
		name:        name,
		result:      res,
		observation: fmt.Sprintf("Observation from %s (confidence %.2f): %s", name, res.Confidence, res.Content),
	}
}

func (c *Coordinator) workerList() string {
	names := c.registry.Names()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

func (c *Coordinator) systemPrompt(msg domain.InboundMessage) string {
	var b strings.Builder
	b.WriteString("You coordinate the front desk of a fitness studio. You can consult these workers:\n")
	for _, name := range WorkerNames {
		if _, err := c.registry.Get(name); err != nil {
			continue
		}
		desc := c.profiles[name].Description
		if desc == "" {
			desc = string(name)
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, desc)
	}
	b.WriteString("\nTo consult a worker write callWorker(name, \"question\") on its own line. ")
	b.WriteString("You may consult several workers at once. Once you have what you need, ")
	b.WriteString("answer the member directly, without any callWorker line, in the member's language.")
	if dc := dialog.FromMetadata(msg); len(dc) > 0 {
		if raw, err := json.Marshal(dc); err == nil {
			b.WriteString("\n\nState carried over from the previous turn: ")
			b.Write(raw)
		}
	}
	return b.String()
}

// metricWorker keeps the worker label bounded to known names.
func metricWorker(raw string) string {
	name, err := ParseWorkerName(raw)
	if err != nil {
		return "unknown"
	}
	return string(name)
}

var _ Orchestrator = (*Coordinator)(nil)
