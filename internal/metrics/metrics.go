package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontdesk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Pipeline metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_messages_total",
			Help: "Inbound messages by platform and outcome",
		},
		[]string{"platform", "outcome"}, // published, ignored, rejected, replied, gated, handoff, failed
	)

	VerificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_verification_total",
			Help: "Verification gate results",
		},
		[]string{"result"},
	)

	OrchestratorIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frontdesk_orchestrator_iterations",
			Help:    "Reasoning iterations used per turn",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	WorkerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_worker_calls_total",
			Help: "Worker invocations by worker and outcome",
		},
		[]string{"worker", "outcome"}, // ok, error, unknown, duplicate
	)

	EngineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontdesk_engine_latency_seconds",
			Help:    "Reasoning engine call latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
		},
		[]string{"outcome"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_dispatch_failures_total",
			Help: "Outbound delivery failures by platform",
		},
		[]string{"platform"},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_side_effect_failures_total",
			Help: "Best-effort background task failures",
		},
		[]string{"task"},
	)

	VoiceJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_voice_jobs_total",
			Help: "Voice queue jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdesk_rate_limit_hits_total",
			Help: "Requests rejected by the per-sender limiter",
		},
		[]string{"platform"},
	)

	AdminClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "frontdesk_admin_clients",
			Help: "Connected admin dashboard websockets",
		},
	)
)

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
