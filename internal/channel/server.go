package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"frontdesk/internal/bus"
	"frontdesk/internal/config"
	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

// MaxBodyBytes caps every webhook body.
const MaxBodyBytes = 1 << 20

// TenantResolver maps the tenant slug in a webhook URL to a tenant id.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, slug string) (string, error)
}

// ServerConfig wires the ingress server.
type ServerConfig struct {
	Env              string
	PublicURL        string // external base URL; Twilio signs the URL it called
	MetricsPath      string
	SenderRatePerMin int
	Channels         config.ChannelsConfig
	Tenants          TenantResolver
	Bus              domain.MessageBus
	Admin            http.Handler // mounted at /admin/ws when set
	Logger           *slog.Logger
}

// Server receives platform webhooks, normalizes them and hands them to the
// bus. It never runs the orchestrator itself.
type Server struct {
	cfg     ServerConfig
	limiter *SenderLimiter
	logger  *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Server{
		cfg:     cfg,
		limiter: NewSenderLimiter(cfg.SenderRatePerMin),
		logger:  cfg.Logger,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metrics.Middleware)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	if s.cfg.Admin != nil {
		r.Handle("/admin/ws", s.cfg.Admin)
	}

	r.Route("/webhooks/{tenant}", func(r chi.Router) {
		r.Use(s.resolveTenant)
		r.Get("/whatsapp", s.handleWhatsAppHandshake)
		r.Post("/{platform}", s.handleWebhook)
	})
	return r
}

type tenantCtxKey struct{}

func tenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantCtxKey{}).(string)
	return id
}

func (s *Server) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "tenant")
		id, err := s.cfg.Tenants.ResolveTenant(r.Context(), slug)
		switch {
		case errors.Is(err, domain.ErrTenantNotFound), errors.Is(err, domain.ErrMissingTenant):
			writeError(w, http.StatusNotFound, "unknown tenant")
			return
		case err != nil:
			s.logger.Error("tenant lookup failed", "tenant", slug, "err", err)
			writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantCtxKey{}, id)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if !s.cfg.Bus.HealthCheck(ctx) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "bus": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhatsAppHandshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := s.cfg.Channels.WhatsApp.VerifyToken
	if q.Get("hub.mode") == "subscribe" && token != "" &&
		subtle.ConstantTimeCompare([]byte(q.Get("hub.verify_token")), []byte(token)) == 1 {
		s.logger.Info("whatsapp webhook verified", "tenant", tenantFrom(r.Context()))
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, html.EscapeString(q.Get("hub.challenge")))
		return
	}
	s.logger.Warn("whatsapp webhook verification failed", "mode", q.Get("hub.mode"))
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (s *Server) enabled(p domain.Platform) bool {
	ch := s.cfg.Channels
	switch p {
	case domain.PlatformWhatsApp:
		return ch.WhatsApp.Enabled
	case domain.PlatformTelegram:
		return ch.Telegram.Enabled
	case domain.PlatformSMS:
		return ch.SMS.Enabled
	case domain.PlatformEmail:
		return ch.Email.Enabled
	case domain.PlatformVoice:
		return ch.Voice.Enabled
	}
	return false
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform, ok := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if !ok || !s.enabled(platform) {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}
	tenantID := tenantFrom(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if status, ok := s.verify(r, platform, body); !ok {
		s.logger.Warn("webhook signature rejected", "tenant", tenantID, "platform", platform, "status", status)
		metrics.MessagesTotal.WithLabelValues(string(platform), "bad_signature").Inc()
		writeError(w, status, "invalid signature")
		return
	}

	msgs, err := decode(platform, body)
	if err != nil {
		s.logger.Warn("webhook payload rejected", "tenant", tenantID, "platform", platform, "err", err)
		metrics.MessagesTotal.WithLabelValues(string(platform), "malformed").Inc()
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	if len(msgs) == 0 {
		metrics.MessagesTotal.WithLabelValues(string(platform), "ignored").Inc()
		s.ack(w, platform, "ignored", 0)
		return
	}

	accepted, limited := 0, 0
	for _, msg := range msgs {
		msg.TenantID = tenantID
		msg = msg.WithMetadata(map[string]string{domain.MetaTenantID: tenantID})

		if !s.limiter.Allow(tenantID + "|" + string(platform) + "|" + msg.SenderID) {
			limited++
			metrics.RateLimitHits.WithLabelValues(string(platform)).Inc()
			continue
		}
		s.enqueue(r.Context(), msg)
		accepted++
	}

	if accepted == 0 && limited > 0 {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}
	s.ack(w, platform, "accepted", accepted)
}

// enqueue hands msg to the bus. Failures are logged and the webhook is still
// acknowledged so the platform does not retry into an outage.
func (s *Server) enqueue(ctx context.Context, msg domain.InboundMessage) {
	var err error
	if NeedsTranscription(msg) {
		var payload []byte
		if payload, err = json.Marshal(msg); err == nil {
			_, err = s.cfg.Bus.PushQueue(ctx, domain.QueueVoice, payload)
		}
	} else {
		_, err = bus.PublishInbound(ctx, s.cfg.Bus, msg)
	}
	if err != nil {
		s.logger.Error("inbound publish failed",
			"tenant", msg.TenantID, "platform", msg.Platform, "sender", msg.SenderID, "err", err)
		metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "publish_failed").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Platform), "accepted").Inc()
}

// verify applies the platform's signature scheme. A configured secret makes
// a present header mandatory to validate; a missing header is only fatal in
// production.
func (s *Server) verify(r *http.Request, p domain.Platform, body []byte) (int, bool) {
	ch := s.cfg.Channels
	var secret, header string
	var check func() bool

	switch p {
	case domain.PlatformWhatsApp:
		secret, header = ch.WhatsApp.AppSecret, r.Header.Get(HeaderHubSignature)
		check = func() bool { return VerifySHA256Hex(secret, body, header) }
	case domain.PlatformTelegram:
		secret, header = ch.Telegram.SecretToken, r.Header.Get(HeaderTelegramSecret)
		check = func() bool { return VerifySecretToken(secret, header) }
	case domain.PlatformSMS:
		secret, header = ch.SMS.AuthToken, r.Header.Get(HeaderTwilioSignature)
		check = func() bool {
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return false
			}
			return VerifyTwilio(secret, s.requestURL(r), form, header)
		}
	case domain.PlatformEmail:
		secret, header = ch.Email.SigningSecret, r.Header.Get(HeaderFrontdeskSignature)
		check = func() bool { return VerifySHA256Hex(secret, body, header) }
	case domain.PlatformVoice:
		secret, header = ch.Voice.SigningSecret, r.Header.Get(HeaderFrontdeskSignature)
		check = func() bool { return VerifySHA256Hex(secret, body, header) }
	}

	if secret == "" {
		return http.StatusOK, true
	}
	if header == "" {
		if Required(s.cfg.Env, secret) {
			return http.StatusUnauthorized, false
		}
		return http.StatusOK, true
	}
	if !check() {
		return http.StatusForbidden, false
	}
	return http.StatusOK, true
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func decode(p domain.Platform, body []byte) ([]domain.InboundMessage, error) {
	one := func(m *domain.InboundMessage) []domain.InboundMessage {
		if m == nil {
			return nil
		}
		return []domain.InboundMessage{*m}
	}

	switch p {
	case domain.PlatformWhatsApp:
		var payload WhatsAppPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return NormalizeWhatsAppBatch(payload), nil
	case domain.PlatformTelegram:
		var update tgbotapi.Update
		if err := json.Unmarshal(body, &update); err != nil {
			return nil, err
		}
		return one(NormalizeTelegram(update)), nil
	case domain.PlatformSMS:
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		return one(NormalizeSMS(form)), nil
	case domain.PlatformEmail:
		var payload EmailPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return one(NormalizeEmail(payload)), nil
	case domain.PlatformVoice:
		var payload VoicePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return one(NormalizeVoice(payload)), nil
	}
	return nil, fmt.Errorf("unsupported platform %q", p)
}

func (s *Server) ack(w http.ResponseWriter, p domain.Platform, status string, n int) {
	if p == domain.PlatformSMS {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "<Response></Response>")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "count": n})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
