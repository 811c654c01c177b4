// Package admin serves the staff dashboard's live event feed.
package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"frontdesk/internal/bus"
	"frontdesk/internal/domain"
	"frontdesk/internal/metrics"
)

const (
	writeWait          = 5 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = pongWait * 9 / 10
	resubscribeBackoff = 2 * time.Second

	// AllTenants subscribes a dashboard to every tenant's events.
	AllTenants = "*"
)

// Config configures the hub.
type Config struct {
	Token  string // bearer token dashboards must present; empty disables the hub
	Bus    domain.MessageBus
	Logger *slog.Logger
}

// Hub relays system events to connected dashboards over websockets, each
// dashboard seeing only its tenant's events.
type Hub struct {
	token    string
	bus      domain.MessageBus
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	tenant string
	mu     sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		token:  cfg.Token,
		bus:    cfg.Bus,
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards authenticate with the bearer token, not cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades GET /admin/ws?tenant=<id> after checking the bearer token.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token == "" {
		http.Error(w, "admin feed disabled", http.StatusServiceUnavailable)
		return
	}
	if !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		http.Error(w, "tenant query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, tenant: tenant}
	h.add(c)
	h.logger.Info("dashboard connected", "tenant", tenant)

	defer func() {
		h.remove(c)
		conn.Close()
		h.logger.Info("dashboard disconnected", "tenant", tenant)
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.ping(c, done)

	// dashboards only listen; reading drives pongs and close frames
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("dashboard read error", "err", err)
			}
			return
		}
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) == 1
}

func (h *Hub) ping(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Run relays system events until ctx is cancelled, then closes every
// dashboard connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		err := h.bus.Subscribe(ctx, domain.ChannelSystemEvents, func(_ context.Context, _ string, payload []byte) {
			ev, err := bus.DecodeEvent(payload)
			if err != nil {
				h.logger.Warn("dropping undecodable system event", "err", err)
				return
			}
			h.broadcast(ev.TenantID, payload)
		})
		if ctx.Err() != nil {
			return nil
		}
		h.logger.Error("system events subscription ended, resubscribing", "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeBackoff):
		}
	}
}

func (h *Hub) broadcast(tenant string, payload []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.tenant == AllTenants || c.tenant == tenant {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			h.logger.Warn("dropping dashboard after failed write", "tenant", c.tenant, "err", err)
			h.remove(c)
			c.conn.Close()
		}
	}
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.AdminClients.Inc()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		metrics.AdminClients.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		metrics.AdminClients.Dec()
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		c.conn.Close()
	}
}
