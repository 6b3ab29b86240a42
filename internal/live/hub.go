// Package live hosts exit-intent detection for connected pages over a
// WebSocket. Each connection owns one coordinator; the page streams its DOM
// signals in and receives a show_popup frame when exit intent fires.
package live

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/clock"
	"github.com/p-blackswan/videofunnel/internal/exitintent"
	"github.com/p-blackswan/videofunnel/internal/metrics"
)

// Config bounds each session.
type Config struct {
	Settings        exitintent.Settings
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	HelloTimeout    time.Duration
	// AllowedOrigins lists accepted Origin headers; "*" accepts any. When
	// empty only same-host pages and clients without an Origin may connect.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	c.Settings = c.Settings.WithDefaults()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4096
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = 15 * time.Second
	}
	return c
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock driving detection timers.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithMetrics records session and fire counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// Hub accepts WebSocket sessions and tracks the live ones.
type Hub struct {
	cfg      Config
	kv       exitintent.KV
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
}

// NewHub creates a hub whose suppression records live in kv.
func NewHub(kv exitintent.KV, cfg Config, opts ...Option) *Hub {
	h := &Hub{
		cfg:      cfg.withDefaults(),
		kv:       kv,
		clock:    clock.New(),
		logger:   zerolog.Nop(),
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With().Str("component", "live_hub").Logger()
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if len(h.cfg.AllowedOrigins) == 0 {
		return sameHost(origin, r.Host)
	}
	for _, o := range h.cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func sameHost(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// ServeHTTP upgrades the request and runs the session until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(h, conn, r.UserAgent())
	if !h.add(s) {
		conn.Close()
		return
	}
	defer h.remove(s)

	s.run()
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	if h.metrics != nil {
		h.metrics.SessionOpened()
	}
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	if h.metrics != nil {
		h.metrics.SessionClosed()
	}
}

// Sessions returns the number of connected sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close rejects new sessions and disconnects the live ones. Their read
// loops observe the close and run Cleanup.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	live := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.close(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info().Int("sessions", len(live)).Msg("live hub closed")
}
