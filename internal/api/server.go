// Package api serves the lead capture REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/videofunnel/internal/metrics"
	"github.com/p-blackswan/videofunnel/internal/models"
	"github.com/p-blackswan/videofunnel/internal/notify"
	"github.com/p-blackswan/videofunnel/internal/requestid"
	"github.com/p-blackswan/videofunnel/internal/store"
)

// LeadRepository is the persistence the API needs.
type LeadRepository interface {
	CreateLead(ctx context.Context, l *models.Lead) error
	GetLead(ctx context.Context, id string) (*models.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (*models.Lead, error)
	MarkLeadConverted(ctx context.Context, id string, at time.Time) error
	ListLeads(ctx context.Context, f store.LeadFilter) ([]*models.Lead, error)
	CountLeads(ctx context.Context, f store.LeadFilter) (int, error)
	Ping(ctx context.Context) error
}

// ServerConfig holds configuration for the lead API server.
type ServerConfig struct {
	ListenAddr   string
	Environment  string
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	CORSOrigins  string
	MaxPageLimit int
}

// Server is the lead API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	limiter  *rateLimiter
	stop     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures the lead API server. notifier and m may
// be nil.
func NewServer(
	cfg ServerConfig,
	leads LeadRepository,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	if cfg.MaxPageLimit <= 0 {
		cfg.MaxPageLimit = 500
	}
	production := strings.EqualFold(cfg.Environment, "production")

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(production, logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             10 * 1024 * 1024,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app: app,
		handlers: &Handlers{
			leads:    leads,
			notifier: notifier,
			metrics:  m,
			validate: newValidator(),
			maxLimit: cfg.MaxPageLimit,
			now:      time.Now,
			logger:   logger.With().Str("component", "lead_api").Logger(),
		},
		stop:   make(chan struct{}),
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		go s.limiter.run(s.stop)
	}

	s.setupMiddleware(cfg, m)
	s.setupRoutes(cfg)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, HEAD, POST, OPTIONS",
		}))
	}

	// Request log and metrics, recorded after the handler ran.
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Run the error handler now so the logged status is the final one.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}
		status := c.Response().StatusCode()
		route := c.Route().Path
		elapsed := time.Since(start)

		if m != nil {
			m.RecordRequest(route, strconv.Itoa(status))
			m.ObserveDuration(route, elapsed.Seconds())
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", elapsed).
			Str("ip", c.IP()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("api request")
		return nil
	})
}

func (s *Server) setupRoutes(cfg ServerConfig) {
	h := s.handlers

	api := s.app.Group("/api")
	api.Get("/health", h.Health)

	if s.limiter != nil {
		api.Post("/leads", s.limiter.middleware(), h.CreateLead)
	} else {
		api.Post("/leads", h.CreateLead)
	}
	auth := NewAuthMiddleware(cfg.Auth, s.logger)
	admin := requireRole(RoleAdmin)
	api.Get("/leads", auth, admin, h.ListLeads)
	api.Get("/leads/:id", auth, admin, h.GetLead)
	api.Post("/leads/:id/convert", auth, admin, h.ConvertLead)

	s.app.Use(func(c *fiber.Ctx) error {
		return errorResponse(c, fiber.StatusNotFound, "", "Not Found")
	})
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":5000"
	}
	s.logger.Info().Str("addr", addr).Msg("lead API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("lead API server shutting down")
	s.stopOnce.Do(func() { close(s.stop) })
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(production bool, logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("request_id", requestid.FromFiber(c)).
			Msg("unhandled error")

		message := err.Error()
		if code == fiber.StatusInternalServerError && production {
			message = "Internal Server Error"
		}
		errCode := strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(code), " ", "_"))
		return errorResponse(c, code, errCode, message)
	}
}
