package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/videofunnel/internal/errors"
	"github.com/p-blackswan/videofunnel/internal/metrics"
	"github.com/p-blackswan/videofunnel/internal/models"
	"github.com/p-blackswan/videofunnel/internal/notify"
	"github.com/p-blackswan/videofunnel/internal/requestid"
	"github.com/p-blackswan/videofunnel/internal/store"
)

// Handlers contains the HTTP handlers for the lead API.
type Handlers struct {
	leads    LeadRepository
	notifier notify.Notifier
	metrics  *metrics.Metrics
	validate *validator.Validate
	maxLimit int
	now      func() time.Time
	logger   zerolog.Logger
}

// Health handles GET /api/health. It reports 200 even when the database is
// unreachable; db_status carries the difference.
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	dbStatus := "connected"
	if err := h.leads.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("database ping failed")
		dbStatus = "disconnected"
	}

	return c.JSON(HealthResponse{
		Status:    "UP",
		Message:   "Backend server is running.",
		Timestamp: h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		DBStatus:  dbStatus,
	})
}

// CreateLead handles POST /api/leads.
func (h *Handlers) CreateLead(c *fiber.Ctx) error {
	var req CreateLeadRequest
	if err := c.BodyParser(&req); err != nil {
		h.recordLead("", "rejected")
		return errorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON object.")
	}

	req.Email = models.NormalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.Source = strings.TrimSpace(req.Source)
	req.Referrer = strings.TrimSpace(req.Referrer)
	if req.Referrer == "" {
		req.Referrer = c.Get(fiber.HeaderReferer)
	}

	if err := validateStruct(h.validate, &req); err != nil {
		h.recordLead("", "rejected")
		var ve *perrors.ValidationError
		if errors.As(err, &ve) {
			return errorResponse(c, fiber.StatusBadRequest, "VALIDATION_ERROR", validationMessage(ve), ve.Fields...)
		}
		return err
	}

	ctx := c.UserContext()
	existing, err := h.leads.GetLeadByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if existing != nil {
		h.logger.Info().Str("lead_id", existing.ID).Msg("lead already exists")
		h.recordLead(string(existing.Source), "existing")
		return c.Status(fiber.StatusOK).JSON(Response{
			Success: true,
			Message: "Lead already exists.",
			Data:    existing,
		})
	}

	source := models.LeadSource(req.Source)
	if source == "" {
		source = models.DefaultLeadSource
	}
	now := h.now().UTC()
	lead := &models.Lead{
		ID:          uuid.New().String(),
		Email:       req.Email,
		FirstName:   req.FirstName,
		Source:      source,
		CaptureDate: now,
		IPAddress:   c.IP(),
		UserAgent:   strings.TrimSpace(c.Get(fiber.HeaderUserAgent)),
		Referrer:    req.Referrer,
		Tags:        models.NormalizeTags(req.Tags),
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}

	if err := h.leads.CreateLead(ctx, lead); err != nil {
		if errors.Is(err, perrors.ErrConflict) {
			h.recordLead(string(source), "existing")
			return errorResponse(c, fiber.StatusConflict, "EMAIL_EXISTS", "Email already subscribed.")
		}
		return err
	}

	h.recordLead(string(source), "created")
	h.logger.Info().
		Str("lead_id", lead.ID).
		Str("source", string(source)).
		Str("request_id", requestid.FromFiber(c)).
		Msg("lead created")

	if h.notifier != nil {
		if err := h.notifier.LeadCaptured(ctx, lead); err != nil {
			h.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("lead notification failed")
			if h.metrics != nil {
				h.metrics.RecordError("notify", "lead_captured")
			}
		}
	}

	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: lead})
}

// ListLeads handles GET /api/leads. Results are newest first.
func (h *Handlers) ListLeads(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", h.maxLimit)
	offset := c.QueryInt("offset", 0)
	if limit < 1 || offset < 0 {
		return errorResponse(c, fiber.StatusBadRequest, "VALIDATION_ERROR",
			"limit must be positive and offset must not be negative.")
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	filter := store.LeadFilter{Limit: limit, Offset: offset}
	if src := c.Query("source"); src != "" {
		filter.Source = models.LeadSource(src)
		if !filter.Source.Valid() {
			return errorResponse(c, fiber.StatusBadRequest, "VALIDATION_ERROR",
				"Lead source must be one of the predefined values.")
		}
	}

	leads, err := h.leads.ListLeads(c.UserContext(), filter)
	if err != nil {
		return err
	}
	total, err := h.leads.CountLeads(c.UserContext(), filter)
	if err != nil {
		return err
	}
	count := len(leads)
	return c.JSON(Response{Success: true, Count: &count, Total: &total, Data: leads})
}

// GetLead handles GET /api/leads/:id.
func (h *Handlers) GetLead(c *fiber.Ctx) error {
	lead, err := h.leads.GetLead(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if lead == nil {
		return errorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Lead not found.")
	}
	return c.JSON(Response{Success: true, Data: lead})
}

// ConvertLead handles POST /api/leads/:id/convert. Converting an already
// converted lead succeeds and keeps the first conversion date.
func (h *Handlers) ConvertLead(c *fiber.Ctx) error {
	id := c.Params("id")
	err := h.leads.MarkLeadConverted(c.UserContext(), id, h.now().UTC())
	if errors.Is(err, perrors.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Lead not found.")
	}
	if err != nil {
		return err
	}

	lead, err := h.leads.GetLead(c.UserContext(), id)
	if err != nil {
		return err
	}
	if lead == nil {
		return errorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Lead not found.")
	}
	h.recordLead(string(lead.Source), "converted")
	h.logger.Info().Str("lead_id", lead.ID).Msg("lead converted")
	return c.JSON(Response{Success: true, Message: "Lead marked as converted.", Data: lead})
}

func (h *Handlers) recordLead(source, result string) {
	if h.metrics == nil {
		return
	}
	if source == "" {
		source = "unknown"
	}
	h.metrics.RecordLead(source, result)
}
