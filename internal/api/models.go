package api

import (
	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/videofunnel/internal/errors"
)

// Response is the success envelope every lead endpoint returns.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Count   *int        `json:"count,omitempty"`
	Total   *int        `json:"total,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Message string               `json:"message"`
	Code    string               `json:"code,omitempty"`
	Details []perrors.FieldError `json:"details,omitempty"`
}

// CreateLeadRequest is the body of POST /api/leads.
type CreateLeadRequest struct {
	Email     string            `json:"email" validate:"required,email,max=254"`
	FirstName string            `json:"firstName" validate:"max=50"`
	Source    string            `json:"source" validate:"omitempty,oneof=landing_page exit_intent training_video external manual"`
	Referrer  string            `json:"referrer" validate:"omitempty,max=2048"`
	Tags      []string          `json:"tags" validate:"max=20,dive,max=50"`
	Metadata  map[string]string `json:"metadata" validate:"max=50,dive,keys,max=64,endkeys,max=1024"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	DBStatus  string `json:"db_status"`
}

// errorResponse writes the failure envelope.
func errorResponse(c *fiber.Ctx, status int, code, message string, details ...perrors.FieldError) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{Message: message, Code: code, Details: details},
	})
}
