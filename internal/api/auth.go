package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Role defines the access level of an authenticated caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReadOnly Role = "readonly"
)

// AuthConfig holds admin authentication configuration.
type AuthConfig struct {
	Mode      string // "api-key", "jwt", "none"
	APIKey    string
	JWTSecret string
}

// AdminClaims are the claims an admin JWT must carry.
type AdminClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

var errNoBearer = errors.New("authorization header must use Bearer scheme")

// NewAuthMiddleware returns a Fiber middleware guarding admin routes.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals("role", RoleAdmin)
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Authorization header is required.")
		}
		token, err := bearerToken(authHeader)
		if err != nil {
			return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Authorization header must use Bearer scheme.")
		}

		var role Role
		switch cfg.Mode {
		case "api-key":
			if cfg.APIKey == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
				err = errors.New("invalid API key")
			} else {
				role = RoleAdmin
			}
		case "jwt":
			var claims *AdminClaims
			claims, err = ParseAdminToken(token, []byte(cfg.JWTSecret))
			if err == nil {
				role = claims.Role
			}
		default:
			err = fmt.Errorf("unsupported auth mode %q", cfg.Mode)
		}

		if err != nil {
			logger.Warn().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unauthorized admin request")
			return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials.")
		}

		c.Locals("role", role)
		return c.Next()
	}
}

// requireRole rejects callers below minRole.
func requireRole(minRole Role) fiber.Handler {
	roleLevel := map[Role]int{
		RoleReadOnly: 1,
		RoleAdmin:    2,
	}

	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(Role)
		if roleLevel[role] < roleLevel[minRole] {
			return errorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "Insufficient permissions for this operation.")
		}
		return c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errNoBearer
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}

// ParseAdminToken verifies an HS256 token and returns its claims. Tokens
// must carry an expiry.
func ParseAdminToken(token string, secret []byte) (*AdminClaims, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}
	return claims, nil
}

// IssueAdminToken signs an HS256 token for role, valid for ttl.
func IssueAdminToken(secret []byte, subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}
