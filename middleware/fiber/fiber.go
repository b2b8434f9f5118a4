// Package fiber provides Fiber middleware for entitlement enforcement.
package fiber

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *fiber.Ctx) string

// FeatureExtractor extracts the metered feature for a request.
type FeatureExtractor func(c *fiber.Ctx) entitlement.Feature

// Config holds middleware configuration.
type Config struct {
	// Gate is the entitlement gate instance (required).
	Gate *entitlement.Gate

	// GetUserID extracts the user ID from the context (required).
	GetUserID UserIDExtractor

	// GetFeature extracts the feature for the request (required).
	GetFeature FeatureExtractor

	// DeniedStatusCode is the HTTP status returned when access is denied.
	// Default: 429 (Too Many Requests).
	DeniedStatusCode int

	// OnDenied is called when access is denied.
	// If nil, a JSON payload with the access details is written.
	OnDenied func(c *fiber.Ctx, access *entitlement.Access) error

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that enforces feature entitlements.
// CheckAccess runs before the handler; TrackUsage runs after it, and only
// when the handler responded successfully.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Gate == nil {
		panic("entitlement/fiber: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlement/fiber: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlement/fiber: Config.GetFeature is required")
	}
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = fiber.StatusTooManyRequests
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		feature := cfg.GetFeature(c)
		ctx := c.UserContext()

		access := cfg.Gate.CheckAccess(ctx, userID, feature)
		setQuotaHeaders(c, access)
		if !access.HasAccess {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, access)
			}
			return c.Status(cfg.DeniedStatusCode).JSON(fiber.Map{
				"error":  "quota exceeded",
				"access": access,
			})
		}

		if err := c.Next(); err != nil {
			return err
		}

		if c.Response().StatusCode() < http.StatusBadRequest {
			cfg.Gate.TrackUsage(ctx, userID, feature)
		}
		return nil
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromLocals returns a UserIDExtractor that gets the user ID from Fiber
// locals (set by an upstream auth middleware via c.Locals).
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature entitlement.Feature) FeatureExtractor {
	return func(*fiber.Ctx) entitlement.Feature {
		return feature
	}
}

func setQuotaHeaders(c *fiber.Ctx, access *entitlement.Access) {
	c.Set("X-Quota-Limit", strconv.Itoa(access.Limit))
	c.Set("X-Quota-Remaining", strconv.Itoa(access.Remaining))
	if !access.ResetTime.IsZero() {
		c.Set("X-Quota-Reset", strconv.FormatInt(access.ResetTime.Unix(), 10))
	}
}
