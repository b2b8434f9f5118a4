// Package echo provides Echo middleware for entitlement enforcement.
package echo

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c echo.Context) string

// FeatureExtractor extracts the metered feature for a request.
type FeatureExtractor func(c echo.Context) entitlement.Feature

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
	OnDenied func(c echo.Context, access *entitlement.Access) error

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that enforces feature entitlements.
// CheckAccess runs before the handler; TrackUsage runs after it, and only
// when the handler responded successfully.
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Gate == nil {
		panic("entitlement/echo: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlement/echo: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlement/echo: Config.GetFeature is required")
	}
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusTooManyRequests
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			feature := cfg.GetFeature(c)
			ctx := c.Request().Context()

			access := cfg.Gate.CheckAccess(ctx, userID, feature)
			setQuotaHeaders(c, access)
			if !access.HasAccess {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, access)
				}
				return c.JSON(cfg.DeniedStatusCode, map[string]interface{}{
					"error":  "quota exceeded",
					"access": access,
				})
			}

			if err := next(c); err != nil {
				return err
			}

			if c.Response().Status < http.StatusBadRequest {
				cfg.Gate.TrackUsage(ctx, userID, feature)
			}
			return nil
		}
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromEchoContext returns a UserIDExtractor that gets the user ID from the
// Echo context (set by an upstream auth middleware via c.Set).
func FromEchoContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if userID, ok := c.Get(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature entitlement.Feature) FeatureExtractor {
	return func(echo.Context) entitlement.Feature {
		return feature
	}
}

func setQuotaHeaders(c echo.Context, access *entitlement.Access) {
	h := c.Response().Header()
	h.Set("X-Quota-Limit", strconv.Itoa(access.Limit))
	h.Set("X-Quota-Remaining", strconv.Itoa(access.Remaining))
	if !access.ResetTime.IsZero() {
		h.Set("X-Quota-Reset", strconv.FormatInt(access.ResetTime.Unix(), 10))
	}
}
