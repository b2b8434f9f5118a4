// Package gin provides Gin middleware for entitlement enforcement.
package gin

import (
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// FeatureExtractor extracts the metered feature for a request.
type FeatureExtractor func(c *gongin.Context) entitlement.Feature

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
	OnDenied func(c *gongin.Context, access *entitlement.Access)

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that enforces feature entitlements.
// CheckAccess runs before the handler chain; TrackUsage runs after it, and
// only when the handler responded successfully.
func Middleware(cfg Config) gongin.HandlerFunc {
	if cfg.Gate == nil {
		panic("entitlement/gin: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlement/gin: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlement/gin: Config.GetFeature is required")
	}
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusTooManyRequests
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		feature := cfg.GetFeature(c)
		ctx := c.Request.Context()

		access := cfg.Gate.CheckAccess(ctx, userID, feature)
		if !access.HasAccess {
			setQuotaHeaders(c, access)
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, access)
			} else {
				c.JSON(cfg.DeniedStatusCode, gongin.H{
					"error":  "quota exceeded",
					"access": access,
				})
			}
			c.Abort()
			return
		}

		setQuotaHeaders(c, access)
		c.Next()

		if c.Writer.Status() < http.StatusBadRequest {
			cfg.Gate.TrackUsage(ctx, userID, feature)
		}
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromGinContext returns a UserIDExtractor that gets the user ID from the
// Gin context (set by an upstream auth middleware via c.Set).
func FromGinContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, ok := c.Get(key); ok {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature entitlement.Feature) FeatureExtractor {
	return func(*gongin.Context) entitlement.Feature {
		return feature
	}
}

func setQuotaHeaders(c *gongin.Context, access *entitlement.Access) {
	c.Header("X-Quota-Limit", strconv.Itoa(access.Limit))
	c.Header("X-Quota-Remaining", strconv.Itoa(access.Remaining))
	if !access.ResetTime.IsZero() {
		c.Header("X-Quota-Reset", strconv.FormatInt(access.ResetTime.Unix(), 10))
	}
}
