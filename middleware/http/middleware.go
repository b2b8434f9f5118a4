// Package http provides net/http middleware for entitlement enforcement.
//
// The middleware mirrors the engine's intended control flow: CheckAccess runs
// before the wrapped handler, and TrackUsage runs only after the handler
// responded successfully, so a failed AI operation does not consume quota.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// FeatureExtractor extracts the metered feature for an HTTP request,
// for example entitlement.FeatureAIChat for the AI chat endpoint.
type FeatureExtractor func(r *http.Request) entitlement.Feature

// Config holds middleware configuration.
type Config struct {
	// Gate is the entitlement gate instance (required).
	Gate *entitlement.Gate

	// GetUserID extracts the user ID from the request (required).
	GetUserID UserIDExtractor

	// GetFeature extracts the feature for the request (required).
	GetFeature FeatureExtractor

	// DeniedStatusCode is the HTTP status returned when access is denied.
	// Default: 429 (Too Many Requests).
	DeniedStatusCode int

	// OnDenied is called when access is denied.
	// If nil, a JSON payload with the access details is written.
	OnDenied func(w http.ResponseWriter, r *http.Request, access *entitlement.Access)

	// OnUnauthorized is called when the user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that enforces feature entitlements.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.Gate == nil {
		panic("entitlement/http: Config.Gate is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlement/http: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlement/http: Config.GetFeature is required")
	}
	if cfg.DeniedStatusCode == 0 {
		cfg.DeniedStatusCode = http.StatusTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := cfg.GetUserID(r)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					cfg.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			feature := cfg.GetFeature(r)
			ctx := r.Context()

			access := cfg.Gate.CheckAccess(ctx, userID, feature)
			if !access.HasAccess {
				if cfg.OnDenied != nil {
					cfg.OnDenied(w, r, access)
				} else {
					writeDenied(w, cfg.DeniedStatusCode, access)
				}
				return
			}

			setQuotaHeaders(w.Header(), access)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// Only a successful downstream response consumes quota.
			if rec.status < http.StatusBadRequest {
				cfg.Gate.TrackUsage(ctx, userID, feature)
			}
		})
	}
}

func setQuotaHeaders(h http.Header, access *entitlement.Access) {
	h.Set("X-Quota-Limit", strconv.Itoa(access.Limit))
	h.Set("X-Quota-Remaining", strconv.Itoa(access.Remaining))
	if !access.ResetTime.IsZero() {
		h.Set("X-Quota-Reset", strconv.FormatInt(access.ResetTime.Unix(), 10))
	}
}

func writeDenied(w http.ResponseWriter, statusCode int, access *entitlement.Access) {
	setQuotaHeaders(w.Header(), access)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	//nolint:errcheck // Nothing sensible to do with a write error here
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "quota exceeded",
		"access": access,
	})
}

// ContextKey is the type used for context keys in this package.
type ContextKey string

// UserIDKey is the default context key for the authenticated user ID.
const UserIDKey ContextKey = "entitlement_user_id"

// FromContext returns a UserIDExtractor that gets the user ID from the
// request context.
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets the user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns the same feature
func FixedFeature(feature entitlement.Feature) FeatureExtractor {
	return func(r *http.Request) entitlement.Feature {
		return feature
	}
}

// WithUserID adds the user ID to the request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// statusRecorder captures the downstream status code so the middleware can
// decide whether to record usage.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}
