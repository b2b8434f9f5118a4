package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for entitlement and usage inspection
type Handler struct {
	config Config
}

// GetEntitlement returns the user's resolved tier and per-feature quota
// standing as a standardized JSON response.
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	started := time.Now()

	// 1. Extract User ID
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	// 2. Resolve the effective entitlement
	ent, err := h.config.Gate.Entitlement(ctx, userID)
	h.config.Metrics.RecordStorageOperation("api_get_entitlement", time.Since(started), err)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to get entitlement: %w", err), http.StatusInternalServerError)
		return
	}

	// 3. Select features to include
	features := entitlement.Features
	if h.config.FeatureFilter != nil {
		features = h.config.FeatureFilter(features)
	}

	// 4. Construct and send response
	response := EntitlementResponse{
		UserID:        ent.UserID,
		Tier:          string(ent.Tier),
		Active:        ent.Active,
		TrialBoundary: ent.TrialBoundary,
		Features:      make(map[string]FeatureUsage, len(features)),
	}
	for _, feature := range features {
		fu, ok := ent.Features[feature]
		if !ok {
			continue
		}
		response.Features[string(feature)] = FeatureUsage{
			Limit:     fu.Limit,
			Used:      fu.Used,
			Remaining: fu.Remaining,
			ResetTime: fu.ResetTime,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Log encoding error but response already sent
		return
	}
}

// GetAccess returns the access decision for a single feature, read from the
// "feature" query parameter. It never consumes quota.
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	feature := entitlement.Feature(r.URL.Query().Get("feature"))
	if !feature.Valid() {
		h.handleError(w, r, fmt.Errorf("unknown feature %q", feature), http.StatusBadRequest)
		return
	}

	access := h.config.Gate.CheckAccess(r.Context(), userID, feature)
	response := AccessResponse{
		UserID:    userID,
		Feature:   string(feature),
		HasAccess: access.HasAccess,
		Tier:      string(access.Tier),
		Used:      access.Used,
		Limit:     access.Limit,
		Remaining: access.Remaining,
		ResetTime: access.ResetTime,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	// Default error handling
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		// Log encoding error but response already sent
		_ = encodeErr
	}
}
