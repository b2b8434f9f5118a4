package api

import "time"

// EntitlementResponse represents the complete entitlement state for a user
type EntitlementResponse struct {
	UserID        string                  `json:"user_id"`
	Tier          string                  `json:"tier"`
	Active        bool                    `json:"active"`
	TrialBoundary *time.Time              `json:"trial_boundary,omitempty"`
	Features      map[string]FeatureUsage `json:"features"`
}

// FeatureUsage represents quota information for a single feature
type FeatureUsage struct {
	Limit     int       `json:"limit"`      // Daily limit (-1 for unlimited, 0 for no access)
	Used      int       `json:"used"`       // Used amount for the current day
	Remaining int       `json:"remaining"`  // Remaining amount (-1 for unlimited)
	ResetTime time.Time `json:"reset_time"` // Next daily reset
}

// AccessResponse represents the access decision for a single feature
type AccessResponse struct {
	UserID    string    `json:"user_id"`
	Feature   string    `json:"feature"`
	HasAccess bool      `json:"has_access"`
	Tier      string    `json:"tier"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}
