package entitlement

import "errors"

var (
	// ErrQuotaExceeded is returned by UsageStore.RecordUse when the stored
	// count has already reached the limit.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidTier is returned for a tier the catalog does not know.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidFeature is returned for a feature the catalog does not know.
	ErrInvalidFeature = errors.New("invalid feature type")

	// ErrUserNotFound is returned when no subscription snapshot exists for
	// the user.
	ErrUserNotFound = errors.New("user not found")

	// ErrStorageUnavailable is returned when the usage store cannot be
	// reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
