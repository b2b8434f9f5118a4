package entitlement

import "time"

// Metrics defines the interface for tracking gate operations and storage
// performance.
type Metrics interface {
	// RecordAccessCheck records the outcome and latency of a CheckAccess call.
	RecordAccessCheck(feature, tier string, granted bool, duration time.Duration)

	// RecordTrack records a TrackUsage attempt and whether it was accepted.
	RecordTrack(feature, tier string, accepted bool)

	// RecordStorageOperation records the duration and status of a storage
	// operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCacheHit records a snapshot cache hit.
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a snapshot cache miss.
	RecordCacheMiss(cacheType string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAccessCheck(feature, tier string, granted bool, duration time.Duration) {}
func (n *NoopMetrics) RecordTrack(feature, tier string, accepted bool)                              {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error)   {}
func (n *NoopMetrics) RecordCacheHit(cacheType string)                                              {}
func (n *NoopMetrics) RecordCacheMiss(cacheType string)                                             {}
