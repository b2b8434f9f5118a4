// Package tiered provides a Hot/Cold tiered storage adapter that pairs fast
// ephemeral storage (Hot, e.g. Redis) with durable persistent storage (Cold,
// e.g. PostgreSQL or Firestore).
//
// Strategies per operation:
//   - Snapshots: read-through (Hot, then Cold with read-repair) and
//     write-through (Cold first, then Hot).
//   - RecordUse: Hot only. The atomic limit decision must happen in exactly
//     one store; the accepted increment is then mirrored to Cold, either
//     synchronously or through the async worker, as unconditional audit data.
//   - GetUsage: Hot only. Counters are never read-repaired from Cold, since
//     the Hot counter is the enforcement source of truth for the day.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aceprep/entitlement/pkg/entitlement"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the enforcement store (e.g. Redis, memory). All atomic
	// RecordUse decisions happen here.
	Hot entitlement.Store

	// Cold is the durable store (e.g. PostgreSQL, Firestore), the source of
	// truth for snapshots and the audit copy of usage.
	Cold entitlement.Store

	// AsyncUsageSync enables non-blocking mirroring of accepted increments
	// to Cold. If false, the mirror write is synchronous (slower but the
	// audit copy never lags).
	AsyncUsageSync bool

	// SyncBufferSize is the size of the buffered channel for async mirror
	// writes. Default: 1000.
	SyncBufferSize int

	// AsyncErrorHandler is called when an async mirror write fails.
	// Essential for monitoring audit-copy drift.
	AsyncErrorHandler func(error)
}

// Store implements entitlement.Store over a Hot/Cold pair.
type Store struct {
	hot  entitlement.Store
	cold entitlement.Store
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Store, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Store{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncUsageSync {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Store) Close() error {
	if s.conf.AsyncUsageSync {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background mirror loop. Jobs are processed
// sequentially to keep per-user ordering.
func (s *Store) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					if s.conf.AsyncErrorHandler != nil {
						s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
					}
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

// Snapshot implements entitlement.SnapshotSource with a read-through
// strategy: Hot first, then Cold with read-repair of Hot.
func (s *Store) Snapshot(ctx context.Context, userID string) (*entitlement.SubscriptionSnapshot, error) {
	snap, err := s.hot.Snapshot(ctx, userID)
	if err == nil {
		return snap, nil
	}

	snap, err = s.cold.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Cache fill; errors are non-critical.
	_ = s.hot.SetSnapshot(ctx, snap) //nolint:errcheck

	return snap, nil
}

// SetSnapshot implements entitlement.Store with a write-through strategy:
// the durable store accepts the write before the cache is refreshed.
func (s *Store) SetSnapshot(ctx context.Context, snap *entitlement.SubscriptionSnapshot) error {
	if err := s.cold.SetSnapshot(ctx, snap); err != nil {
		return err
	}
	if err := s.hot.SetSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("tiered storage: cold write committed but hot update failed: %w", err)
	}
	return nil
}

// GetUsage implements entitlement.UsageStore. Hot only: the Hot counter is
// the enforcement source of truth for the current day.
func (s *Store) GetUsage(ctx context.Context, userID string, feature entitlement.Feature, day entitlement.Day) (int, error) {
	return s.hot.GetUsage(ctx, userID, feature, day)
}

// RecordUse implements entitlement.UsageStore. The atomic limit decision
// runs entirely in Hot; an accepted increment is then mirrored to Cold via
// AddUsage so the durable audit copy converges on the same count.
func (s *Store) RecordUse(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	count, err := s.hot.RecordUse(ctx, req)
	if err != nil {
		return count, err
	}

	s.mirror(ctx, req)
	return count, nil
}

// AddUsage implements entitlement.UsageStore, incrementing Hot and
// mirroring to Cold.
func (s *Store) AddUsage(ctx context.Context, req *entitlement.RecordUseRequest) (int, error) {
	count, err := s.hot.AddUsage(ctx, req)
	if err != nil {
		return count, err
	}

	s.mirror(ctx, req)
	return count, nil
}

// mirror replays one accepted increment against the Cold store.
func (s *Store) mirror(ctx context.Context, req *entitlement.RecordUseRequest) {
	reqCopy := *req
	job := func() error {
		_, err := s.cold.AddUsage(context.WithoutCancel(ctx), &reqCopy)
		return err
	}

	if !s.conf.AsyncUsageSync {
		if err := job(); err != nil && s.conf.AsyncErrorHandler != nil {
			s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
		}
		return
	}

	select {
	case s.syncQueue <- job:
	default:
		// Queue full: fall back to a synchronous mirror rather than
		// dropping the audit write.
		if err := job(); err != nil && s.conf.AsyncErrorHandler != nil {
			s.conf.AsyncErrorHandler(fmt.Errorf("tiered sync failed: %w", err))
		}
	}
}
