package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/logger"
	"github.com/studyflow/tracker-sync/internal/store"
)

// CommentCountSweeperConfig holds configuration for the comment count sweeper
type CommentCountSweeperConfig struct {
	Interval       time.Duration // Time to sleep between sweep cycles
	BatchSize      int           // Trackers to verify per page
	WorkerPoolSize int           // Concurrent workers
	RunAtStart     bool          // Run one cycle immediately on Start
}

// commentCountSweeper reconciles unresolved_comment_count against the actual
// comment rows. The count is maintained transactionally by the store, so a
// drift means a bug or manual surgery; the sweeper repairs it and logs loudly.
type commentCountSweeper struct {
	config    *CommentCountSweeperConfig
	store     store.Store
	pool      pond.Pool
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewCommentCountSweeper creates a new comment count sweeper
func NewCommentCountSweeper(config *CommentCountSweeperConfig, st store.Store) Sweeper {
	return &commentCountSweeper{
		config:    config,
		store:     st,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *commentCountSweeper) Name() string {
	return "comment-count-sweeper"
}

// Start begins the sweeper's main loop
func (s *commentCountSweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh)
	}()

	logger.InfoCtx(ctx, "Starting comment count sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("worker_pool_size", s.config.WorkerPoolSize),
	)

	if s.config.RunAtStart {
		if err := s.runSweepCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Comment count sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Comment count sweeper stop requested")
			return nil
		case <-time.After(s.config.Interval):
			if err := s.runSweepCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorCtx(ctx, err)
			}
		}
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *commentCountSweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping comment count sweeper")
	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Comment count sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Comment count sweeper stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycle pages through all trackers and recounts each one
func (s *commentCountSweeper) runSweepCycle(ctx context.Context) error {
	startTime := time.Now()
	logger.InfoCtx(ctx, "Starting sweep cycle")

	s.pool = pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.BatchSize),
		pond.WithContext(ctx),
	)

	var checked, corrected atomic.Int32
	var failedMu sync.Mutex
	var failed []uint64

	afterID := uint64(0)
	for {
		ids, err := s.store.ListTrackerIDs(ctx, afterID, s.config.BatchSize)
		if err != nil {
			s.pool.StopAndWait()
			return fmt.Errorf("failed to list tracker ids: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]

		for _, id := range ids {
			s.pool.Submit(func() {
				changed, err := s.store.RecountUnresolvedComments(ctx, id)
				if err != nil {
					logger.ErrorCtx(ctx, err, zap.Uint64("tracker_id", id))
					failedMu.Lock()
					failed = append(failed, id)
					failedMu.Unlock()
					return
				}
				checked.Add(1)
				if changed {
					corrected.Add(1)
					logger.WarnCtx(ctx, "Corrected drifted unresolved comment count",
						zap.Uint64("tracker_id", id),
					)
				}
			})
		}
	}

	s.pool.StopAndWait()

	if err := s.retryFailed(ctx, failed); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to recount trackers after retries: %w", err),
			zap.Uint64s("tracker_ids", failed),
		)
	}

	logger.InfoCtx(ctx, "Sweep cycle completed",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int32("checked", checked.Load()),
		zap.Int32("corrected", corrected.Load()),
	)

	return nil
}

// retryFailed retries trackers that failed during the cycle with exponential
// backoff, sequentially; a cycle with failures is already an unhealthy one.
func (s *commentCountSweeper) retryFailed(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 1 * time.Minute
	b.MaxElapsedTime = 10 * time.Minute
	b.RandomizationFactor = 0.5

	operation := func() error {
		for _, id := range ids {
			if _, err := s.store.RecountUnresolvedComments(ctx, id); err != nil {
				return fmt.Errorf("tracker %d: %w", id, err)
			}
		}
		return nil
	}

	var attemptCount int
	notifyOnError := func(err error, duration time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Recount retry failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", duration),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError)
}
