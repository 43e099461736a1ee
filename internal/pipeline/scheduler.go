package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/preethamsamatham/medallion/internal/core/storage"
)

// maxConsecutiveBatches bounds one drain cycle so a flood of bronze loads
// cannot starve the ticker loop; the remainder is picked up next tick.
const maxConsecutiveBatches = 100

// Scheduler drives the pipeline on a fixed interval. Each tick is a cheap
// change-feed probe: no pending changes means a silent skip. Pending
// changes trigger a silver backlog drain with gold chained strictly after
// silver success. Independently, a target-lag check forces a gold rebuild
// when the aggregates are staler than allowed and silver has moved since.
type Scheduler struct {
	runner    *Runner
	feed      storage.ChangeFeed
	gold      storage.GoldStore
	consumer  string
	interval  time.Duration
	targetLag time.Duration
	batchSize int

	// lastGoldCursor is the feed checkpoint at the most recent gold
	// rebuild; -1 until the first rebuild so the staleness path can catch
	// up a preexisting silver table.
	lastGoldCursor int64

	// qualityWG tracks concurrently running quality checks so shutdown can
	// wait for them.
	qualityWG sync.WaitGroup
}

// NewScheduler creates a pipeline scheduler.
func NewScheduler(
	runner *Runner,
	feed storage.ChangeFeed,
	goldStore storage.GoldStore,
	consumer string,
	interval, targetLag time.Duration,
	batchSize int,
) *Scheduler {
	return &Scheduler{
		runner:         runner,
		feed:           feed,
		gold:           goldStore,
		consumer:       consumer,
		interval:       interval,
		targetLag:      targetLag,
		batchSize:      batchSize,
		lastGoldCursor: -1,
	}
}

// Start begins periodic pipeline execution. Runs until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting pipeline scheduler",
		"interval", s.interval,
		"target_lag", s.targetLag,
		"batch_size", s.batchSize,
		"consumer", s.consumer,
	)

	// Initial tick to catch up with any backlog from before startup.
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final drain before shutdown...")
			s.tick(shutdownCtx)
			s.qualityWG.Wait()
			slog.Info("[Scheduler] Final drain complete")

			return nil
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	pending, err := s.feed.HasPendingChanges(ctx, s.consumer)
	if err != nil {
		slog.Error("[Scheduler] Change-feed probe failed", "error", err)
		return
	}

	if pending {
		s.drainAndChain(ctx)
		return
	}

	// Nothing new: a silent skip, unless the aggregates have gone stale
	// relative to silver state they have not seen yet.
	s.rebuildIfStale(ctx)
}

// drainAndChain drains the silver backlog in batches, then runs gold once,
// strictly after the last silver batch succeeded. A silver failure aborts
// the cycle without invoking gold.
func (s *Scheduler) drainAndChain(ctx context.Context) {
	runID := uuid.NewString()
	batchCount := 0

	for batchCount < maxConsecutiveBatches {
		select {
		case <-ctx.Done():
			slog.Info("[Scheduler] Drain interrupted by context cancellation",
				"batches_processed", batchCount)
			return
		default:
		}

		result := s.runner.LoadStaging(ctx, runID)
		if result.Err != nil {
			slog.Error("[Scheduler] Silver load failed, gold not invoked",
				"run_id", runID,
				"batch_number", batchCount+1,
				"error", result.Err,
			)
			return
		}

		batchCount++

		pending, err := s.feed.HasPendingChanges(ctx, s.consumer)
		if err != nil {
			slog.Error("[Scheduler] Change-feed probe failed mid-drain", "error", err)
			return
		}
		if !pending {
			break
		}
	}

	if batchCount >= maxConsecutiveBatches {
		slog.Warn("[Scheduler] Max consecutive batches reached, pausing drain",
			"max_batches", maxConsecutiveBatches,
			"note", "Will resume on next tick",
		)
	}

	goldResult := s.runner.MaterializeAggregates(ctx, runID)
	if goldResult.Err != nil {
		slog.Error("[Scheduler] Gold materialization failed", "run_id", runID, "error", goldResult.Err)
		return
	}
	s.recordGoldCursor(ctx)

	// Quality checks are read-only; run them concurrently with whatever
	// the next tick does.
	s.qualityWG.Add(1)
	go func() {
		defer s.qualityWG.Done()
		if result := s.runner.RunQualityChecks(ctx, runID); result.Err != nil {
			slog.Error("[Scheduler] Quality checks failed", "run_id", runID, "error", result.Err)
		}
	}()
}

// rebuildIfStale enforces the freshness SLA: when the newest aggregate
// snapshot is older than target_lag AND the feed checkpoint has moved since
// the last rebuild, gold is recomputed even though this tick saw no new
// bronze changes (they were consumed by an earlier silver run whose gold
// chain failed, or by a manual stage invocation).
func (s *Scheduler) rebuildIfStale(ctx context.Context) {
	refreshedAt, err := s.gold.LastRefreshedAt(ctx)
	if err != nil {
		slog.Error("[Scheduler] Staleness probe failed", "error", err)
		return
	}
	if !refreshedAt.IsZero() && time.Since(refreshedAt) <= s.targetLag {
		return
	}

	cursor, err := s.feed.ReadCheckpoint(ctx, s.consumer)
	if err != nil {
		slog.Error("[Scheduler] Checkpoint read failed", "error", err)
		return
	}
	if cursor == s.lastGoldCursor {
		return // nothing consumed since the last rebuild
	}

	slog.Info("[Scheduler] Aggregates stale beyond target lag, rebuilding",
		"refreshed_at", refreshedAt,
		"target_lag", s.targetLag,
	)

	result := s.runner.MaterializeAggregates(ctx, "")
	if result.Err != nil {
		slog.Error("[Scheduler] Stale rebuild failed", "error", result.Err)
		return
	}
	s.lastGoldCursor = cursor
}

func (s *Scheduler) recordGoldCursor(ctx context.Context) {
	cursor, err := s.feed.ReadCheckpoint(ctx, s.consumer)
	if err != nil {
		slog.Warn("[Scheduler] Could not record gold cursor", "error", err)
		return
	}
	s.lastGoldCursor = cursor
}
