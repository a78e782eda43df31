package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Claimer is the claim/revert surface the run loop drives.
type Claimer interface {
	ClaimNextBatch(ctx context.Context, lookbackWindow time.Duration, batchSize int) ([]int64, error)
	RevertBatch(ctx context.Context, ids []int64) error
}

// BatchResult reports per-batch processing counters.
type BatchResult struct {
	Done    int
	Failed  int
	Skipped int
}

// BatchProcessor consumes one claimed batch. A returned error means the whole
// batch failed and its claims must be reverted; per-item failures are absorbed
// into the counters instead.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, ids []int64) (BatchResult, error)
}

// RunOptions bounds one run-loop invocation.
type RunOptions struct {
	LookbackWindow time.Duration
	BatchSize      int
	MaxBatches     int
	LockTTL        time.Duration
}

// RunResult reports one run-loop invocation.
type RunResult struct {
	LockHeld bool
	Batches  int
	Claimed  int
	Done     int
	Failed   int
	Skipped  int
	Reverted int
}

// Runner drives the claim → process loop under a best-effort run lock.
type Runner struct {
	claimer   Claimer
	processor BatchProcessor
	locker    Locker
	logger    zerolog.Logger
}

func NewRunner(claimer Claimer, processor BatchProcessor, locker Locker, logger zerolog.Logger) *Runner {
	return &Runner{
		claimer:   claimer,
		processor: processor,
		locker:    locker,
		logger:    logger,
	}
}

// Run claims and processes batches until the backlog is empty, the max-batch
// budget is spent, or the context is cancelled. A batch-level failure reverts
// that batch's claims and still consumes budget, so the loop always
// terminates. Cancellation reverts in-flight claims before returning.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	opts = normalizeRunOptions(opts)

	var result RunResult

	acquired, err := r.locker.Acquire(ctx, RunLockName, opts.LockTTL)
	if err != nil {
		return result, err
	}
	if !acquired {
		r.logger.Debug().Msg("queue run lock held elsewhere, skipping tick")
		return result, nil
	}
	result.LockHeld = true
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), RunLockName); err != nil {
			r.logger.Warn().Err(err).Msg("failed to release queue run lock")
		}
	}()

	for result.Batches < opts.MaxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ids, err := r.claimer.ClaimNextBatch(ctx, opts.LookbackWindow, opts.BatchSize)
		if err != nil {
			return result, err
		}
		if len(ids) == 0 {
			break
		}

		result.Batches++
		result.Claimed += len(ids)

		batch, err := r.processor.ProcessBatch(ctx, ids)
		if err != nil {
			result.Reverted += len(ids)
			if revertErr := r.claimer.RevertBatch(context.WithoutCancel(ctx), ids); revertErr != nil {
				r.logger.Error().Err(revertErr).Ints64("ids", ids).Msg("failed to revert claimed batch")
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			r.logger.Error().Err(err).Int("batch_size", len(ids)).Msg("batch processing failed, claims reverted")
			continue
		}

		result.Done += batch.Done
		result.Failed += batch.Failed
		result.Skipped += batch.Skipped
	}

	return result, nil
}

func normalizeRunOptions(opts RunOptions) RunOptions {
	if opts.LookbackWindow <= 0 {
		opts.LookbackWindow = DefaultLookbackWindow
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = 20
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return opts
}
