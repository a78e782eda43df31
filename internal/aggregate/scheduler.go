package aggregate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// TickResult reports one scheduler pass over all groups.
type TickResult struct {
	Groups    int
	Skipped   int
	Contended int
	Processed int
	Inserted  int
	Failed    int
}

// Scheduler walks every client group per tick, skipping groups with nothing
// new, and hands contested groups to whoever wins the conditional lock
// update. Groups are independent; one group's failure never stops the tick.
type Scheduler struct {
	store      Store
	aggregator *Aggregator
	logger     zerolog.Logger
}

func NewScheduler(store Store, aggregator *Aggregator, logger zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, aggregator: aggregator, logger: logger}
}

func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return result, fmt.Errorf("list client groups: %w", err)
	}
	result.Groups = len(groups)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		maxID, err := s.store.MaxSummaryID(ctx, group.GroupID)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("failed to compute max summary id")
			continue
		}
		watermark, err := s.store.Watermark(ctx, group.GroupID)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("failed to load watermark")
			continue
		}
		if maxID <= watermark {
			result.Skipped++
			continue
		}

		acquired, err := s.store.AcquireGroupLock(ctx, group.GroupID, s.aggregator.opts.LockTTL)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("failed to acquire group lock")
			continue
		}
		if !acquired {
			result.Contended++
			s.logger.Debug().Int64("group_id", group.GroupID).Msg("group locked by another worker")
			continue
		}

		groupResult, err := s.processLocked(ctx, group.GroupID)
		if err != nil {
			result.Failed++
			s.logger.Error().Err(err).Int64("group_id", group.GroupID).Msg("group aggregation failed")
			continue
		}
		result.Processed++
		result.Inserted += groupResult.Inserted
	}

	return result, nil
}

// processLocked runs the aggregation pass and releases the lock whatever
// happens, including cancellation.
func (s *Scheduler) processLocked(ctx context.Context, groupID int64) (GroupResult, error) {
	defer func() {
		if err := s.store.ReleaseGroupLock(context.WithoutCancel(ctx), groupID); err != nil {
			s.logger.Warn().Err(err).Int64("group_id", groupID).Msg("failed to release group lock")
		}
	}()
	return s.aggregator.ProcessGroup(ctx, groupID)
}
