// Package aggregate rolls surviving pulse points into narrated strategic
// summaries, one client group at a time, resuming each group from its
// watermark.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
	"tacit.fyi/brandpulse/internal/rules"
)

// Period types for strategic summaries.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

const DefaultGroupLockTTL = 15 * time.Minute

// Group is one client group eligible for aggregation.
type Group struct {
	GroupID int64
	Slug    string
	Name    string
}

// GroupSummary is one normalized summary loaded for rule evaluation, plus the
// company name narration wants.
type GroupSummary struct {
	rules.Summary
	CompanyName string
}

// StrategicRow is one narrated signal ready for insertion.
type StrategicRow struct {
	GroupID     int64
	CompanyID   int64
	PeriodType  string
	SourceKey   string
	SummaryText string
	Tier        string
	TierReason  string
	SignalSlugs string
	URL         *string
}

// Store is the persistence surface of the aggregation path.
type Store interface {
	ListGroups(ctx context.Context) ([]Group, error)
	MaxSummaryID(ctx context.Context, groupID int64) (int64, error)
	Watermark(ctx context.Context, groupID int64) (int64, error)
	AcquireGroupLock(ctx context.Context, groupID int64, ttl time.Duration) (bool, error)
	ReleaseGroupLock(ctx context.Context, groupID int64) error
	LoadSummariesAfter(ctx context.Context, groupID, afterID int64) ([]GroupSummary, error)
	InsertStrategicSummaries(ctx context.Context, rows []StrategicRow) (int, error)
	AdvanceWatermark(ctx context.Context, groupID, watermark int64) error
}

// Engine is the detection pass the aggregator runs per group.
type Engine interface {
	Evaluate(ctx context.Context, summaries []rules.Summary) ([]rules.PulsePoint, error)
}

// Options tunes one aggregator instance.
type Options struct {
	PeriodType string
	LockTTL    time.Duration
}

// GroupResult reports one per-group aggregation pass.
type GroupResult struct {
	GroupID          int64
	SummariesScanned int
	Points           int
	Inserted         int
	WatermarkBefore  int64
	WatermarkAfter   int64
}

// Aggregator turns one group's unscanned summaries into strategic summaries.
// It assumes the caller already holds the group lock.
type Aggregator struct {
	store    Store
	engine   Engine
	narrator ai.Narrator
	opts     Options
	logger   zerolog.Logger
}

func NewAggregator(store Store, engine Engine, narrator ai.Narrator, logger zerolog.Logger, opts Options) *Aggregator {
	if opts.PeriodType == "" {
		opts.PeriodType = PeriodDaily
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultGroupLockTTL
	}
	return &Aggregator{
		store:    store,
		engine:   engine,
		narrator: narrator,
		opts:     opts,
		logger:   logger,
	}
}

// ProcessGroup scans summaries past the watermark, runs detection, narrates
// the survivors, and inserts the results. The watermark advances only when at
// least one row was actually inserted, so a failed pass is naturally retried
// from the same position.
func (a *Aggregator) ProcessGroup(ctx context.Context, groupID int64) (GroupResult, error) {
	result := GroupResult{GroupID: groupID}

	watermark, err := a.store.Watermark(ctx, groupID)
	if err != nil {
		return result, fmt.Errorf("load watermark for group %d: %w", groupID, err)
	}
	result.WatermarkBefore = watermark
	result.WatermarkAfter = watermark

	summaries, err := a.store.LoadSummariesAfter(ctx, groupID, watermark)
	if err != nil {
		return result, fmt.Errorf("load summaries for group %d: %w", groupID, err)
	}
	result.SummariesScanned = len(summaries)
	if len(summaries) == 0 {
		return result, nil
	}

	maxID := watermark
	companyNames := make(map[int64]string, len(summaries))
	ruleInput := make([]rules.Summary, 0, len(summaries))
	for _, s := range summaries {
		if s.SummaryID > maxID {
			maxID = s.SummaryID
		}
		companyNames[s.CompanyID] = s.CompanyName
		ruleInput = append(ruleInput, s.Summary)
	}

	points, err := a.engine.Evaluate(ctx, ruleInput)
	if err != nil {
		return result, fmt.Errorf("evaluate rules for group %d: %w", groupID, err)
	}
	result.Points = len(points)
	if len(points) == 0 {
		a.logger.Debug().Int64("group_id", groupID).Int("scanned", len(summaries)).Msg("no surviving pulse points")
		return result, nil
	}

	nc := ai.NarrationContext{
		GroupID:    groupID,
		PeriodType: a.opts.PeriodType,
		Points:     make([]ai.PointContext, 0, len(points)),
	}
	pointsByKey := make(map[string]rules.PulsePoint, len(points))
	for _, point := range points {
		key := SourceKeyFor(point)
		pointsByKey[key] = point
		pc := ai.PointContext{
			CompanyID:   point.CompanyID,
			CompanyName: companyNames[point.CompanyID],
			Bucket:      point.Bucket,
			Topic:       point.Topic,
			Title:       point.Title,
			SeenAt:      point.SeenAt.UTC().Format(time.RFC3339),
			Tier:        point.Tier,
			SourceKey:   key,
			SignalSlugs: []string{point.Topic},
		}
		if point.URL != nil {
			pc.URL = *point.URL
		}
		nc.Points = append(nc.Points, pc)
	}

	blurbs, err := a.narrator.GeneratePulses(ctx, nc)
	if err != nil {
		return result, fmt.Errorf("narrate group %d: %w", groupID, err)
	}

	rows := make([]StrategicRow, 0, len(blurbs))
	for _, blurb := range blurbs {
		point, ok := pointsByKey[blurb.SourceKey]
		if !ok {
			a.logger.Warn().
				Int64("group_id", groupID).
				Str("source_key", blurb.SourceKey).
				Msg("narrator returned blurb for unknown source key, dropping")
			continue
		}
		row := StrategicRow{
			GroupID:     groupID,
			CompanyID:   point.CompanyID,
			PeriodType:  a.opts.PeriodType,
			SourceKey:   blurb.SourceKey,
			SummaryText: blurb.Blurb,
			Tier:        blurb.Tier,
			TierReason:  blurb.TierReason,
			SignalSlugs: point.Topic,
			URL:         point.URL,
		}
		if row.Tier == "" {
			row.Tier = point.Tier
		}
		if blurb.URL != "" {
			url := blurb.URL
			row.URL = &url
		}
		rows = append(rows, row)
	}

	inserted, err := a.store.InsertStrategicSummaries(ctx, rows)
	if err != nil {
		return result, fmt.Errorf("insert strategic summaries for group %d: %w", groupID, err)
	}
	result.Inserted = inserted

	if inserted > 0 {
		if err := a.store.AdvanceWatermark(ctx, groupID, maxID); err != nil {
			return result, fmt.Errorf("advance watermark for group %d: %w", groupID, err)
		}
		result.WatermarkAfter = maxID
	}

	a.logger.Info().
		Int64("group_id", groupID).
		Int("scanned", result.SummariesScanned).
		Int("points", result.Points).
		Int("inserted", result.Inserted).
		Int64("watermark", result.WatermarkAfter).
		Msg("group aggregation complete")

	return result, nil
}
