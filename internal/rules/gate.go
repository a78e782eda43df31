package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/globaltime"
)

// ThrottleStore persists per-topic observation counters and cooldown anchors.
// Date buckets are "2006-01-02" strings and compare lexicographically.
type ThrottleStore interface {
	IncrementObservation(ctx context.Context, companyID int64, ruleType, topicKey, dateBucket string) error
	CountObservationsSince(ctx context.Context, companyID int64, ruleType, topicKey, sinceBucket string) (int, error)
	LastNotified(ctx context.Context, companyID int64, ruleType, topicKey string) (*time.Time, error)
	MarkNotified(ctx context.Context, companyID int64, ruleType, topicKey string, at time.Time) error
}

// Gate enforces the per-topic cooldown with surge override. Every evaluated
// observation bumps the daily counter before any cooldown decision, so the
// surge windows see suppressed activity too.
type Gate struct {
	store  ThrottleStore
	cfg    Config
	logger zerolog.Logger
}

func NewGate(store ThrottleStore, cfg Config, logger zerolog.Logger) *Gate {
	return &Gate{store: store, cfg: cfg, logger: logger}
}

// Allow reports whether a point of the given type/topic may surface now.
// Allowed points move the last-notified anchor forward.
func (g *Gate) Allow(ctx context.Context, companyID int64, ruleType, topicKey string, seenAt time.Time) (bool, error) {
	seenAt = seenAt.UTC()
	day := globaltime.DayUTC(seenAt)

	if err := g.store.IncrementObservation(ctx, companyID, ruleType, topicKey, day); err != nil {
		return false, fmt.Errorf("increment observation: %w", err)
	}

	last, err := g.store.LastNotified(ctx, companyID, ruleType, topicKey)
	if err != nil {
		return false, fmt.Errorf("load last notified: %w", err)
	}

	policy := g.cfg.PolicyFor(ruleType)
	minGap := time.Duration(policy.MinGapDays) * 24 * time.Hour

	allowed := false
	switch {
	case last == nil:
		allowed = true
	case seenAt.Sub(last.UTC()) >= minGap:
		allowed = true
	default:
		surged, surgeErr := g.surged(ctx, companyID, ruleType, topicKey, seenAt, policy)
		if surgeErr != nil {
			return false, surgeErr
		}
		if surged {
			g.logger.Info().
				Int64("company_id", companyID).
				Str("rule_type", ruleType).
				Str("topic", topicKey).
				Msg("surge override bypassed cooldown")
			allowed = true
		}
	}

	if !allowed {
		return false, nil
	}
	if err := g.store.MarkNotified(ctx, companyID, ruleType, topicKey, seenAt); err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return true, nil
}

func (g *Gate) surged(ctx context.Context, companyID int64, ruleType, topicKey string, seenAt time.Time, policy ThrottlePolicy) (bool, error) {
	if policy.Surge2DayCount > 0 {
		since := globaltime.DayUTC(seenAt.AddDate(0, 0, -1))
		count, err := g.store.CountObservationsSince(ctx, companyID, ruleType, topicKey, since)
		if err != nil {
			return false, fmt.Errorf("count 2-day observations: %w", err)
		}
		if count >= policy.Surge2DayCount {
			return true, nil
		}
	}
	if policy.Surge7DayCount > 0 {
		since := globaltime.DayUTC(seenAt.AddDate(0, 0, -6))
		count, err := g.store.CountObservationsSince(ctx, companyID, ruleType, topicKey, since)
		if err != nil {
			return false, fmt.Errorf("count 7-day observations: %w", err)
		}
		if count >= policy.Surge7DayCount {
			return true, nil
		}
	}
	return false, nil
}
