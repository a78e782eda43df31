package rules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/globaltime"
)

// Engine runs the full detection pass: tracks, dedup, throttle.
type Engine struct {
	tracks []Track
	gate   *Gate
	cfg    Config
	logger zerolog.Logger
}

func NewEngine(tracks []Track, gate *Gate, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{tracks: tracks, gate: gate, cfg: cfg, logger: logger}
}

// Evaluate turns one evaluation set of summaries into the surviving pulse
// points. Detection itself never fails; a storage error from the throttle
// gate aborts the pass so the caller can retry the same set later.
func (e *Engine) Evaluate(ctx context.Context, summaries []Summary) ([]PulsePoint, error) {
	if len(summaries) == 0 {
		return nil, nil
	}

	evalCtx := BuildContext(summaries, globaltime.UTC(), e.cfg.Thresholds.TrailingDays)

	var candidates []PulsePoint
	for _, track := range e.tracks {
		candidates = append(candidates, track.Evaluate(e.logger, summaries, evalCtx)...)
	}
	candidates = Dedup(candidates)

	var surviving []PulsePoint
	for _, point := range candidates {
		allowed, err := e.gate.Allow(ctx, point.CompanyID, point.RuleType, point.Topic, point.SeenAt)
		if err != nil {
			return nil, fmt.Errorf("throttle %s/%s: %w", point.RuleType, point.Topic, err)
		}
		if !allowed {
			e.logger.Debug().
				Int64("company_id", point.CompanyID).
				Str("rule_type", point.RuleType).
				Str("topic", point.Topic).
				Msg("pulse point suppressed by cooldown")
			continue
		}
		surviving = append(surviving, point)
	}

	e.logger.Info().
		Int("summaries", len(summaries)).
		Int("candidates", len(candidates)).
		Int("surviving", len(surviving)).
		Msg("rule evaluation complete")

	return surviving, nil
}
