package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ThrottlePolicy is the cooldown/surge tuning for one rule type.
type ThrottlePolicy struct {
	MinGapDays     int `yaml:"min_gap_days"`
	Surge2DayCount int `yaml:"surge_2day_count"`
	Surge7DayCount int `yaml:"surge_7day_count"`
}

// Thresholds tunes the built-in rule catalog.
type Thresholds struct {
	TrailingDays              int      `yaml:"trailing_days"`
	SentimentShiftBaselineMin float64  `yaml:"sentiment_shift_baseline_min"`
	SurgeFactor               float64  `yaml:"surge_factor"`
	SurgeMinVolume            int      `yaml:"surge_min_volume"`
	TrendingTopicMinCount     int      `yaml:"trending_topic_min_count"`
	PositioningMinSignal      float64  `yaml:"positioning_min_signal"`
	LaunchKeywords            []string `yaml:"launch_keywords"`
}

// Config is the full rule-engine tuning surface, loadable from YAML so
// thresholds and cooldowns ship without a rebuild.
type Config struct {
	Thresholds Thresholds                `yaml:"thresholds"`
	Throttle   map[string]ThrottlePolicy `yaml:"throttle"`
}

func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			TrailingDays:              DefaultTrailingDays,
			SentimentShiftBaselineMin: 0.2,
			SurgeFactor:               2.5,
			SurgeMinVolume:            5,
			TrendingTopicMinCount:     3,
			PositioningMinSignal:      0.6,
			LaunchKeywords:            []string{"launch", "introducing", "announc", "unveil", "now available", "release"},
		},
		Throttle: map[string]ThrottlePolicy{
			TypeSentimentShift:     {MinGapDays: 3, Surge2DayCount: 5, Surge7DayCount: 12},
			TypeReviewSurge:        {MinGapDays: 2, Surge2DayCount: 8, Surge7DayCount: 20},
			TypeComplaintTheme:     {MinGapDays: 5, Surge2DayCount: 4, Surge7DayCount: 10},
			TypeMentionSpike:       {MinGapDays: 2, Surge2DayCount: 10, Surge7DayCount: 25},
			TypeTrendingTopic:      {MinGapDays: 4, Surge2DayCount: 6, Surge7DayCount: 15},
			TypeLaunchAnnouncement: {MinGapDays: 7, Surge2DayCount: 3, Surge7DayCount: 6},
			TypePositioningShift:   {MinGapDays: 7, Surge2DayCount: 3, Surge7DayCount: 6},
		},
	}
}

// LoadConfig reads YAML overrides on top of the defaults. An empty path
// returns the defaults as-is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read rules config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse rules config %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("rules config %q: %w", path, err)
	}
	return cfg, nil
}

// PolicyFor returns the rule type's throttle policy, falling back to the
// tightest default gap for unknown types.
func (c Config) PolicyFor(ruleType string) ThrottlePolicy {
	if policy, ok := c.Throttle[ruleType]; ok {
		return policy
	}
	return ThrottlePolicy{MinGapDays: 7, Surge2DayCount: 3, Surge7DayCount: 6}
}

func (c Config) validate() error {
	if c.Thresholds.SurgeFactor <= 1 {
		return fmt.Errorf("surge_factor must exceed 1, got %v", c.Thresholds.SurgeFactor)
	}
	for ruleType, policy := range c.Throttle {
		if policy.MinGapDays < 1 {
			return fmt.Errorf("throttle %s: min_gap_days must be at least 1", ruleType)
		}
	}
	return nil
}
