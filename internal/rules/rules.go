// Package rules turns normalized summaries into candidate pulse points.
//
// Detection is organized as tracks (one per source domain), each holding an
// ordered list of rules. A rule is a plain (predicate, projector) pair with a
// declared priority; no reflection, no dynamic dispatch.
package rules

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Track buckets.
const (
	BucketReviews        = "reviews"
	BucketCommunity      = "community"
	BucketCompanyContent = "company_content"
)

// Rule types emitted by the built-in catalog.
const (
	TypeSentimentShift     = "sentiment_shift"
	TypeReviewSurge        = "review_surge"
	TypeComplaintTheme     = "complaint_theme"
	TypeMentionSpike       = "mention_spike"
	TypeTrendingTopic      = "trending_topic"
	TypeLaunchAnnouncement = "launch_announcement"
	TypePositioningShift   = "positioning_shift"
)

// Concept is one canonical tag or theme attached to a summary.
type Concept struct {
	Slug  string
	Name  string
	IsNew bool
}

// Summary is the rule engine's read model of one normalized summary.
type Summary struct {
	SummaryID   int64
	CompanyID   int64
	SourceType  string
	Origin      string
	Gist        string
	Points      []string
	Sentiment   string
	SignalScore float64
	Language    string
	URL         *string
	PostedAt    time.Time
	Tags        []Concept
	Themes      []Concept
}

// PulsePoint is one candidate signal. Points are ephemeral: deduplicated and
// throttled in memory, then handed to narration.
type PulsePoint struct {
	CompanyID  int64
	Bucket     string
	RuleType   string
	Topic      string
	Title      string
	URL        *string
	SeenAt     time.Time
	Tier       string
	EntityID   string
	SummaryIDs []int64
}

// Pulse point tiers.
const (
	TierStandard = "standard"
	TierNotable  = "notable"
)

// Rule is one detection: Applies gates cheaply, Project builds the point.
// A nil point with a nil error means the rule matched nothing after all.
type Rule struct {
	Type     string
	Priority int
	Scope    string // optional source type restriction
	Applies  func(s Summary, c *Context) bool
	Project  func(s Summary, c *Context) (*PulsePoint, error)
}

// Track is a source-scoped, priority-ordered group of rules.
type Track struct {
	Name    string
	Bucket  string
	Sources []string
	Rules   []Rule
}

func (t Track) accepts(sourceType string) bool {
	if len(t.Sources) == 0 {
		return true
	}
	for _, s := range t.Sources {
		if s == sourceType {
			return true
		}
	}
	return false
}

// Evaluate runs every (summary, rule) pair in the track. A projection error is
// logged and skipped so one bad summary never takes the track down.
func (t Track) Evaluate(logger zerolog.Logger, summaries []Summary, c *Context) []PulsePoint {
	ordered := make([]Rule, len(t.Rules))
	copy(ordered, t.Rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var points []PulsePoint
	for _, summary := range summaries {
		if !t.accepts(summary.SourceType) {
			continue
		}
		for _, rule := range ordered {
			if rule.Scope != "" && rule.Scope != summary.SourceType {
				continue
			}
			if rule.Applies != nil && !rule.Applies(summary, c) {
				continue
			}
			point, err := rule.Project(summary, c)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("track", t.Name).
					Str("rule", rule.Type).
					Int64("summary_id", summary.SummaryID).
					Msg("pulse point projection failed")
				continue
			}
			if point == nil {
				continue
			}
			point.Bucket = t.Bucket
			point.RuleType = rule.Type
			if point.Tier == "" {
				point.Tier = TierStandard
			}
			points = append(points, *point)
		}
	}
	return points
}
