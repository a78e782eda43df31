package rules

import (
	"fmt"
	"strings"
	"time"

	"tacit.fyi/brandpulse/internal/globaltime"
)

// DefaultTracks builds the built-in detection catalog: one track per source
// domain, thresholds taken from cfg.
func DefaultTracks(cfg Config) []Track {
	t := cfg.Thresholds
	return []Track{
		{
			Name:    "reviews",
			Bucket:  BucketReviews,
			Sources: []string{"review"},
			Rules: []Rule{
				sentimentShiftRule(t),
				reviewSurgeRule(t),
				complaintThemeRule(),
			},
		},
		{
			Name:    "community",
			Bucket:  BucketCommunity,
			Sources: []string{"social"},
			Rules: []Rule{
				mentionSpikeRule(t),
				trendingTopicRule(t),
			},
		},
		{
			Name:    "company-content",
			Bucket:  BucketCompanyContent,
			Sources: []string{"owned"},
			Rules: []Rule{
				launchAnnouncementRule(t),
				positioningShiftRule(t),
			},
		},
	}
}

// sentimentShiftRule fires on negative reviews against a clearly positive
// trailing baseline, the "our rating is slipping" early warning.
func sentimentShiftRule(t Thresholds) Rule {
	return Rule{
		Type:     TypeSentimentShift,
		Priority: 10,
		Applies: func(s Summary, c *Context) bool {
			baseline := c.Baseline(s.CompanyID)
			return s.Sentiment == "negative" &&
				baseline.DaysObserved >= 3 &&
				baseline.MeanSentiment >= t.SentimentShiftBaselineMin
		},
		Project: func(s Summary, c *Context) (*PulsePoint, error) {
			topic := "overall-sentiment"
			if theme, ok := primaryConcept(s.Themes); ok {
				topic = theme.Slug
			}
			return &PulsePoint{
				CompanyID:  s.CompanyID,
				Topic:      topic,
				Title:      pointTitle(s.Gist, "Negative review against positive baseline"),
				URL:        s.URL,
				SeenAt:     seenAt(s, c),
				Tier:       TierNotable,
				SummaryIDs: []int64{s.SummaryID},
			}, nil
		},
	}
}

// reviewSurgeRule fires when a single day's review volume runs well above the
// company's trailing mean. The projected point is deterministic per day so
// the dedup pass collapses one firing per summary into one point.
func reviewSurgeRule(t Thresholds) Rule {
	return volumeSurgeRule(Rule{Type: TypeReviewSurge, Priority: 20}, t, "review-volume", "Review volume surge")
}

func complaintThemeRule() Rule {
	return Rule{
		Type:     TypeComplaintTheme,
		Priority: 30,
		Applies: func(s Summary, _ *Context) bool {
			return s.Sentiment == "negative" && len(s.Themes) > 0
		},
		Project: func(s Summary, c *Context) (*PulsePoint, error) {
			theme, ok := primaryConcept(s.Themes)
			if !ok {
				return nil, nil
			}
			return &PulsePoint{
				CompanyID:  s.CompanyID,
				Topic:      theme.Slug,
				Title:      fmt.Sprintf("Complaints about %s", strings.ToLower(theme.Name)),
				URL:        s.URL,
				SeenAt:     seenAt(s, c),
				SummaryIDs: []int64{s.SummaryID},
			}, nil
		},
	}
}

func mentionSpikeRule(t Thresholds) Rule {
	return volumeSurgeRule(Rule{Type: TypeMentionSpike, Priority: 10}, t, "mention-volume", "Social mention spike")
}

func trendingTopicRule(t Thresholds) Rule {
	return Rule{
		Type:     TypeTrendingTopic,
		Priority: 20,
		Applies: func(s Summary, c *Context) bool {
			day := globaltime.DayUTC(seenAt(s, c))
			for _, tag := range s.Tags {
				if c.TopicCount(s.CompanyID, tag.Slug, day) >= t.TrendingTopicMinCount {
					return true
				}
			}
			return false
		},
		Project: func(s Summary, c *Context) (*PulsePoint, error) {
			day := globaltime.DayUTC(seenAt(s, c))
			best := Concept{}
			bestCount := 0
			for _, tag := range s.Tags {
				if count := c.TopicCount(s.CompanyID, tag.Slug, day); count > bestCount {
					best, bestCount = tag, count
				}
			}
			if bestCount < t.TrendingTopicMinCount {
				return nil, nil
			}
			return &PulsePoint{
				CompanyID:  s.CompanyID,
				Topic:      best.Slug,
				Title:      fmt.Sprintf("Trending: %s", best.Name),
				URL:        s.URL,
				SeenAt:     seenAt(s, c),
				SummaryIDs: []int64{s.SummaryID},
			}, nil
		},
	}
}

func launchAnnouncementRule(t Thresholds) Rule {
	return Rule{
		Type:     TypeLaunchAnnouncement,
		Priority: 10,
		Applies: func(s Summary, _ *Context) bool {
			if s.Origin != "company_generated" {
				return false
			}
			text := strings.ToLower(s.Gist + " " + strings.Join(s.Points, " "))
			for _, keyword := range t.LaunchKeywords {
				if strings.Contains(text, keyword) {
					return true
				}
			}
			return false
		},
		Project: func(s Summary, c *Context) (*PulsePoint, error) {
			return &PulsePoint{
				CompanyID:  s.CompanyID,
				Topic:      "launch",
				Title:      pointTitle(s.Gist, "Launch announcement"),
				URL:        s.URL,
				SeenAt:     seenAt(s, c),
				Tier:       TierNotable,
				SummaryIDs: []int64{s.SummaryID},
			}, nil
		},
	}
}

// positioningShiftRule watches owned content for themes the canonicalizer had
// to mint fresh: a brand-new theme in the company's own messaging usually
// means the positioning moved.
func positioningShiftRule(t Thresholds) Rule {
	return Rule{
		Type:     TypePositioningShift,
		Priority: 20,
		Applies: func(s Summary, _ *Context) bool {
			if s.SignalScore < t.PositioningMinSignal {
				return false
			}
			for _, theme := range s.Themes {
				if theme.IsNew {
					return true
				}
			}
			return false
		},
		Project: func(s Summary, c *Context) (*PulsePoint, error) {
			for _, theme := range s.Themes {
				if !theme.IsNew {
					continue
				}
				return &PulsePoint{
					CompanyID:  s.CompanyID,
					Topic:      theme.Slug,
					Title:      fmt.Sprintf("New positioning theme: %s", strings.ToLower(theme.Name)),
					URL:        s.URL,
					SeenAt:     seenAt(s, c),
					SummaryIDs: []int64{s.SummaryID},
				}, nil
			}
			return nil, nil
		},
	}
}

func volumeSurgeRule(base Rule, t Thresholds, topic, title string) Rule {
	base.Applies = func(s Summary, c *Context) bool {
		baseline := c.Baseline(s.CompanyID)
		if baseline.DaysObserved < 3 || baseline.MeanDailyVolume <= 0 {
			return false
		}
		volume := c.DayVolume(s.CompanyID, globaltime.DayUTC(seenAt(s, c)))
		return volume >= t.SurgeMinVolume &&
			float64(volume) >= t.SurgeFactor*baseline.MeanDailyVolume
	}
	base.Project = func(s Summary, c *Context) (*PulsePoint, error) {
		at := seenAt(s, c)
		volume := c.DayVolume(s.CompanyID, globaltime.DayUTC(at))
		return &PulsePoint{
			CompanyID:  s.CompanyID,
			Topic:      topic,
			Title:      fmt.Sprintf("%s (%d items)", title, volume),
			SeenAt:     at,
			Tier:       TierNotable,
			SummaryIDs: []int64{s.SummaryID},
		}, nil
	}
	return base
}

func primaryConcept(concepts []Concept) (Concept, bool) {
	for _, c := range concepts {
		if c.Slug != "" {
			return c, true
		}
	}
	return Concept{}, false
}

func seenAt(s Summary, c *Context) time.Time {
	if !s.PostedAt.IsZero() {
		return s.PostedAt.UTC()
	}
	if c != nil && !c.Now.IsZero() {
		return c.Now
	}
	return globaltime.UTC()
}

const maxTitleLen = 120

func pointTitle(gist, fallback string) string {
	title := strings.TrimSpace(gist)
	if title == "" {
		return fallback
	}
	if cut := strings.IndexAny(title, ".\n"); cut > 20 {
		title = title[:cut]
	}
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title
}
