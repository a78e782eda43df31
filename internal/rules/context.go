package rules

import (
	"strings"
	"time"

	"tacit.fyi/brandpulse/internal/globaltime"
)

const DefaultTrailingDays = 14

// Baseline is a company's rolling activity profile over the trailing window.
type Baseline struct {
	DaysObserved    int
	TotalVolume     int
	MeanDailyVolume float64
	MeanSentiment   float64
}

type companyDay struct {
	companyID int64
	day       string
}

type companyTopicDay struct {
	companyID int64
	topic     string
	day       string
}

// Context carries the shared per-evaluation-set state rules read from:
// per-company baselines plus day-level volume and topic counters. It is built
// once per evaluation and never mutated by rules.
type Context struct {
	Now          time.Time
	TrailingDays int

	baselines   map[int64]Baseline
	dayVolume   map[companyDay]int
	topicCounts map[companyTopicDay]int
}

// BuildContext computes baselines from the evaluation set itself, so anomaly
// rules need no extra storage reads.
func BuildContext(summaries []Summary, now time.Time, trailingDays int) *Context {
	if trailingDays <= 0 {
		trailingDays = DefaultTrailingDays
	}

	c := &Context{
		Now:          now.UTC(),
		TrailingDays: trailingDays,
		baselines:    make(map[int64]Baseline),
		dayVolume:    make(map[companyDay]int),
		topicCounts:  make(map[companyTopicDay]int),
	}

	cutoff := c.Now.AddDate(0, 0, -trailingDays)

	type accumulator struct {
		volume    int
		sentiment float64
		days      map[string]struct{}
	}
	acc := make(map[int64]*accumulator)

	for _, s := range summaries {
		seenAt := s.PostedAt
		if seenAt.IsZero() {
			seenAt = c.Now
		}
		if seenAt.Before(cutoff) {
			continue
		}
		day := globaltime.DayUTC(seenAt)

		a := acc[s.CompanyID]
		if a == nil {
			a = &accumulator{days: make(map[string]struct{})}
			acc[s.CompanyID] = a
		}
		a.volume++
		a.sentiment += SentimentScore(s.Sentiment)
		a.days[day] = struct{}{}

		c.dayVolume[companyDay{s.CompanyID, day}]++
		for _, concept := range append(append([]Concept{}, s.Tags...), s.Themes...) {
			if concept.Slug == "" {
				continue
			}
			c.topicCounts[companyTopicDay{s.CompanyID, concept.Slug, day}]++
		}
	}

	for companyID, a := range acc {
		days := len(a.days)
		if days == 0 {
			continue
		}
		c.baselines[companyID] = Baseline{
			DaysObserved:    days,
			TotalVolume:     a.volume,
			MeanDailyVolume: float64(a.volume) / float64(days),
			MeanSentiment:   a.sentiment / float64(a.volume),
		}
	}

	return c
}

// Baseline returns the company's profile; the zero value means no history.
func (c *Context) Baseline(companyID int64) Baseline {
	if c == nil {
		return Baseline{}
	}
	return c.baselines[companyID]
}

// DayVolume returns how many summaries the company produced on the given day.
func (c *Context) DayVolume(companyID int64, day string) int {
	if c == nil {
		return 0
	}
	return c.dayVolume[companyDay{companyID, day}]
}

// TopicCount returns the per-day occurrence count of one canonical topic.
func (c *Context) TopicCount(companyID int64, topic, day string) int {
	if c == nil {
		return 0
	}
	return c.topicCounts[companyTopicDay{companyID, topic, day}]
}

// TopicWindowCount sums the topic's counts over the last `days` days ending at
// the context's Now.
func (c *Context) TopicWindowCount(companyID int64, topic string, days int) int {
	if c == nil {
		return 0
	}
	total := 0
	for i := 0; i < days; i++ {
		day := globaltime.DayUTC(c.Now.AddDate(0, 0, -i))
		total += c.topicCounts[companyTopicDay{companyID, topic, day}]
	}
	return total
}

// SentimentScore maps sentiment labels onto [-1, 1] for baseline math.
func SentimentScore(sentiment string) float64 {
	switch strings.ToLower(strings.TrimSpace(sentiment)) {
	case "positive":
		return 1
	case "negative":
		return -1
	default:
		return 0
	}
}
