package rules

import (
	"fmt"
	"strings"
	"unicode"

	"tacit.fyi/brandpulse/internal/globaltime"
)

// Dedup collapses points sharing (company, bucket, topic, normalized title,
// day). The first-seen point wins; later duplicates only contribute their
// summary ids so narration still sees the full evidence set.
func Dedup(points []PulsePoint) []PulsePoint {
	if len(points) <= 1 {
		return points
	}

	var out []PulsePoint
	index := make(map[string]int, len(points))
	for _, point := range points {
		key := dedupKey(point)
		if i, ok := index[key]; ok {
			out[i].SummaryIDs = appendNewIDs(out[i].SummaryIDs, point.SummaryIDs)
			continue
		}
		index[key] = len(out)
		out = append(out, point)
	}
	return out
}

func dedupKey(p PulsePoint) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s",
		p.CompanyID, p.Bucket, p.Topic, NormalizeTitle(p.Title), globaltime.DayUTC(p.SeenAt))
}

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace so
// cosmetic variants of the same headline dedup together.
func NormalizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func appendNewIDs(existing, extra []int64) []int64 {
	seen := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range extra {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		existing = append(existing, id)
	}
	return existing
}
