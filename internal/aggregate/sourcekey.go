package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"tacit.fyi/brandpulse/internal/globaltime"
	"tacit.fyi/brandpulse/internal/rules"
)

// SourceKeyFor derives the deterministic identity of a pulse point, preferring
// the most stable material available: a source entity id, then the normalized
// URL, then day plus normalized title. Re-running aggregation over the same
// inputs always reproduces the same key.
func SourceKeyFor(p rules.PulsePoint) string {
	if p.EntityID != "" {
		return "ent:" + p.EntityID
	}
	if p.URL != nil && strings.TrimSpace(*p.URL) != "" {
		return hashKey(fmt.Sprintf("%d|%s|%s|%s", p.CompanyID, p.Bucket, p.Topic, NormalizeURL(*p.URL)))
	}
	return hashKey(fmt.Sprintf("%d|%s|%s|%s|%s",
		p.CompanyID, p.Bucket, p.Topic, globaltime.DayUTC(p.SeenAt), rules.NormalizeTitle(p.Title)))
}

func hashKey(material string) string {
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:32]
}

// NormalizeURL strips the parts that vary between visits to the same page:
// scheme casing, tracking query params, fragments, trailing slashes.
func NormalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	host := strings.ToLower(parsed.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimSuffix(parsed.EscapedPath(), "/")
	return host + path
}
