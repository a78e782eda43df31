package vocab

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
)

const (
	DefaultAcceptCosine         = 0.90
	DefaultAcceptMargin         = 0.015
	DefaultAmbiguousLowCosine   = 0.84
	DefaultAmbiguousHighCosine  = 0.92
	DefaultArbiterMinConfidence = 0.75

	arbitrationCandidateLimit = 5
)

// Resolution methods.
const (
	MethodExact      = "exact"
	MethodVector     = "vector"
	MethodArbitrated = "arbitrated"
	MethodCreated    = "created"
)

// Resolution is the outcome of canonicalizing one raw label.
type Resolution struct {
	Entry      Entry
	Confidence float64
	Method     string
	Reason     string
	IsNew      bool
}

// Thresholds tunes the similarity decision bands.
type Thresholds struct {
	AcceptCosine         float64
	AcceptMargin         float64
	AmbiguousLowCosine   float64
	AmbiguousHighCosine  float64
	ArbiterMinConfidence float64
}

func defaultThresholds() Thresholds {
	return Thresholds{
		AcceptCosine:         DefaultAcceptCosine,
		AcceptMargin:         DefaultAcceptMargin,
		AmbiguousLowCosine:   DefaultAmbiguousLowCosine,
		AmbiguousHighCosine:  DefaultAmbiguousHighCosine,
		ArbiterMinConfidence: DefaultArbiterMinConfidence,
	}
}

// Canonicalizer maps free-text labels onto the stable canonical vocabulary.
// It writes at most one new row per call and never mutates existing rows.
type Canonicalizer struct {
	store      Store
	embedder   ai.Embedder
	arbiter    ai.Arbitrator
	thresholds Thresholds
	logger     zerolog.Logger
}

// Option tweaks Canonicalizer construction.
type Option func(*Canonicalizer)

func WithThresholds(t Thresholds) Option {
	return func(c *Canonicalizer) {
		if t.AcceptCosine > 0 {
			c.thresholds.AcceptCosine = t.AcceptCosine
		}
		if t.AcceptMargin > 0 {
			c.thresholds.AcceptMargin = t.AcceptMargin
		}
		if t.AmbiguousLowCosine > 0 {
			c.thresholds.AmbiguousLowCosine = t.AmbiguousLowCosine
		}
		if t.AmbiguousHighCosine > 0 {
			c.thresholds.AmbiguousHighCosine = t.AmbiguousHighCosine
		}
		if t.ArbiterMinConfidence > 0 {
			c.thresholds.ArbiterMinConfidence = t.ArbiterMinConfidence
		}
	}
}

func NewCanonicalizer(store Store, embedder ai.Embedder, arbiter ai.Arbitrator, logger zerolog.Logger, opts ...Option) *Canonicalizer {
	c := &Canonicalizer{
		store:      store,
		embedder:   embedder,
		arbiter:    arbiter,
		thresholds: defaultThresholds(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type scoredEntry struct {
	entry  Entry
	cosine float64
}

// Resolve maps one (label, reason) pair to a canonical entry, creating a new
// entry when nothing in the vocabulary is close enough.
func (c *Canonicalizer) Resolve(ctx context.Context, kind Kind, label, reason string) (Resolution, error) {
	cleaned := StripSentimentMarker(label)
	normalized := normalizeName(cleaned)
	if normalized == "" {
		return Resolution{}, fmt.Errorf("label %q is empty after cleaning", label)
	}

	entries, err := c.store.List(ctx, kind)
	if err != nil {
		return Resolution{}, fmt.Errorf("load %s vocabulary: %w", kind, err)
	}

	for _, entry := range entries {
		if normalizeName(entry.Name) == normalized {
			return Resolution{
				Entry:      entry,
				Confidence: 1.0,
				Method:     MethodExact,
			}, nil
		}
	}

	vector, err := c.embedder.Embed(ctx, embeddingInput(kind, cleaned, reason))
	if err != nil {
		return Resolution{}, fmt.Errorf("embed label %q: %w", cleaned, err)
	}

	scored := scoreEntries(entries, vector)
	best, second := topTwo(scored)

	if best != nil && best.cosine >= c.thresholds.AcceptCosine &&
		(second == nil || best.cosine-second.cosine >= c.thresholds.AcceptMargin) {
		return Resolution{
			Entry:      best.entry,
			Confidence: best.cosine,
			Method:     MethodVector,
		}, nil
	}

	if best != nil && c.isAmbiguous(best, second) {
		if resolution, ok := c.arbitrate(ctx, cleaned, reason, scored); ok {
			return resolution, nil
		}
	}

	return c.createEntry(ctx, kind, normalized, reason, vector)
}

func (c *Canonicalizer) isAmbiguous(best, second *scoredEntry) bool {
	if best.cosine < c.thresholds.AmbiguousLowCosine || best.cosine >= c.thresholds.AmbiguousHighCosine {
		return false
	}
	if second == nil {
		return true
	}
	return best.cosine-second.cosine < c.thresholds.AcceptMargin
}

func (c *Canonicalizer) arbitrate(ctx context.Context, label, reason string, scored []scoredEntry) (Resolution, bool) {
	if c.arbiter == nil {
		return Resolution{}, false
	}

	limit := min(arbitrationCandidateLimit, len(scored))
	candidates := make([]ai.Candidate, 0, limit)
	byID := make(map[int64]scoredEntry, limit)
	for _, s := range scored[:limit] {
		candidates = append(candidates, ai.Candidate{
			ID:         s.entry.ID,
			Name:       s.entry.Name,
			Definition: s.entry.Description,
		})
		byID[s.entry.ID] = s
	}

	judgment, err := c.arbiter.Judge(ctx, label, reason, candidates)
	if err != nil {
		// Arbitration is best-effort: degrade to create-new, never block.
		c.logger.Warn().Err(err).Str("label", label).Msg("arbitration unavailable, creating new vocabulary entry")
		return Resolution{}, false
	}

	if judgment.Decision != ai.DecisionMatch || judgment.Confidence < c.thresholds.ArbiterMinConfidence {
		return Resolution{}, false
	}
	matched, ok := byID[judgment.BestID]
	if !ok {
		c.logger.Warn().
			Int64("best_id", judgment.BestID).
			Str("label", label).
			Msg("arbitration returned an unknown candidate id")
		return Resolution{}, false
	}

	return Resolution{
		Entry:      matched.entry,
		Confidence: judgment.Confidence,
		Method:     MethodArbitrated,
		Reason:     judgment.Rationale,
	}, true
}

func (c *Canonicalizer) createEntry(ctx context.Context, kind Kind, name, reason string, vector []float64) (Resolution, error) {
	entry, created, err := c.store.Create(ctx, kind, NewEntry{
		Name:        name,
		Description: strings.TrimSpace(reason),
		Embedding:   vector,
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("create %s vocabulary entry %q: %w", kind, name, err)
	}

	return Resolution{
		Entry:      entry,
		Confidence: 1.0,
		Method:     MethodCreated,
		IsNew:      created,
	}, nil
}

func scoreEntries(entries []Entry, vector []float64) []scoredEntry {
	scored := make([]scoredEntry, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		scored = append(scored, scoredEntry{
			entry:  entry,
			cosine: CosineSimilarity(vector, entry.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].cosine > scored[j].cosine
	})
	return scored
}

func topTwo(scored []scoredEntry) (best, second *scoredEntry) {
	if len(scored) > 0 {
		best = &scored[0]
	}
	if len(scored) > 1 {
		second = &scored[1]
	}
	return best, second
}

var sentimentPrefixes = []string{
	"positive:", "negative:", "neutral:", "mixed:",
}

// StripSentimentMarker removes a leading sentiment marker the summarizer
// sometimes prepends to labels, e.g. "negative: slow support".
func StripSentimentMarker(label string) string {
	trimmed := strings.TrimSpace(label)
	lowered := strings.ToLower(trimmed)
	for _, prefix := range sentimentPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return strings.TrimSpace(trimmed[len(prefix):])
		}
	}
	if len(trimmed) > 1 && (trimmed[0] == '+' || trimmed[0] == '-') && trimmed[1] == ' ' {
		return strings.TrimSpace(trimmed[1:])
	}
	return trimmed
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}

func embeddingInput(kind Kind, label, reason string) string {
	cleanedReason := strings.TrimSpace(reason)
	if cleanedReason == "" {
		return fmt.Sprintf("%s: %s", kind, label)
	}
	return fmt.Sprintf("%s: %s. Meaning: %s", kind, label, cleanedReason)
}
