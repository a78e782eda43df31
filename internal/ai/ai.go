// Package ai declares the opaque AI capabilities the pipeline consumes:
// summarization, embedding, arbitration, and narration. Implementations call
// HTTP sidecar services; the models behind them are out of scope.
package ai

import "context"

// LabeledConcept is a free-text label plus the summarizer's reason for it.
type LabeledConcept struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// ItemSummary is the per-item summarization output.
type ItemSummary struct {
	Gist            string           `json:"gist"`
	Points          []string         `json:"points"`
	Sentiment       string           `json:"sentiment"`
	SignalScore     float64          `json:"signal_score"`
	Tags            []LabeledConcept `json:"tags"`
	Themes          []LabeledConcept `json:"themes"`
	SignalTypeHints []string         `json:"signal_type_hints"`
}

// SummarizeItem is one unit of input for a batch summarization call.
type SummarizeItem struct {
	ItemID      int64  `json:"item_id"`
	CompanyName string `json:"company_name,omitempty"`
	SourceType  string `json:"source_type"`
	Text        string `json:"text"`
}

// Summarizer produces normalized summaries for a batch of raw items. An item
// missing from the result map failed and is retried by the caller.
type Summarizer interface {
	Summarize(ctx context.Context, items []SummarizeItem) (map[int64]ItemSummary, error)
}

// Embedder converts text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Candidate is one canonical entry offered to the arbitrator.
type Candidate struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Judgment decisions.
const (
	DecisionMatch   = "match"
	DecisionNoMatch = "no_match"
)

// Judgment is the arbitrator's verdict on an ambiguous label.
type Judgment struct {
	Decision   string  `json:"decision"`
	BestID     int64   `json:"best_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Arbitrator breaks ties the vector similarity stage cannot decide.
type Arbitrator interface {
	Judge(ctx context.Context, rawLabel, reason string, candidates []Candidate) (Judgment, error)
}

// PointContext is one throttled pulse point handed to the narrator.
type PointContext struct {
	CompanyID   int64    `json:"company_id"`
	CompanyName string   `json:"company_name,omitempty"`
	Bucket      string   `json:"bucket"`
	Topic       string   `json:"topic"`
	Title       string   `json:"title"`
	URL         string   `json:"url,omitempty"`
	SeenAt      string   `json:"seen_at"`
	Tier        string   `json:"tier"`
	SourceKey   string   `json:"source_key"`
	SignalSlugs []string `json:"signal_slugs,omitempty"`
}

// NarrationContext is the full input for one narration call.
type NarrationContext struct {
	GroupID    int64          `json:"group_id"`
	PeriodType string         `json:"period_type"`
	Points     []PointContext `json:"points"`
}

// Blurb is one narrated strategic signal.
type Blurb struct {
	CompanyID  int64  `json:"company_id"`
	Chip       string `json:"chip"`
	Blurb      string `json:"blurb"`
	Tier       string `json:"tier"`
	TierReason string `json:"tier_reason"`
	SourceKey  string `json:"source_key,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Narrator turns pulse points into user-facing blurbs.
type Narrator interface {
	GeneratePulses(ctx context.Context, nc NarrationContext) ([]Blurb, error)
}
