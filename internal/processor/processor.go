// Package processor turns claimed raw items into normalized summaries via the
// external summarizer and the canonicalizer.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
	"tacit.fyi/brandpulse/internal/fetch"
	"tacit.fyi/brandpulse/internal/queue"
	"tacit.fyi/brandpulse/internal/vocab"
	payloadschema "tacit.fyi/brandpulse/schema"
)

const (
	DefaultRetries          = 3
	DefaultCanonConcurrency = 4
	defaultRetryBackoffBase = 2 * time.Second
)

// Item is one claimed raw item loaded for processing.
type Item struct {
	RawItemID   int64
	CompanyID   int64
	CompanyName string
	SourceType  string
	Origin      string
	Payload     json.RawMessage
	PostedAt    *time.Time
}

// LinkRecord is one canonical tag/theme attachment on a summary.
type LinkRecord struct {
	EntryID    int64
	Slug       string
	Confidence float64
	Reason     string
	IsNew      bool
}

// SummaryRecord is the full normalized output persisted for one raw item.
type SummaryRecord struct {
	RawItemID   int64
	CompanyID   int64
	SourceType  string
	Origin      string
	Gist        string
	Points      []string
	Sentiment   string
	SignalScore float64
	Language    string
	URL         *string
	PostedAt    *time.Time
	Tags        []LinkRecord
	Themes      []LinkRecord
}

// Store is the persistence surface of the processor. SaveSummary must be
// idempotent on raw item id and finalize the item as DONE.
type Store interface {
	LoadItems(ctx context.Context, ids []int64) ([]Item, error)
	MarkSkipped(ctx context.Context, id int64, reason string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	SaveSummary(ctx context.Context, record SummaryRecord) error
}

// Resolver canonicalizes one label. *vocab.Canonicalizer satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, kind vocab.Kind, label, reason string) (vocab.Resolution, error)
}

// Options tunes processing behavior.
type Options struct {
	Retries          int
	CanonConcurrency int
	RetryBackoffBase time.Duration
}

// Processor implements queue.BatchProcessor.
type Processor struct {
	store      Store
	summarizer ai.Summarizer
	resolver   Resolver
	opts       Options
	logger     zerolog.Logger
}

var _ queue.BatchProcessor = (*Processor)(nil)

func New(store Store, summarizer ai.Summarizer, resolver Resolver, logger zerolog.Logger, opts Options) *Processor {
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.CanonConcurrency <= 0 {
		opts.CanonConcurrency = DefaultCanonConcurrency
	}
	if opts.RetryBackoffBase <= 0 {
		opts.RetryBackoffBase = defaultRetryBackoffBase
	}
	return &Processor{
		store:      store,
		summarizer: summarizer,
		resolver:   resolver,
		opts:       opts,
		logger:     logger,
	}
}

type pendingItem struct {
	item    Item
	content *payloadschema.RawContent
	text    string
}

// ProcessBatch summarizes one claimed batch. Permanent payload problems mark
// items SKIPPED immediately; items the summarizer keeps omitting are retried
// with backoff and then marked FAILED. A returned error means the whole call
// chain is down and the caller should revert the batch.
func (p *Processor) ProcessBatch(ctx context.Context, ids []int64) (queue.BatchResult, error) {
	var result queue.BatchResult

	items, err := p.store.LoadItems(ctx, ids)
	if err != nil {
		return result, fmt.Errorf("load claimed items: %w", err)
	}

	pending := make([]pendingItem, 0, len(items))
	for _, item := range items {
		content, err := payloadschema.ValidateRawContent(item.Payload)
		if err != nil {
			// Unparseable content never improves on retry.
			if markErr := p.store.MarkSkipped(ctx, item.RawItemID, err.Error()); markErr != nil {
				return result, fmt.Errorf("mark item %d skipped: %w", item.RawItemID, markErr)
			}
			result.Skipped++
			continue
		}
		text := content.Text()
		if text == "" {
			if markErr := p.store.MarkSkipped(ctx, item.RawItemID, "payload has no text"); markErr != nil {
				return result, fmt.Errorf("mark item %d skipped: %w", item.RawItemID, markErr)
			}
			result.Skipped++
			continue
		}
		pending = append(pending, pendingItem{item: item, content: content, text: text})
	}

	for attempt := 0; attempt <= p.opts.Retries && len(pending) > 0; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, p.opts.RetryBackoffBase*time.Duration(attempt)); err != nil {
				return result, err
			}
		}

		requests := make([]ai.SummarizeItem, 0, len(pending))
		for _, pi := range pending {
			requests = append(requests, ai.SummarizeItem{
				ItemID:      pi.item.RawItemID,
				CompanyName: pi.item.CompanyName,
				SourceType:  pi.item.SourceType,
				Text:        pi.text,
			})
		}

		summaries, err := p.summarizer.Summarize(ctx, requests)
		if err != nil {
			if attempt == p.opts.Retries {
				return result, fmt.Errorf("summarize batch: %w", err)
			}
			p.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("summarizer call failed, retrying")
			continue
		}

		var next []pendingItem
		for _, pi := range pending {
			summary, ok := summaries[pi.item.RawItemID]
			if !ok {
				next = append(next, pi)
				continue
			}
			if err := p.finishItem(ctx, pi, summary); err != nil {
				p.logger.Error().Err(err).Int64("raw_item_id", pi.item.RawItemID).Msg("failed to persist summary")
				if markErr := p.store.MarkFailed(ctx, pi.item.RawItemID, err.Error()); markErr != nil {
					return result, fmt.Errorf("mark item %d failed: %w", pi.item.RawItemID, markErr)
				}
				result.Failed++
				continue
			}
			result.Done++
		}
		pending = next
	}

	for _, pi := range pending {
		if err := p.store.MarkFailed(ctx, pi.item.RawItemID, "summarizer omitted item"); err != nil {
			return result, fmt.Errorf("mark item %d failed: %w", pi.item.RawItemID, err)
		}
		result.Failed++
	}

	return result, nil
}

func (p *Processor) finishItem(ctx context.Context, pi pendingItem, summary ai.ItemSummary) error {
	tags, err := p.resolveConcepts(ctx, vocab.KindTag, summary.Tags)
	if err != nil {
		return err
	}
	themes, err := p.resolveConcepts(ctx, vocab.KindTheme, summary.Themes)
	if err != nil {
		return err
	}

	language := ""
	if pi.content.Language != nil {
		language = fetch.NormalizeISO(*pi.content.Language)
	}
	if language == "" {
		language = fetch.DetectISO6391(pi.text)
	}
	if language == "" {
		language = "und"
	}

	postedAt := pi.content.ParsePostedAt()
	if postedAt == nil {
		postedAt = pi.item.PostedAt
	}

	record := SummaryRecord{
		RawItemID:   pi.item.RawItemID,
		CompanyID:   pi.item.CompanyID,
		SourceType:  pi.item.SourceType,
		Origin:      pi.item.Origin,
		Gist:        strings.TrimSpace(summary.Gist),
		Points:      summary.Points,
		Sentiment:   normalizeSentiment(summary.Sentiment),
		SignalScore: summary.SignalScore,
		Language:    language,
		URL:         pi.content.URL,
		PostedAt:    postedAt,
		Tags:        tags,
		Themes:      themes,
	}

	if err := p.store.SaveSummary(ctx, record); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// resolveConcepts canonicalizes the labels with bounded fan-out. Lookups are
// independent read-mostly operations, so unlike the batch loop they may run
// concurrently.
func (p *Processor) resolveConcepts(ctx context.Context, kind vocab.Kind, concepts []ai.LabeledConcept) ([]LinkRecord, error) {
	if len(concepts) == 0 {
		return nil, nil
	}

	type slot struct {
		record LinkRecord
		err    error
		ok     bool
	}

	slots := make([]slot, len(concepts))
	sem := make(chan struct{}, p.opts.CanonConcurrency)
	var wg sync.WaitGroup

	for i, concept := range concepts {
		if strings.TrimSpace(concept.Label) == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, concept ai.LabeledConcept) {
			defer wg.Done()
			defer func() { <-sem }()

			resolution, err := p.resolver.Resolve(ctx, kind, concept.Label, concept.Reason)
			if err != nil {
				slots[i] = slot{err: err}
				return
			}
			slots[i] = slot{
				record: LinkRecord{
					EntryID:    resolution.Entry.ID,
					Slug:       resolution.Entry.Slug,
					Confidence: resolution.Confidence,
					Reason:     strings.TrimSpace(concept.Reason),
					IsNew:      resolution.IsNew,
				},
				ok: true,
			}
		}(i, concept)
	}
	wg.Wait()

	records := make([]LinkRecord, 0, len(concepts))
	seen := make(map[int64]struct{}, len(concepts))
	for _, s := range slots {
		if s.err != nil {
			return nil, fmt.Errorf("canonicalize %s: %w", kind, s.err)
		}
		if !s.ok {
			continue
		}
		// Two raw labels can land on the same canonical entry.
		if _, dup := seen[s.record.EntryID]; dup {
			continue
		}
		seen[s.record.EntryID] = struct{}{}
		records = append(records, s.record)
	}
	return records, nil
}

func normalizeSentiment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	case "mixed":
		return "mixed"
	default:
		return "neutral"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
