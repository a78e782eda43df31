package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
	"tacit.fyi/brandpulse/internal/vocab"
)

type memoryStore struct {
	items   map[int64]Item
	skipped map[int64]string
	failed  map[int64]string
	saved   []SummaryRecord
}

func newMemoryStore(items ...Item) *memoryStore {
	s := &memoryStore{
		items:   make(map[int64]Item),
		skipped: make(map[int64]string),
		failed:  make(map[int64]string),
	}
	for _, item := range items {
		s.items[item.RawItemID] = item
	}
	return s
}

func (s *memoryStore) LoadItems(_ context.Context, ids []int64) ([]Item, error) {
	var out []Item
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *memoryStore) MarkSkipped(_ context.Context, id int64, reason string) error {
	s.skipped[id] = reason
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, id int64, reason string) error {
	s.failed[id] = reason
	return nil
}

func (s *memoryStore) SaveSummary(_ context.Context, record SummaryRecord) error {
	s.saved = append(s.saved, record)
	return nil
}

type stubSummarizer struct {
	calls   int
	omit    map[int64]int // item id -> number of calls to omit it from
	failFor int           // whole-call errors for the first N calls
}

func (s *stubSummarizer) Summarize(_ context.Context, items []ai.SummarizeItem) (map[int64]ai.ItemSummary, error) {
	s.calls++
	if s.calls <= s.failFor {
		return nil, fmt.Errorf("summarizer unavailable")
	}
	out := make(map[int64]ai.ItemSummary, len(items))
	for _, item := range items {
		if s.calls <= s.omit[item.ItemID] {
			continue
		}
		out[item.ItemID] = ai.ItemSummary{
			Gist:        fmt.Sprintf("gist for %d", item.ItemID),
			Points:      []string{"point one", "point two"},
			Sentiment:   "Positive",
			SignalScore: 0.7,
			Tags:        []ai.LabeledConcept{{Label: "pricing", Reason: "mentions pricing"}},
			Themes:      []ai.LabeledConcept{{Label: "value for money", Reason: "cost sentiment"}},
		}
	}
	return out, nil
}

type stubResolver struct {
	calls int
	fail  bool
}

func (r *stubResolver) Resolve(_ context.Context, kind vocab.Kind, label, _ string) (vocab.Resolution, error) {
	r.calls++
	if r.fail {
		return vocab.Resolution{}, fmt.Errorf("embedding service down")
	}
	return vocab.Resolution{
		Entry:      vocab.Entry{ID: int64(len(label)), Name: label, Slug: vocab.Slugify(label)},
		Confidence: 1,
		Method:     vocab.MethodExact,
	}, nil
}

func validPayload(t *testing.T, title string) json.RawMessage {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"payload_version": "v1",
		"source":          "trustpilot",
		"source_item_id":  "abc-1",
		"title":           title,
		"body_text":       "The product keeps getting better but support is slow.",
		"url":             "https://example.com/review/1",
		"language":        "en",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func testItem(t *testing.T, id int64) Item {
	t.Helper()
	return Item{
		RawItemID:   id,
		CompanyID:   7,
		CompanyName: "Acme",
		SourceType:  "review",
		Origin:      "user_generated",
		Payload:     validPayload(t, fmt.Sprintf("Review %d", id)),
	}
}

func newTestProcessor(store Store, summarizer ai.Summarizer, resolver Resolver) *Processor {
	return New(store, summarizer, resolver, zerolog.Nop(), Options{
		Retries:          2,
		RetryBackoffBase: time.Millisecond,
	})
}

func TestProcessBatch_HappyPath(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(testItem(t, 1), testItem(t, 2))
	summarizer := &stubSummarizer{}
	resolver := &stubResolver{}

	result, err := newTestProcessor(store, summarizer, resolver).ProcessBatch(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if result.Done != 2 || result.Failed != 0 || result.Skipped != 0 {
		t.Errorf("result = %+v, want Done=2", result)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saved %d summaries, want 2", len(store.saved))
	}

	first := store.saved[0]
	if first.Sentiment != "positive" {
		t.Errorf("Sentiment = %q, want normalized %q", first.Sentiment, "positive")
	}
	if first.Language != "en" {
		t.Errorf("Language = %q, want %q from payload", first.Language, "en")
	}
	if len(first.Tags) != 1 || first.Tags[0].Slug != "pricing" {
		t.Errorf("Tags = %+v, want one pricing link", first.Tags)
	}
	if len(first.Themes) != 1 {
		t.Errorf("Themes = %+v, want one link", first.Themes)
	}
}

func TestProcessBatch_InvalidPayloadSkipsImmediately(t *testing.T) {
	t.Parallel()

	broken := Item{RawItemID: 3, CompanyID: 7, CompanyName: "Acme", SourceType: "review", Payload: json.RawMessage(`{"source":"x"}`)}
	store := newMemoryStore(testItem(t, 1), broken)
	summarizer := &stubSummarizer{}

	result, err := newTestProcessor(store, summarizer, &stubResolver{}).ProcessBatch(context.Background(), []int64{1, 3})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if result.Skipped != 1 || result.Done != 1 {
		t.Errorf("result = %+v, want Skipped=1 Done=1", result)
	}
	if _, ok := store.skipped[3]; !ok {
		t.Error("item 3 not marked skipped")
	}
	if summarizer.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1 (skipped item excluded)", summarizer.calls)
	}
}

func TestProcessBatch_OmittedItemRetriedThenFailed(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(testItem(t, 1), testItem(t, 2))
	// Item 2 is omitted from every response within the retry budget.
	summarizer := &stubSummarizer{omit: map[int64]int{2: 10}}

	result, err := newTestProcessor(store, summarizer, &stubResolver{}).ProcessBatch(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if result.Done != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want Done=1 Failed=1", result)
	}
	if _, ok := store.failed[2]; !ok {
		t.Error("item 2 not marked failed")
	}
	// 1 initial call + 2 retries.
	if summarizer.calls != 3 {
		t.Errorf("summarizer calls = %d, want 3", summarizer.calls)
	}
}

func TestProcessBatch_OmittedItemRecoversOnRetry(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(testItem(t, 1), testItem(t, 2))
	summarizer := &stubSummarizer{omit: map[int64]int{2: 1}}

	result, err := newTestProcessor(store, summarizer, &stubResolver{}).ProcessBatch(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if result.Done != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want Done=2", result)
	}
	if summarizer.calls != 2 {
		t.Errorf("summarizer calls = %d, want 2", summarizer.calls)
	}
}

func TestProcessBatch_SummarizerDownReturnsBatchError(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(testItem(t, 1))
	summarizer := &stubSummarizer{failFor: 10}

	result, err := newTestProcessor(store, summarizer, &stubResolver{}).ProcessBatch(context.Background(), []int64{1})
	if err == nil {
		t.Fatal("expected batch error when summarizer is down")
	}
	if result.Done != 0 {
		t.Errorf("Done = %d, want 0", result.Done)
	}
	if len(store.failed) != 0 {
		t.Errorf("items marked failed = %v, want none (batch error reverts claims)", store.failed)
	}
}

func TestProcessBatch_ResolverFailureMarksItemFailed(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(testItem(t, 1))
	resolver := &stubResolver{fail: true}

	result, err := newTestProcessor(store, &stubSummarizer{}, resolver).ProcessBatch(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if result.Failed != 1 || result.Done != 0 {
		t.Errorf("result = %+v, want Failed=1", result)
	}
	if _, ok := store.failed[1]; !ok {
		t.Error("item 1 not marked failed")
	}
}

func TestResolveConcepts_CollapsesDuplicateEntries(t *testing.T) {
	t.Parallel()

	p := newTestProcessor(newMemoryStore(), &stubSummarizer{}, &stubResolver{})

	// Both labels have the same length, so the stub resolver returns the same
	// canonical entry id for each.
	records, err := p.resolveConcepts(context.Background(), vocab.KindTag, []ai.LabeledConcept{
		{Label: "pricing", Reason: "a"},
		{Label: "billing", Reason: "b"},
	})
	if err != nil {
		t.Fatalf("resolveConcepts: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %+v, want duplicates collapsed to 1", records)
	}
}
