package vocab

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/ai"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[Kind][]Entry
	nextID  int64
	creates int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[Kind][]Entry), nextID: 1}
}

func (s *memoryStore) List(_ context.Context, kind Kind) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries[kind]))
	copy(out, s.entries[kind])
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, kind Kind, entry NewEntry) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	for _, existing := range s.entries[kind] {
		if existing.Name == entry.Name {
			return existing, false, nil
		}
	}
	created := Entry{
		ID:          s.nextID,
		Kind:        kind,
		Name:        entry.Name,
		Description: entry.Description,
		Embedding:   entry.Embedding,
		Slug:        Slugify(entry.Name),
	}
	s.nextID++
	s.entries[kind] = append(s.entries[kind], created)
	return created, true, nil
}

func (s *memoryStore) add(kind Kind, name string, embedding []float64) Entry {
	entry, _, _ := s.Create(context.Background(), kind, NewEntry{Name: name, Embedding: embedding})
	return entry
}

type stubEmbedder struct {
	vector []float64
	calls  int
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	e.calls++
	return e.vector, nil
}

type stubArbiter struct {
	judgment ai.Judgment
	err      error
	calls    int
	lastCall []ai.Candidate
}

func (a *stubArbiter) Judge(_ context.Context, _, _ string, candidates []ai.Candidate) (ai.Judgment, error) {
	a.calls++
	a.lastCall = candidates
	if a.err != nil {
		return ai.Judgment{}, a.err
	}
	return a.judgment, nil
}

// unitVectorWithCosine builds a 2D unit vector whose cosine against [1,0] is c.
func unitVectorWithCosine(c float64) []float64 {
	return []float64{c, math.Sqrt(1 - c*c)}
}

var queryVector = []float64{1, 0}

func newTestCanonicalizer(store Store, embedder ai.Embedder, arbiter ai.Arbitrator) *Canonicalizer {
	return NewCanonicalizer(store, embedder, arbiter, zerolog.Nop())
}

func TestResolve_ExactMatchSkipsEmbedding(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(KindTag, "slow support", unitVectorWithCosine(0.5))
	embedder := &stubEmbedder{vector: queryVector}

	c := newTestCanonicalizer(store, embedder, nil)
	res, err := c.Resolve(context.Background(), KindTag, "negative: Slow Support", "replies take weeks")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != MethodExact {
		t.Errorf("method = %q, want exact", res.Method)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", res.Confidence)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder called %d times, want 0", embedder.calls)
	}
}

func TestResolve_AcceptsClearVectorWinner(t *testing.T) {
	t.Parallel()

	// best=0.91, second=0.89: margin 0.02 clears the 0.015 bar.
	store := newMemoryStore()
	winner := store.add(KindTag, "billing errors", unitVectorWithCosine(0.91))
	store.add(KindTag, "pricing complaints", unitVectorWithCosine(0.89))
	arbiter := &stubArbiter{}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	res, err := c.Resolve(context.Background(), KindTag, "wrong invoices", "customers double charged")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != MethodVector {
		t.Fatalf("method = %q, want vector", res.Method)
	}
	if res.Entry.ID != winner.ID {
		t.Errorf("entry id = %d, want %d", res.Entry.ID, winner.ID)
	}
	if arbiter.calls != 0 {
		t.Errorf("arbiter called %d times, want 0", arbiter.calls)
	}
}

func TestResolve_ThinMarginTriggersArbitration(t *testing.T) {
	t.Parallel()

	// best=0.88, second=0.87: inside the ambiguous band with margin 0.01.
	store := newMemoryStore()
	expected := store.add(KindTag, "billing errors", unitVectorWithCosine(0.88))
	store.add(KindTag, "pricing complaints", unitVectorWithCosine(0.87))
	arbiter := &stubArbiter{
		judgment: ai.Judgment{
			Decision:   ai.DecisionMatch,
			BestID:     expected.ID,
			Confidence: 0.8,
			Rationale:  "same underlying complaint",
		},
	}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	res, err := c.Resolve(context.Background(), KindTag, "invoice problems", "customers double charged")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if arbiter.calls != 1 {
		t.Fatalf("arbiter called %d times, want 1", arbiter.calls)
	}
	if res.Method != MethodArbitrated {
		t.Errorf("method = %q, want arbitrated", res.Method)
	}
	if res.Entry.ID != expected.ID {
		t.Errorf("entry id = %d, want %d", res.Entry.ID, expected.ID)
	}
}

func TestResolve_LowConfidenceArbitrationCreatesNew(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(KindTag, "billing errors", unitVectorWithCosine(0.88))
	store.add(KindTag, "pricing complaints", unitVectorWithCosine(0.87))
	arbiter := &stubArbiter{
		judgment: ai.Judgment{Decision: ai.DecisionMatch, BestID: 1, Confidence: 0.5},
	}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	res, err := c.Resolve(context.Background(), KindTag, "invoice problems", "double charged")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != MethodCreated {
		t.Errorf("method = %q, want created", res.Method)
	}
	if !res.IsNew {
		t.Error("IsNew = false, want true")
	}
}

func TestResolve_ArbiterFailureDegradesToCreate(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(KindTheme, "product reliability", unitVectorWithCosine(0.88))
	store.add(KindTheme, "product quality", unitVectorWithCosine(0.875))
	arbiter := &stubArbiter{err: fmt.Errorf("arbiter timeout")}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	res, err := c.Resolve(context.Background(), KindTheme, "device stability", "crashes reported")
	if err != nil {
		t.Fatalf("Resolve should not fail when the arbiter is down: %v", err)
	}
	if res.Method != MethodCreated {
		t.Errorf("method = %q, want created", res.Method)
	}
	if arbiter.calls != 1 {
		t.Errorf("arbiter called %d times, want 1", arbiter.calls)
	}
}

func TestResolve_DistantBestCreatesWithoutArbitration(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(KindTag, "shipping delays", unitVectorWithCosine(0.4))
	arbiter := &stubArbiter{}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	res, err := c.Resolve(context.Background(), KindTag, "checkout bugs", "cart empties itself")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Method != MethodCreated {
		t.Errorf("method = %q, want created", res.Method)
	}
	if arbiter.calls != 0 {
		t.Errorf("arbiter called %d times, want 0", arbiter.calls)
	}
	if res.Entry.Slug != "checkout-bugs" {
		t.Errorf("slug = %q, want checkout-bugs", res.Entry.Slug)
	}
}

func TestResolve_IdempotentAgainstUnchangedVocabulary(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, nil)

	first, err := c.Resolve(context.Background(), KindTag, "checkout bugs", "cart empties itself")
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := c.Resolve(context.Background(), KindTag, "checkout bugs", "cart empties itself")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if first.Entry.ID != second.Entry.ID {
		t.Errorf("ids differ: %d vs %d", first.Entry.ID, second.Entry.ID)
	}
	if !first.IsNew {
		t.Error("first resolution should create the entry")
	}
	if second.IsNew {
		t.Error("second resolution should not create a duplicate")
	}
	if len(store.entries[KindTag]) != 1 {
		t.Errorf("vocabulary has %d entries, want 1", len(store.entries[KindTag]))
	}
}

func TestResolve_ArbitrationCandidatesCappedAtFive(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.add(KindTag, "target entry", unitVectorWithCosine(0.88))
	store.add(KindTag, "runner up", unitVectorWithCosine(0.875))
	for i := 0; i < 6; i++ {
		store.add(KindTag, fmt.Sprintf("filler %d", i), unitVectorWithCosine(0.5))
	}
	arbiter := &stubArbiter{judgment: ai.Judgment{Decision: ai.DecisionNoMatch}}

	c := newTestCanonicalizer(store, &stubEmbedder{vector: queryVector}, arbiter)
	if _, err := c.Resolve(context.Background(), KindTag, "target thing", "reason"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(arbiter.lastCall) != 5 {
		t.Errorf("arbiter received %d candidates, want 5", len(arbiter.lastCall))
	}
}

func TestStripSentimentMarker(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"negative: slow support", "slow support"},
		{"Positive: fast shipping", "fast shipping"},
		{"+ fast shipping", "fast shipping"},
		{"- broken parts", "broken parts"},
		{"plain label", "plain label"},
		{"neutral:no space", "no space"},
	}
	for _, tc := range cases {
		if got := StripSentimentMarker(tc.in); got != tc.want {
			t.Errorf("StripSentimentMarker(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float64{0.25, -1, 3.5}
	literal, err := FormatVectorLiteral(in)
	if err != nil {
		t.Fatalf("FormatVectorLiteral: %v", err)
	}
	out, err := ParseVectorLiteral(literal)
	if err != nil {
		t.Fatalf("ParseVectorLiteral: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip length %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("component %d = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := FormatVectorLiteral([]float64{math.NaN()}); err == nil {
		t.Error("expected error for NaN component")
	}
	if _, err := ParseVectorLiteral("1,2,3"); err == nil {
		t.Error("expected error for unbracketed literal")
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors cosine = %v, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors cosine = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}); got != 0 {
		t.Errorf("dimension mismatch cosine = %v, want 0", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors cosine = %v, want 0", got)
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Slow Support", "slow-support"},
		{"  billing / errors  ", "billing-errors"},
		{"launch!!", "launch"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if !strings.HasPrefix(Slugify("Ünïcode Name"), "ünïcode") {
		t.Error("Slugify should keep unicode letters")
	}
}
