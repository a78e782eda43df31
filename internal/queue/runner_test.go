package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type stubClaimer struct {
	batches  [][]int64
	claims   int
	reverted [][]int64
}

func (c *stubClaimer) ClaimNextBatch(_ context.Context, _ time.Duration, _ int) ([]int64, error) {
	if c.claims >= len(c.batches) {
		return nil, nil
	}
	batch := c.batches[c.claims]
	c.claims++
	return batch, nil
}

func (c *stubClaimer) RevertBatch(_ context.Context, ids []int64) error {
	c.reverted = append(c.reverted, ids)
	return nil
}

type stubProcessor struct {
	failOn map[int]error
	calls  int
	cancel context.CancelFunc
}

func (p *stubProcessor) ProcessBatch(_ context.Context, ids []int64) (BatchResult, error) {
	p.calls++
	if p.cancel != nil {
		p.cancel()
		return BatchResult{}, context.Canceled
	}
	if err, ok := p.failOn[p.calls]; ok {
		return BatchResult{}, err
	}
	return BatchResult{Done: len(ids)}, nil
}

type stubLocker struct {
	denied   bool
	acquires int
	releases int
}

func (l *stubLocker) Acquire(_ context.Context, _ string, _ time.Duration) (bool, error) {
	l.acquires++
	return !l.denied, nil
}

func (l *stubLocker) Release(_ context.Context, _ string) error {
	l.releases++
	return nil
}

func TestRun_ProcessesUntilBacklogEmpty(t *testing.T) {
	t.Parallel()

	claimer := &stubClaimer{batches: [][]int64{{1, 2, 3}, {4, 5}}}
	processor := &stubProcessor{}
	locker := &stubLocker{}

	runner := NewRunner(claimer, processor, locker, zerolog.Nop())
	result, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.LockHeld {
		t.Error("LockHeld = false, want true")
	}
	if result.Batches != 2 {
		t.Errorf("Batches = %d, want 2", result.Batches)
	}
	if result.Claimed != 5 || result.Done != 5 {
		t.Errorf("Claimed/Done = %d/%d, want 5/5", result.Claimed, result.Done)
	}
	if locker.releases != 1 {
		t.Errorf("lock released %d times, want 1", locker.releases)
	}
}

func TestRun_SkipsWhenLockHeldElsewhere(t *testing.T) {
	t.Parallel()

	claimer := &stubClaimer{batches: [][]int64{{1}}}
	locker := &stubLocker{denied: true}

	runner := NewRunner(claimer, &stubProcessor{}, locker, zerolog.Nop())
	result, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.LockHeld {
		t.Error("LockHeld = true, want false")
	}
	if claimer.claims != 0 {
		t.Errorf("claims = %d, want 0", claimer.claims)
	}
	if locker.releases != 0 {
		t.Errorf("lock released %d times, want 0", locker.releases)
	}
}

func TestRun_BatchFailureRevertsAndContinues(t *testing.T) {
	t.Parallel()

	claimer := &stubClaimer{batches: [][]int64{{1, 2}, {3, 4}}}
	processor := &stubProcessor{failOn: map[int]error{1: fmt.Errorf("summarizer down")}}

	runner := NewRunner(claimer, processor, &stubLocker{}, zerolog.Nop())
	result, err := runner.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(claimer.reverted) != 1 || len(claimer.reverted[0]) != 2 {
		t.Fatalf("reverted = %v, want one batch of 2", claimer.reverted)
	}
	if result.Reverted != 2 {
		t.Errorf("Reverted = %d, want 2", result.Reverted)
	}
	// The failed batch still consumed budget; the second batch succeeded.
	if result.Batches != 2 || result.Done != 2 {
		t.Errorf("Batches/Done = %d/%d, want 2/2", result.Batches, result.Done)
	}
}

func TestRun_StopsAtMaxBatches(t *testing.T) {
	t.Parallel()

	claimer := &stubClaimer{batches: [][]int64{{1}, {2}, {3}, {4}}}
	runner := NewRunner(claimer, &stubProcessor{}, &stubLocker{}, zerolog.Nop())

	result, err := runner.Run(context.Background(), RunOptions{MaxBatches: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Batches != 2 {
		t.Errorf("Batches = %d, want 2", result.Batches)
	}
	if claimer.claims != 2 {
		t.Errorf("claims = %d, want 2", claimer.claims)
	}
}

func TestRun_CancellationRevertsInFlightClaims(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	claimer := &stubClaimer{batches: [][]int64{{1, 2}, {3}}}
	processor := &stubProcessor{cancel: cancel}
	locker := &stubLocker{}

	runner := NewRunner(claimer, processor, locker, zerolog.Nop())
	_, err := runner.Run(ctx, RunOptions{})
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	if len(claimer.reverted) != 1 {
		t.Fatalf("reverted %d batches, want 1", len(claimer.reverted))
	}
	if locker.releases != 1 {
		t.Errorf("lock released %d times, want 1", locker.releases)
	}
	if processor.calls != 1 {
		t.Errorf("processor called %d times, want 1", processor.calls)
	}
}
