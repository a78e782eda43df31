// Package queue hands out bounded batches of freshly scraped items to one
// worker at a time and recovers abandoned claims.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

const (
	DefaultLookbackWindow = 72 * time.Hour
	DefaultBatchSize      = 25
	DefaultStaleAfter     = 30 * time.Minute
)

// Queue claims and releases raw items. The claim statement is the single
// point in the pipeline that relies on storage-level row locking.
type Queue struct {
	pool   *db.Pool
	logger zerolog.Logger
}

func New(pool *db.Pool, logger zerolog.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// ClaimNextBatch atomically flips up to batchSize NEW items to PROCESSING and
// returns their ids in ascending order. Items are taken from a single
// company's backlog (oldest backlog first) so one summarizer call can cover
// the whole batch. Concurrent claims never overlap: the locking subselect
// skips rows another worker holds.
func (q *Queue) ClaimNextBatch(ctx context.Context, lookbackWindow time.Duration, batchSize int) ([]int64, error) {
	if q == nil || q.pool == nil {
		return nil, fmt.Errorf("queue is not initialized")
	}
	if lookbackWindow <= 0 {
		lookbackWindow = DefaultLookbackWindow
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	now := globaltime.UTC()
	cutoff := now.Add(-lookbackWindow)

	const claim = `
UPDATE pulse.raw_items ri
SET status = 'processing',
    claimed_at = $3,
    updated_at = $3
FROM (
	SELECT raw_item_id
	FROM pulse.raw_items
	WHERE status = 'new'
	  AND created_at >= $1
	  AND payload IS NOT NULL
	  AND length(payload::text) > 2
	  AND company_id = (
		SELECT company_id
		FROM pulse.raw_items
		WHERE status = 'new'
		  AND created_at >= $1
		  AND payload IS NOT NULL
		  AND length(payload::text) > 2
		GROUP BY company_id
		ORDER BY MIN(raw_item_id)
		LIMIT 1
	  )
	ORDER BY raw_item_id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
) candidate
WHERE ri.raw_item_id = candidate.raw_item_id
RETURNING ri.raw_item_id
`

	rows, err := q.pool.Query(ctx, claim, cutoff, batchSize, now)
	if err != nil {
		return nil, fmt.Errorf("claim raw item batch: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimed raw item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed raw item ids: %w", err)
	}
	return ids, nil
}

// RecoverStuckProcessing resets PROCESSING rows whose claim is older than
// staleAfter back to NEW. Fresher claims are untouched.
func (q *Queue) RecoverStuckProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	if q == nil || q.pool == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	now := globaltime.UTC()

	const reset = `
UPDATE pulse.raw_items
SET status = 'new',
    claimed_at = NULL,
    updated_at = $2
WHERE status = 'processing'
  AND claimed_at IS NOT NULL
  AND claimed_at < $1
`

	tag, err := q.pool.Exec(ctx, reset, now.Add(-staleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("recover stuck processing items: %w", err)
	}
	if tag.RowsAffected() > 0 {
		q.logger.Warn().Int64("recovered", tag.RowsAffected()).Msg("reset stale processing claims")
	}
	return tag.RowsAffected(), nil
}

// RevertBatch returns claimed items to NEW, typically after a batch-level
// failure or cancellation so no work is left stuck.
func (q *Queue) RevertBatch(ctx context.Context, ids []int64) error {
	if q == nil || q.pool == nil {
		return fmt.Errorf("queue is not initialized")
	}
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
UPDATE pulse.raw_items
SET status = 'new',
    claimed_at = NULL,
    updated_at = $1
WHERE status = 'processing'
  AND raw_item_id IN (%s)
`, placeholders(2, len(ids)))

	args := make([]any, 0, len(ids)+1)
	args = append(args, globaltime.UTC())
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("revert claimed batch: %w", err)
	}
	return nil
}

func placeholders(start, count int) string {
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts = append(parts, fmt.Sprintf("$%d", start+i))
	}
	return strings.Join(parts, ", ")
}
