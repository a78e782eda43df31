package processor

import (
	"context"
	"fmt"
	"strings"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

type dbStore struct {
	pool *db.Pool
}

// NewStore returns the Postgres-backed Store.
func NewStore(pool *db.Pool) Store {
	return &dbStore{pool: pool}
}

func (s *dbStore) LoadItems(ctx context.Context, ids []int64) ([]Item, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT ri.raw_item_id, ri.company_id, c.name, ri.source_type, ri.origin, ri.payload, ri.posted_at
FROM pulse.raw_items ri
JOIN pulse.companies c ON c.company_id = ri.company_id
WHERE ri.raw_item_id IN (%s)
ORDER BY ri.raw_item_id
`, idPlaceholders(1, len(ids)))

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load raw items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.RawItemID,
			&item.CompanyID,
			&item.CompanyName,
			&item.SourceType,
			&item.Origin,
			&item.Payload,
			&item.PostedAt,
		); err != nil {
			return nil, fmt.Errorf("scan raw item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate raw items: %w", err)
	}
	return items, nil
}

func (s *dbStore) MarkSkipped(ctx context.Context, id int64, reason string) error {
	return s.finalize(ctx, id, db.RawItemStatusSkipped, reason)
}

func (s *dbStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	return s.finalize(ctx, id, db.RawItemStatusFailed, reason)
}

func (s *dbStore) finalize(ctx context.Context, id int64, status, reason string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not initialized")
	}

	const update = `
UPDATE pulse.raw_items
SET status = $2,
    claimed_at = NULL,
    updated_at = $3
WHERE raw_item_id = $1
`

	if _, err := s.pool.Exec(ctx, update, id, status, globaltime.UTC()); err != nil {
		return fmt.Errorf("mark raw item %d %s: %w", id, status, err)
	}
	return nil
}

// SaveSummary writes the summary, its canonical links, and the DONE status in
// one transaction. Reprocessing an already-summarized item is a no-op thanks
// to the unique raw_item_id and ON CONFLICT DO NOTHING.
func (s *dbStore) SaveSummary(ctx context.Context, record SummaryRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not initialized")
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin summary transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()

	const insertSummary = `
INSERT INTO pulse.normalized_summaries
	(raw_item_id, company_id, source_type, origin, gist, points, sentiment, signal_score, language, url, posted_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (raw_item_id) DO NOTHING
RETURNING summary_id
`

	var summaryID int64
	err = tx.QueryRow(ctx, insertSummary,
		record.RawItemID,
		record.CompanyID,
		record.SourceType,
		record.Origin,
		record.Gist,
		strings.Join(record.Points, "\n"),
		record.Sentiment,
		record.SignalScore,
		record.Language,
		record.URL,
		record.PostedAt,
		now,
	).Scan(&summaryID)
	if db.IsNoRows(err) {
		// Someone already summarized this item; reuse their row for the links.
		const find = `SELECT summary_id FROM pulse.normalized_summaries WHERE raw_item_id = $1`
		if err := tx.QueryRow(ctx, find, record.RawItemID).Scan(&summaryID); err != nil {
			return fmt.Errorf("find existing summary for raw item %d: %w", record.RawItemID, err)
		}
	} else if err != nil {
		return fmt.Errorf("insert summary for raw item %d: %w", record.RawItemID, err)
	}

	for _, tag := range record.Tags {
		const link = `
INSERT INTO pulse.summary_tag_links (summary_id, tag_id, confidence, reason, is_new, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (summary_id, tag_id) DO NOTHING
`
		if _, err := tx.Exec(ctx, link, summaryID, tag.EntryID, tag.Confidence, tag.Reason, tag.IsNew, now); err != nil {
			return fmt.Errorf("link tag %d to summary %d: %w", tag.EntryID, summaryID, err)
		}
	}
	for _, theme := range record.Themes {
		const link = `
INSERT INTO pulse.summary_theme_links (summary_id, theme_id, confidence, reason, is_new, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (summary_id, theme_id) DO NOTHING
`
		if _, err := tx.Exec(ctx, link, summaryID, theme.EntryID, theme.Confidence, theme.Reason, theme.IsNew, now); err != nil {
			return fmt.Errorf("link theme %d to summary %d: %w", theme.EntryID, summaryID, err)
		}
	}

	const markDone = `
UPDATE pulse.raw_items
SET status = 'done',
    claimed_at = NULL,
    updated_at = $2
WHERE raw_item_id = $1
`
	if _, err := tx.Exec(ctx, markDone, record.RawItemID, now); err != nil {
		return fmt.Errorf("mark raw item %d done: %w", record.RawItemID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit summary transaction: %w", err)
	}
	return nil
}

func idPlaceholders(start, count int) string {
	parts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		parts = append(parts, fmt.Sprintf("$%d", start+i))
	}
	return strings.Join(parts, ", ")
}
