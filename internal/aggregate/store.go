package aggregate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
	"tacit.fyi/brandpulse/internal/rules"
)

// maxScanBatch bounds one group pass; the remainder is picked up next tick.
const maxScanBatch = 500

type dbStore struct {
	pool *db.Pool
}

// NewStore returns the Postgres-backed aggregation Store.
func NewStore(pool *db.Pool) Store {
	return &dbStore{pool: pool}
}

func (s *dbStore) ListGroups(ctx context.Context) ([]Group, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("store is not initialized")
	}

	const query = `
SELECT group_id, slug, name
FROM pulse.client_groups
ORDER BY group_id
`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list client groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.GroupID, &g.Slug, &g.Name); err != nil {
			return nil, fmt.Errorf("scan client group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client groups: %w", err)
	}
	return groups, nil
}

func (s *dbStore) MaxSummaryID(ctx context.Context, groupID int64) (int64, error) {
	const query = `
SELECT COALESCE(MAX(ns.summary_id), 0)
FROM pulse.normalized_summaries ns
JOIN pulse.companies c ON c.company_id = ns.company_id
WHERE c.group_id = $1
`

	var maxID int64
	if err := s.pool.QueryRow(ctx, query, groupID).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("max summary id for group %d: %w", groupID, err)
	}
	return maxID, nil
}

func (s *dbStore) Watermark(ctx context.Context, groupID int64) (int64, error) {
	const query = `
SELECT watermark
FROM pulse.group_processing_states
WHERE group_id = $1
`

	var watermark int64
	err := s.pool.QueryRow(ctx, query, groupID).Scan(&watermark)
	if db.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load watermark for group %d: %w", groupID, err)
	}
	return watermark, nil
}

// AcquireGroupLock wins only when no live lock exists; one conditional upsert,
// so exactly one contender succeeds.
func (s *dbStore) AcquireGroupLock(ctx context.Context, groupID int64, ttl time.Duration) (bool, error) {
	now := globaltime.UTC()

	const acquire = `
INSERT INTO pulse.group_processing_states (group_id, watermark, lock_expires_at, updated_at)
VALUES ($1, 0, $2, $3)
ON CONFLICT (group_id) DO UPDATE
SET lock_expires_at = $2,
    updated_at = $3
WHERE pulse.group_processing_states.lock_expires_at IS NULL
   OR pulse.group_processing_states.lock_expires_at < $3
`

	tag, err := s.pool.Exec(ctx, acquire, groupID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lock for group %d: %w", groupID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *dbStore) ReleaseGroupLock(ctx context.Context, groupID int64) error {
	now := globaltime.UTC()

	const release = `
UPDATE pulse.group_processing_states
SET lock_expires_at = NULL,
    last_run_at = $2,
    updated_at = $2
WHERE group_id = $1
`

	if _, err := s.pool.Exec(ctx, release, groupID, now); err != nil {
		return fmt.Errorf("release lock for group %d: %w", groupID, err)
	}
	return nil
}

func (s *dbStore) LoadSummariesAfter(ctx context.Context, groupID, afterID int64) ([]GroupSummary, error) {
	const query = `
SELECT ns.summary_id, ns.company_id, c.name, ns.source_type, ns.origin, ns.gist,
       ns.points, ns.sentiment, ns.signal_score, ns.language, ns.url, ns.posted_at
FROM pulse.normalized_summaries ns
JOIN pulse.companies c ON c.company_id = ns.company_id
WHERE c.group_id = $1
  AND ns.summary_id > $2
ORDER BY ns.summary_id
LIMIT $3
`

	rows, err := s.pool.Query(ctx, query, groupID, afterID, maxScanBatch)
	if err != nil {
		return nil, fmt.Errorf("load summaries for group %d: %w", groupID, err)
	}
	defer rows.Close()

	var summaries []GroupSummary
	for rows.Next() {
		var gs GroupSummary
		var points string
		var postedAt *time.Time
		if err := rows.Scan(
			&gs.SummaryID,
			&gs.CompanyID,
			&gs.CompanyName,
			&gs.SourceType,
			&gs.Origin,
			&gs.Gist,
			&points,
			&gs.Sentiment,
			&gs.SignalScore,
			&gs.Language,
			&gs.URL,
			&postedAt,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if points != "" {
			gs.Points = strings.Split(points, "\n")
		}
		if postedAt != nil {
			gs.PostedAt = postedAt.UTC()
		}
		summaries = append(summaries, gs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}

	if err := s.attachConcepts(ctx, summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// attachConcepts loads canonical tag and theme links for the loaded summaries
// in two batched queries.
func (s *dbStore) attachConcepts(ctx context.Context, summaries []GroupSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	index := make(map[int64]int, len(summaries))
	args := make([]any, 0, len(summaries))
	for i, gs := range summaries {
		index[gs.SummaryID] = i
		args = append(args, gs.SummaryID)
	}
	in := placeholders(1, len(summaries))

	tagQuery := fmt.Sprintf(`
SELECT l.summary_id, t.slug, t.name, l.is_new
FROM pulse.summary_tag_links l
JOIN pulse.canonical_tags t ON t.tag_id = l.tag_id
WHERE l.summary_id IN (%s)
`, in)

	if err := s.scanConcepts(ctx, tagQuery, args, func(summaryID int64, c rules.Concept) {
		i := index[summaryID]
		summaries[i].Tags = append(summaries[i].Tags, c)
	}); err != nil {
		return fmt.Errorf("load tag links: %w", err)
	}

	themeQuery := fmt.Sprintf(`
SELECT l.summary_id, t.slug, t.name, l.is_new
FROM pulse.summary_theme_links l
JOIN pulse.canonical_themes t ON t.theme_id = l.theme_id
WHERE l.summary_id IN (%s)
`, in)

	if err := s.scanConcepts(ctx, themeQuery, args, func(summaryID int64, c rules.Concept) {
		i := index[summaryID]
		summaries[i].Themes = append(summaries[i].Themes, c)
	}); err != nil {
		return fmt.Errorf("load theme links: %w", err)
	}

	return nil
}

func (s *dbStore) scanConcepts(ctx context.Context, query string, args []any, attach func(int64, rules.Concept)) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var summaryID int64
		var concept rules.Concept
		if err := rows.Scan(&summaryID, &concept.Slug, &concept.Name, &concept.IsNew); err != nil {
			return err
		}
		attach(summaryID, concept)
	}
	return rows.Err()
}

// InsertStrategicSummaries inserts rows whose source key is new for the
// (group, period) pair and reports how many actually landed.
func (s *dbStore) InsertStrategicSummaries(ctx context.Context, rows []StrategicRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin strategic insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := globaltime.UTC()
	inserted := 0

	const insert = `
INSERT INTO pulse.strategic_summaries
	(group_id, company_id, period_type, source_key, summary_text, tier, tier_reason, signal_slugs, url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (group_id, period_type, source_key) DO NOTHING
`

	for _, row := range rows {
		tag, err := tx.Exec(ctx, insert,
			row.GroupID,
			row.CompanyID,
			row.PeriodType,
			row.SourceKey,
			row.SummaryText,
			row.Tier,
			row.TierReason,
			row.SignalSlugs,
			row.URL,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert strategic summary %s: %w", row.SourceKey, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit strategic insert: %w", err)
	}
	return inserted, nil
}

// AdvanceWatermark moves the cursor forward only; a stale writer can never
// drag it back.
func (s *dbStore) AdvanceWatermark(ctx context.Context, groupID, watermark int64) error {
	now := globaltime.UTC()

	const advance = `
INSERT INTO pulse.group_processing_states (group_id, watermark, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (group_id) DO UPDATE
SET watermark = GREATEST(pulse.group_processing_states.watermark, EXCLUDED.watermark),
    updated_at = $3
`

	if _, err := s.pool.Exec(ctx, advance, groupID, watermark, now); err != nil {
		return fmt.Errorf("advance watermark for group %d: %w", groupID, err)
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
