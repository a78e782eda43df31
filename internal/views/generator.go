package views

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

const maxViewRows = 200

// PulseEntry is one narrated signal in the pulse view.
type PulseEntry struct {
	CompanyID   int64     `json:"company_id"`
	CompanyName string    `json:"company_name"`
	SummaryText string    `json:"summary_text"`
	Tier        string    `json:"tier"`
	TierReason  string    `json:"tier_reason,omitempty"`
	SignalSlugs string    `json:"signal_slugs,omitempty"`
	URL         *string   `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TopicEntry is one aggregated topic row in the topics view.
type TopicEntry struct {
	Topic   string `json:"topic"`
	Count   int    `json:"count"`
	Notable int    `json:"notable"`
}

// CompanyEntry is one per-company rollup in the companies view.
type CompanyEntry struct {
	CompanyID   int64  `json:"company_id"`
	CompanyName string `json:"company_name"`
	Signals     int    `json:"signals"`
	Notable     int    `json:"notable"`
}

type dbGenerator struct {
	pool *db.Pool
}

// NewGenerator returns the Postgres-backed view Generator.
func NewGenerator(pool *db.Pool) Generator {
	return &dbGenerator{pool: pool}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func (g *dbGenerator) Generate(ctx context.Context, key ViewKey) (json.RawMessage, error) {
	if g == nil || g.pool == nil {
		return nil, fmt.Errorf("generator is not initialized")
	}

	since := globaltime.UTC().Add(-WindowDuration(key.Window))

	switch key.Kind {
	case KindPulse:
		return g.pulseView(ctx, key.GroupID, since)
	case KindTopics:
		return g.topicsView(ctx, key.GroupID, since)
	case KindCompanies:
		return g.companiesView(ctx, key.GroupID, since)
	default:
		return nil, fmt.Errorf("unknown view kind %q", key.Kind)
	}
}

func (g *dbGenerator) pulseView(ctx context.Context, groupID int64, since time.Time) (json.RawMessage, error) {
	query, args, err := psql.
		Select("ss.company_id", "c.name", "ss.summary_text", "ss.tier", "ss.tier_reason", "ss.signal_slugs", "ss.url", "ss.created_at").
		From("pulse.strategic_summaries ss").
		Join("pulse.companies c ON c.company_id = ss.company_id").
		Where(sq.Eq{"ss.group_id": groupID}).
		Where(sq.GtOrEq{"ss.created_at": since}).
		OrderBy("ss.created_at DESC", "ss.strategic_summary_id DESC").
		Limit(maxViewRows).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pulse query: %w", err)
	}

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pulse view: %w", err)
	}
	defer rows.Close()

	entries := []PulseEntry{}
	for rows.Next() {
		var e PulseEntry
		if err := rows.Scan(&e.CompanyID, &e.CompanyName, &e.SummaryText, &e.Tier, &e.TierReason, &e.SignalSlugs, &e.URL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pulse entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pulse entries: %w", err)
	}
	return json.Marshal(entries)
}

func (g *dbGenerator) topicsView(ctx context.Context, groupID int64, since time.Time) (json.RawMessage, error) {
	query, args, err := psql.
		Select(
			"signal_slugs",
			"COUNT(*) AS total",
			"COUNT(*) FILTER (WHERE tier = 'notable') AS notable",
		).
		From("pulse.strategic_summaries").
		Where(sq.Eq{"group_id": groupID}).
		Where(sq.GtOrEq{"created_at": since}).
		Where(sq.NotEq{"signal_slugs": ""}).
		GroupBy("signal_slugs").
		OrderBy("total DESC", "signal_slugs").
		Limit(maxViewRows).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topics query: %w", err)
	}

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics view: %w", err)
	}
	defer rows.Close()

	entries := []TopicEntry{}
	for rows.Next() {
		var e TopicEntry
		if err := rows.Scan(&e.Topic, &e.Count, &e.Notable); err != nil {
			return nil, fmt.Errorf("scan topic entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic entries: %w", err)
	}
	return json.Marshal(entries)
}

func (g *dbGenerator) companiesView(ctx context.Context, groupID int64, since time.Time) (json.RawMessage, error) {
	query, args, err := psql.
		Select(
			"ss.company_id",
			"c.name",
			"COUNT(*) AS signals",
			"COUNT(*) FILTER (WHERE ss.tier = 'notable') AS notable",
		).
		From("pulse.strategic_summaries ss").
		Join("pulse.companies c ON c.company_id = ss.company_id").
		Where(sq.Eq{"ss.group_id": groupID}).
		Where(sq.GtOrEq{"ss.created_at": since}).
		GroupBy("ss.company_id", "c.name").
		OrderBy("signals DESC", "c.name").
		Limit(maxViewRows).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build companies query: %w", err)
	}

	rows, err := g.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query companies view: %w", err)
	}
	defer rows.Close()

	entries := []CompanyEntry{}
	for rows.Next() {
		var e CompanyEntry
		if err := rows.Scan(&e.CompanyID, &e.CompanyName, &e.Signals, &e.Notable); err != nil {
			return nil, fmt.Errorf("scan company entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company entries: %w", err)
	}
	return json.Marshal(entries)
}
