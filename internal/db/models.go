package db

import (
	"encoding/json"
	"time"
)

// Raw item lifecycle statuses.
const (
	RawItemStatusNew        = "new"
	RawItemStatusProcessing = "processing"
	RawItemStatusDone       = "done"
	RawItemStatusFailed     = "failed"
	RawItemStatusSkipped    = "skipped"
)

// Raw item origins.
const (
	OriginCompanyGenerated = "company_generated"
	OriginUserGenerated    = "user_generated"
)

// Source types.
const (
	SourceTypeReview = "review"
	SourceTypeSocial = "social"
	SourceTypeOwned  = "owned"
)

// ClientGroup maps pulse.client_groups.
type ClientGroup struct {
	GroupID   int64     `gorm:"column:group_id;primaryKey;autoIncrement"`
	Slug      string    `gorm:"column:slug;type:text;not null;unique"`
	Name      string    `gorm:"column:name;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ClientGroup) TableName() string { return "pulse.client_groups" }

// Company maps pulse.companies.
type Company struct {
	CompanyID int64     `gorm:"column:company_id;primaryKey;autoIncrement"`
	GroupID   int64     `gorm:"column:group_id;type:bigint;not null;index"`
	Slug      string    `gorm:"column:slug;type:text;not null;unique"`
	Name      string    `gorm:"column:name;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (Company) TableName() string { return "pulse.companies" }

// RawItem maps pulse.raw_items: one scraped unit awaiting processing.
type RawItem struct {
	RawItemID  int64           `gorm:"column:raw_item_id;primaryKey;autoIncrement"`
	CompanyID  int64           `gorm:"column:company_id;type:bigint;not null;index"`
	SourceType string          `gorm:"column:source_type;type:text;not null"`
	Origin     string          `gorm:"column:origin;type:text;not null;default:user_generated"`
	Status     string          `gorm:"column:status;type:text;not null;default:new;index:idx_raw_items_status_claimed,priority:1"`
	ClaimedAt  *time.Time      `gorm:"column:claimed_at;type:timestamptz;index:idx_raw_items_status_claimed,priority:2"`
	PostedAt   *time.Time      `gorm:"column:posted_at;type:timestamptz"`
	Payload    json.RawMessage `gorm:"column:payload;type:jsonb"`
	CreatedAt  time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (RawItem) TableName() string { return "pulse.raw_items" }

/// NormalizedSummary maps pulse.normalized_summaries: at most one per raw item.
type NormalizedSummary struct {
	SummaryID   int64     `gorm:"column:summary_id;primaryKey;autoIncrement"`
	RawItemID   int64     `gorm:"column:raw_item_id;type:bigint;not null;unique"`
	CompanyID   int64     `gorm:"column:company_id;type:bigint;not null;index"`
	SourceType  string    `gorm:"column:source_type;type:text;not null"`
	Origin      string    `gorm:"column:origin;type:text;not null;default:user_generated"`
	Gist        string    `gorm:"column:gist;type:text;not null"`
	Points      string    `gorm:"column:points;type:text;not null;default:''"`
	Sentiment   string    `gorm:"column:sentiment;type:text;not null;default:neutral"`
	SignalScore float64   `gorm:"column:signal_score;type:double precision;not null;default:0"`
	Language    string    `gorm:"column:language;type:text;not null;default:und"`
	URL         *string   `gorm:"column:url;type:text"`
	PostedAt    *time.Time `gorm:"column:posted_at;type:timestamptz"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (NormalizedSummary) TableName() string { return "pulse.normalized_summaries" }

// SummaryTagLink maps pulse.summary_tag_links.
type SummaryTagLink struct {
	LinkID     int64     `gorm:"column:link_id;primaryKey;autoIncrement"`
	SummaryID  int64     `gorm:"column:summary_id;type:bigint;not null;uniqueIndex:uq_summary_tag,priority:1"`
	TagID      int64     `gorm:"column:tag_id;type:bigint;not null;uniqueIndex:uq_summary_tag,priority:2"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null"`
	Reason     string    `gorm:"column:reason;type:text;not null;default:''"`
	IsNew      bool      `gorm:"column:is_new;type:boolean;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SummaryTagLink) TableName() string { return "pulse.summary_tag_links" }

// SummaryThemeLink maps pulse.summary_theme_links.
type SummaryThemeLink struct {
	LinkID     int64     `gorm:"column:link_id;primaryKey;autoIncrement"`
	SummaryID  int64     `gorm:"column:summary_id;type:bigint;not null;uniqueIndex:uq_summary_theme,priority:1"`
	ThemeID    int64     `gorm:"column:theme_id;type:bigint;not null;uniqueIndex:uq_summary_theme,priority:2"`
	Confidence float64   `gorm:"column:confidence;type:double precision;not null"`
	Reason     string    `gorm:"column:reason;type:text;not null;default:''"`
	IsNew      bool      `gorm:"column:is_new;type:boolean;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SummaryThemeLink) TableName() string { return "pulse.summary_theme_links" }

// CanonicalTag maps pulse.canonical_tags. Rows are created lazily and never
// mutated or deleted by the pipeline.
type CanonicalTag struct {
	TagID       int64     `gorm:"column:tag_id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:text;not null;unique"`
	Description string    `gorm:"column:description;type:text;not null;default:''"`
	Embedding   string    `gorm:"column:embedding;type:text;not null;default:''"`
	Slug        string    `gorm:"column:slug;type:text;not null;unique"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalTag) TableName() string { return "pulse.canonical_tags" }

// CanonicalTheme maps pulse.canonical_themes.
type CanonicalTheme struct {
	ThemeID     int64     `gorm:"column:theme_id;primaryKey;autoIncrement"`
	Name        string    `gorm:"column:name;type:text;not null;unique"`
	Description string    `gorm:"column:description;type:text;not null;default:''"`
	Embedding   string    `gorm:"column:embedding;type:text;not null;default:''"`
	Slug        string    `gorm:"column:slug;type:text;not null;unique"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (CanonicalTheme) TableName() string { return "pulse.canonical_themes" }

// StrategicSummary maps pulse.strategic_summaries: the persisted, narrated
// signal shown to dashboard users.
type StrategicSummary struct {
	StrategicSummaryID int64     `gorm:"column:strategic_summary_id;primaryKey;autoIncrement"`
	GroupID            int64     `gorm:"column:group_id;type:bigint;not null;uniqueIndex:uq_strategic_source,priority:1"`
	CompanyID          int64     `gorm:"column:company_id;type:bigint;not null;index"`
	PeriodType         string    `gorm:"column:period_type;type:text;not null;uniqueIndex:uq_strategic_source,priority:2"`
	SourceKey          string    `gorm:"column:source_key;type:text;not null;uniqueIndex:uq_strategic_source,priority:3"`
	SummaryText        string    `gorm:"column:summary_text;type:text;not null"`
	Tier               string    `gorm:"column:tier;type:text;not null;default:standard"`
	TierReason         string    `gorm:"column:tier_reason;type:text;not null;default:''"`
	SignalSlugs        string    `gorm:"column:signal_slugs;type:text;not null;default:''"`
	URL                *string   `gorm:"column:url;type:text"`
	CreatedAt          time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (StrategicSummary) TableName() string { return "pulse.strategic_summaries" }

// GroupProcessingState maps pulse.group_processing_states: per-group watermark
// and lock row. The watermark only moves forward.
type GroupProcessingState struct {
	GroupID       int64      `gorm:"column:group_id;primaryKey"`
	Watermark     int64      `gorm:"column:watermark;type:bigint;not null;default:0"`
	LockExpiresAt *time.Time `gorm:"column:lock_expires_at;type:timestamptz"`
	LastRunAt     *time.Time `gorm:"column:last_run_at;type:timestamptz"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (GroupProcessingState) TableName() string { return "pulse.group_processing_states" }

// TopicObservation maps pulse.topic_observations: daily per-topic counters.
type TopicObservation struct {
	ObservationID int64     `gorm:"column:observation_id;primaryKey;autoIncrement"`
	CompanyID     int64     `gorm:"column:company_id;type:bigint;not null;uniqueIndex:uq_topic_observation,priority:1"`
	RuleType      string    `gorm:"column:rule_type;type:text;not null;uniqueIndex:uq_topic_observation,priority:2"`
	TopicKey      string    `gorm:"column:topic_key;type:text;not null;uniqueIndex:uq_topic_observation,priority:3"`
	DateBucket    string    `gorm:"column:date_bucket;type:text;not null;uniqueIndex:uq_topic_observation,priority:4"`
	Count         int       `gorm:"column:count;type:integer;not null;default:0"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TopicObservation) TableName() string { return "pulse.topic_observations" }

// TopicNotification maps pulse.topic_notifications: cooldown anchors per topic.
type TopicNotification struct {
	NotificationID int64     `gorm:"column:notification_id;primaryKey;autoIncrement"`
	CompanyID      int64     `gorm:"column:company_id;type:bigint;not null;uniqueIndex:uq_topic_notification,priority:1"`
	RuleType       string    `gorm:"column:rule_type;type:text;not null;uniqueIndex:uq_topic_notification,priority:2"`
	TopicKey       string    `gorm:"column:topic_key;type:text;not null;uniqueIndex:uq_topic_notification,priority:3"`
	LastNotifiedAt time.Time `gorm:"column:last_notified_at;type:timestamptz;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TopicNotification) TableName() string { return "pulse.topic_notifications" }

// ViewSnapshot maps pulse.view_snapshots: the persisted aggregate views served
// by the read path.
type ViewSnapshot struct {
	SnapshotID  int64           `gorm:"column:snapshot_id;primaryKey;autoIncrement"`
	GroupID     int64           `gorm:"column:group_id;type:bigint;not null;uniqueIndex:uq_view_snapshot,priority:1"`
	Kind        string          `gorm:"column:kind;type:text;not null;uniqueIndex:uq_view_snapshot,priority:2"`
	Window      string          `gorm:"column:window;type:text;not null;uniqueIndex:uq_view_snapshot,priority:3"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	GeneratedAt time.Time       `gorm:"column:generated_at;type:timestamptz;not null"`
}

func (ViewSnapshot) TableName() string { return "pulse.view_snapshots" }

// WorkerLock maps pulse.worker_locks: best-effort singleton locks for run-level
// exclusion (queue ticks).
type WorkerLock struct {
	Name          string     `gorm:"column:name;type:text;primaryKey"`
	LockExpiresAt *time.Time `gorm:"column:lock_expires_at;type:timestamptz"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (WorkerLock) TableName() string { return "pulse.worker_locks" }

func autoMigrateModels() []any {
	return []any{
		&ClientGroup{},
		&Company{},
		&RawItem{},
		&NormalizedSummary{},
		&SummaryTagLink{},
		&SummaryThemeLink{},
		&CanonicalTag{},
		&CanonicalTheme{},
		&StrategicSummary{},
		&GroupProcessingState{},
		&TopicObservation{},
		&TopicNotification{},
		&ViewSnapshot{},
		&WorkerLock{},
	}
}
