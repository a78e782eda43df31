package rules

import (
	"context"
	"fmt"
	"time"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

type dbThrottleStore struct {
	pool *db.Pool
}

// NewThrottleStore returns the Postgres-backed ThrottleStore.
func NewThrottleStore(pool *db.Pool) ThrottleStore {
	return &dbThrottleStore{pool: pool}
}

func (s *dbThrottleStore) IncrementObservation(ctx context.Context, companyID int64, ruleType, topicKey, dateBucket string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("throttle store is not initialized")
	}

	const upsert = `
INSERT INTO pulse.topic_observations (company_id, rule_type, topic_key, date_bucket, count, updated_at)
VALUES ($1, $2, $3, $4, 1, $5)
ON CONFLICT (company_id, rule_type, topic_key, date_bucket) DO UPDATE
SET count = pulse.topic_observations.count + 1,
    updated_at = $5
`

	if _, err := s.pool.Exec(ctx, upsert, companyID, ruleType, topicKey, dateBucket, globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert topic observation: %w", err)
	}
	return nil
}

func (s *dbThrottleStore) CountObservationsSince(ctx context.Context, companyID int64, ruleType, topicKey, sinceBucket string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("throttle store is not initialized")
	}

	const query = `
SELECT COALESCE(SUM(count), 0)
FROM pulse.topic_observations
WHERE company_id = $1
  AND rule_type = $2
  AND topic_key = $3
  AND date_bucket >= $4
`

	var total int
	if err := s.pool.QueryRow(ctx, query, companyID, ruleType, topicKey, sinceBucket).Scan(&total); err != nil {
		return 0, fmt.Errorf("count topic observations: %w", err)
	}
	return total, nil
}

func (s *dbThrottleStore) LastNotified(ctx context.Context, companyID int64, ruleType, topicKey string) (*time.Time, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("throttle store is not initialized")
	}

	const query = `
SELECT last_notified_at
FROM pulse.topic_notifications
WHERE company_id = $1
  AND rule_type = $2
  AND topic_key = $3
`

	var at time.Time
	err := s.pool.QueryRow(ctx, query, companyID, ruleType, topicKey).Scan(&at)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last notified: %w", err)
	}
	return &at, nil
}

func (s *dbThrottleStore) MarkNotified(ctx context.Context, companyID int64, ruleType, topicKey string, at time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("throttle store is not initialized")
	}

	const upsert = `
INSERT INTO pulse.topic_notifications (company_id, rule_type, topic_key, last_notified_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (company_id, rule_type, topic_key) DO UPDATE
SET last_notified_at = $4,
    updated_at = $5
`

	if _, err := s.pool.Exec(ctx, upsert, companyID, ruleType, topicKey, at.UTC(), globaltime.UTC()); err != nil {
		return fmt.Errorf("upsert topic notification: %w", err)
	}
	return nil
}
