package views

import (
	"context"
	"encoding/json"
	"fmt"

	"tacit.fyi/brandpulse/internal/db"
)

type dbSnapshotStore struct {
	pool *db.Pool
}

// NewSnapshotStore returns the Postgres-backed SnapshotStore.
func NewSnapshotStore(pool *db.Pool) SnapshotStore {
	return &dbSnapshotStore{pool: pool}
}

func (s *dbSnapshotStore) LoadSnapshot(ctx context.Context, key ViewKey) (*View, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("snapshot store is not initialized")
	}

	const query = `
SELECT payload, generated_at
FROM pulse.view_snapshots
WHERE group_id = $1
  AND kind = $2
  AND "window" = $3
`

	view := &View{Key: key}
	var payload json.RawMessage
	err := s.pool.QueryRow(ctx, query, key.GroupID, key.Kind, key.Window).Scan(&payload, &view.GeneratedAt)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load view snapshot: %w", err)
	}
	view.Payload = payload
	return view, nil
}

func (s *dbSnapshotStore) SaveSnapshot(ctx context.Context, view *View) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not initialized")
	}

	const upsert = `
INSERT INTO pulse.view_snapshots (group_id, kind, "window", payload, generated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (group_id, kind, "window") DO UPDATE
SET payload = EXCLUDED.payload,
    generated_at = EXCLUDED.generated_at
`

	if _, err := s.pool.Exec(ctx, upsert,
		view.Key.GroupID, view.Key.Kind, view.Key.Window, view.Payload, view.GeneratedAt,
	); err != nil {
		return fmt.Errorf("save view snapshot: %w", err)
	}
	return nil
}
