package queue

import (
	"context"
	"fmt"
	"time"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

// RunLockName is the singleton lock guarding queue run loops so overlapping
// schedule ticks don't double-run.
const RunLockName = "queue-run"

// Locker is a best-effort TTL lock. Acquire returns false without error when
// another holder is active; callers treat that as "nothing to do".
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

type workerLocker struct {
	pool *db.Pool
}

// NewLocker returns a Locker backed by the worker_locks table. The acquire is
// one atomic conditional upsert, so exactly one contender wins.
func NewLocker(pool *db.Pool) Locker {
	return &workerLocker{pool: pool}
}

func (l *workerLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if l == nil || l.pool == nil {
		return false, fmt.Errorf("locker is not initialized")
	}

	now := globaltime.UTC()

	const acquire = `
INSERT INTO pulse.worker_locks (name, lock_expires_at, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET lock_expires_at = $2,
    updated_at = $3
WHERE pulse.worker_locks.lock_expires_at IS NULL
   OR pulse.worker_locks.lock_expires_at < $3
`

	tag, err := l.pool.Exec(ctx, acquire, name, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *workerLocker) Release(ctx context.Context, name string) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("locker is not initialized")
	}

	const release = `
UPDATE pulse.worker_locks
SET lock_expires_at = NULL,
    updated_at = $2
WHERE name = $1
`

	if _, err := l.pool.Exec(ctx, release, name, globaltime.UTC()); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	return nil
}
