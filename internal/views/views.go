// Package views serves aggregate dashboard views from persisted snapshots,
// regenerating stale ones at most once per key regardless of read
// concurrency.
package views

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/globaltime"
)

// View kinds served by the read path.
const (
	KindPulse     = "pulse"
	KindTopics    = "topics"
	KindCompanies = "companies"
)

const (
	DefaultTTL    = 30 * time.Minute
	DefaultWindow = "7d"
)

// ViewKey identifies one cached view.
type ViewKey struct {
	GroupID int64
	Kind    string
	Window  string
}

// View is one served snapshot. Stale marks a snapshot served because
// regeneration failed.
type View struct {
	Key         ViewKey
	Payload     json.RawMessage
	GeneratedAt time.Time
	Stale       bool
}

// SnapshotStore persists generated views.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, key ViewKey) (*View, error)
	SaveSnapshot(ctx context.Context, view *View) error
}

// Generator builds one view payload from storage.
type Generator interface {
	Generate(ctx context.Context, key ViewKey) (json.RawMessage, error)
}

// Cache is the single-flight, TTL-checked read path. Distinct keys never
// block each other; concurrent readers of one stale key trigger exactly one
// regeneration.
type Cache struct {
	store     SnapshotStore
	generator Generator
	ttl       time.Duration
	logger    zerolog.Logger

	mu    sync.Mutex
	gates map[ViewKey]*sync.Mutex
}

func NewCache(store SnapshotStore, generator Generator, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:     store,
		generator: generator,
		ttl:       ttl,
		logger:    logger,
		gates:     make(map[ViewKey]*sync.Mutex),
	}
}

// GetView returns the view, serving a fresh snapshot when one exists and
// regenerating otherwise. forceRefresh skips the freshness fast path but
// still funnels through the per-key gate.
func (c *Cache) GetView(ctx context.Context, key ViewKey, forceRefresh bool) (*View, error) {
	key = normalizeKey(key)

	if !forceRefresh {
		snapshot, err := c.store.LoadSnapshot(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if c.fresh(snapshot) {
			return snapshot, nil
		}
	}

	gate := c.gateFor(key)
	gate.Lock()
	defer gate.Unlock()

	// Whoever held the gate before us may have regenerated already.
	snapshot, err := c.store.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !forceRefresh && c.fresh(snapshot) {
		return snapshot, nil
	}

	payload, err := c.generator.Generate(ctx, key)
	if err != nil {
		if snapshot != nil {
			c.logger.Warn().
				Err(err).
				Int64("group_id", key.GroupID).
				Str("kind", key.Kind).
				Str("window", key.Window).
				Msg("view regeneration failed, serving last good snapshot")
			stale := *snapshot
			stale.Stale = true
			return &stale, nil
		}
		return nil, fmt.Errorf("generate view %s/%s: %w", key.Kind, key.Window, err)
	}

	view := &View{
		Key:         key,
		Payload:     payload,
		GeneratedAt: globaltime.UTC(),
	}
	if err := c.store.SaveSnapshot(ctx, view); err != nil {
		// The generated payload is still good; persistence catches up next time.
		c.logger.Warn().Err(err).Int64("group_id", key.GroupID).Str("kind", key.Kind).Msg("failed to persist view snapshot")
	}
	return view, nil
}

func (c *Cache) fresh(snapshot *View) bool {
	return snapshot != nil && globaltime.UTC().Sub(snapshot.GeneratedAt) < c.ttl
}

func (c *Cache) gateFor(key ViewKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate, ok := c.gates[key]
	if !ok {
		gate = &sync.Mutex{}
		c.gates[key] = gate
	}
	return gate
}

func normalizeKey(key ViewKey) ViewKey {
	key.Kind = strings.ToLower(strings.TrimSpace(key.Kind))
	if key.Kind == "" {
		key.Kind = KindPulse
	}
	key.Window = strings.ToLower(strings.TrimSpace(key.Window))
	if key.Window == "" {
		key.Window = DefaultWindow
	}
	return key
}

// ValidKind reports whether the kind is one the generator can build.
func ValidKind(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindPulse, KindTopics, KindCompanies:
		return true
	}
	return false
}

// WindowDuration parses windows like "7d" or "24h"; unknown formats fall back
// to the 7-day default.
func WindowDuration(window string) time.Duration {
	window = strings.ToLower(strings.TrimSpace(window))
	if strings.HasSuffix(window, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(window, "d")); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(window); err == nil && d > 0 {
		return d
	}
	return 7 * 24 * time.Hour
}
