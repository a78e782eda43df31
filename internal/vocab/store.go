package vocab

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/globaltime"
)

// Kind selects which vocabulary table an operation targets.
type Kind string

const (
	KindTag   Kind = "tag"
	KindTheme Kind = "theme"
)

// Entry is one canonical vocabulary row.
type Entry struct {
	ID          int64
	Kind        Kind
	Name        string
	Description string
	Embedding   []float64
	Slug        string
}

// NewEntry is the input for lazy vocabulary creation.
type NewEntry struct {
	Name        string
	Description string
	Embedding   []float64
}

// Store is the persistence surface of the canonical vocabulary. Create must
// collapse concurrent identical inserts: when the name already exists the
// existing row is returned with created=false.
type Store interface {
	List(ctx context.Context, kind Kind) ([]Entry, error)
	Create(ctx context.Context, kind Kind, entry NewEntry) (Entry, bool, error)
}

type gormStore struct {
	pool *db.Pool
}

// NewStore returns the database-backed vocabulary store.
func NewStore(pool *db.Pool) Store {
	return &gormStore{pool: pool}
}

func tableForKind(kind Kind) (table, idColumn string, err error) {
	switch kind {
	case KindTag:
		return "pulse.canonical_tags", "tag_id", nil
	case KindTheme:
		return "pulse.canonical_themes", "theme_id", nil
	default:
		return "", "", fmt.Errorf("unknown vocabulary kind %q", kind)
	}
}

func (s *gormStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	table, idColumn, err := tableForKind(kind)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
SELECT %s, name, description, embedding, slug
FROM %s
ORDER BY %s
`, idColumn, table, idColumn)

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list %s vocabulary: %w", kind, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			literal string
		)
		if err := rows.Scan(&entry.ID, &entry.Name, &entry.Description, &literal, &entry.Slug); err != nil {
			return nil, fmt.Errorf("scan %s vocabulary row: %w", kind, err)
		}
		entry.Kind = kind
		if strings.TrimSpace(literal) != "" {
			vector, err := ParseVectorLiteral(literal)
			if err != nil {
				return nil, fmt.Errorf("parse embedding for %s id=%d: %w", kind, entry.ID, err)
			}
			entry.Embedding = vector
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s vocabulary: %w", kind, err)
	}
	return entries, nil
}

func (s *gormStore) Create(ctx context.Context, kind Kind, entry NewEntry) (Entry, bool, error) {
	table, idColumn, err := tableForKind(kind)
	if err != nil {
		return Entry{}, false, err
	}

	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return Entry{}, false, fmt.Errorf("vocabulary name is required")
	}

	literal := ""
	if len(entry.Embedding) > 0 {
		literal, err = FormatVectorLiteral(entry.Embedding)
		if err != nil {
			return Entry{}, false, fmt.Errorf("format embedding for %q: %w", name, err)
		}
	}

	baseSlug := Slugify(name)
	if baseSlug == "" {
		baseSlug = "entry"
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (name, description, embedding, slug, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO NOTHING
RETURNING %s
`, table, idColumn)

	now := globaltime.UTC()
	// The slug carries a numeric suffix on collision; the name conflict target
	// is what collapses concurrent identical creates.
	for attempt := 0; attempt < 5; attempt++ {
		slug := baseSlug
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", baseSlug, attempt+1)
		}

		var id int64
		err := s.pool.QueryRow(ctx, insert, name, entry.Description, literal, slug, now).Scan(&id)
		if err == nil {
			return Entry{
				ID:          id,
				Kind:        kind,
				Name:        name,
				Description: entry.Description,
				Embedding:   entry.Embedding,
				Slug:        slug,
			}, true, nil
		}
		if db.IsNoRows(err) {
			// Name conflict: another worker created it first.
			existing, err := s.findByName(ctx, kind, name)
			if err != nil {
				return Entry{}, false, err
			}
			return existing, false, nil
		}
		if isUniqueViolation(err) {
			continue
		}
		return Entry{}, false, fmt.Errorf("insert %s vocabulary %q: %w", kind, name, err)
	}

	return Entry{}, false, fmt.Errorf("could not allocate a unique slug for %s %q", kind, name)
}

func (s *gormStore) findByName(ctx context.Context, kind Kind, name string) (Entry, error) {
	table, idColumn, err := tableForKind(kind)
	if err != nil {
		return Entry{}, err
	}

	q := fmt.Sprintf(`
SELECT %s, name, description, embedding, slug
FROM %s
WHERE name = $1
`, idColumn, table)

	var (
		entry   Entry
		literal string
	)
	if err := s.pool.QueryRow(ctx, q, name).Scan(&entry.ID, &entry.Name, &entry.Description, &literal, &entry.Slug); err != nil {
		return Entry{}, fmt.Errorf("find %s vocabulary %q: %w", kind, name, err)
	}
	entry.Kind = kind
	if strings.TrimSpace(literal) != "" {
		vector, err := ParseVectorLiteral(literal)
		if err != nil {
			return Entry{}, fmt.Errorf("parse embedding for %s %q: %w", kind, name, err)
		}
		entry.Embedding = vector
	}
	return entry, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}

// CachedStore layers a read-mostly in-process cache over a Store. Any write
// invalidates the kind's cache; readers share one loaded snapshot.
type CachedStore struct {
	inner Store

	mu      sync.RWMutex
	entries map[Kind][]Entry
}

func NewCachedStore(inner Store) *CachedStore {
	return &CachedStore{
		inner:   inner,
		entries: make(map[Kind][]Entry),
	}
}

func (c *CachedStore) List(ctx context.Context, kind Kind) ([]Entry, error) {
	c.mu.RLock()
	cached, ok := c.entries[kind]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	loaded, err := c.inner.List(ctx, kind)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[kind] = loaded
	c.mu.Unlock()
	return loaded, nil
}

func (c *CachedStore) Create(ctx context.Context, kind Kind, entry NewEntry) (Entry, bool, error) {
	created, isNew, err := c.inner.Create(ctx, kind, entry)
	if err != nil {
		return Entry{}, false, err
	}
	c.Invalidate(kind)
	return created, isNew, nil
}

func (c *CachedStore) Invalidate(kind Kind) {
	c.mu.Lock()
	delete(c.entries, kind)
	c.mu.Unlock()
}
