package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/views"
)

type viewResponse struct {
	GroupSlug   string          `json:"group_slug"`
	Kind        string          `json:"kind"`
	Window      string          `json:"window"`
	GeneratedAt time.Time       `json:"generated_at"`
	Stale       bool            `json:"stale,omitempty"`
	Items       json.RawMessage `json:"items"`
}

func (s *Server) handleGroupView(c echo.Context) error {
	slug := strings.TrimSpace(c.Param("slug"))
	kind := strings.TrimSpace(c.Param("kind"))
	if !views.ValidKind(kind) {
		return fail(c, http.StatusBadRequest, fmt.Sprintf("unknown view kind %q", kind))
	}

	groupID, err := s.groups.GroupIDBySlug(c.Request().Context(), slug)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "group not found")
		}
		s.logger.Error().Err(err).Str("slug", slug).Msg("group lookup failed")
		return internalError(c, "Failed to resolve group")
	}

	key := views.ViewKey{
		GroupID: groupID,
		Kind:    kind,
		Window:  c.QueryParam("window"),
	}
	forceRefresh := parseBoolParam(c.QueryParam("refresh"))

	view, err := s.viewCache.GetView(c.Request().Context(), key, forceRefresh)
	if err != nil {
		s.logger.Error().Err(err).Str("slug", slug).Str("kind", kind).Msg("view generation failed")
		return internalError(c, "Failed to build view")
	}

	return success(c, viewResponse{
		GroupSlug:   slug,
		Kind:        view.Key.Kind,
		Window:      view.Key.Window,
		GeneratedAt: view.GeneratedAt,
		Stale:       view.Stale,
		Items:       view.Payload,
	})
}

func (s *Server) handleRecover(c echo.Context) error {
	if s.recoverer == nil {
		return fail(c, http.StatusServiceUnavailable, "recovery is not configured")
	}

	staleAfter := time.Duration(0)
	if raw := strings.TrimSpace(c.QueryParam("stale_minutes")); raw != "" {
		var minutes int
		if _, err := fmt.Sscanf(raw, "%d", &minutes); err != nil || minutes <= 0 {
			return fail(c, http.StatusBadRequest, "stale_minutes must be a positive integer")
		}
		staleAfter = time.Duration(minutes) * time.Minute
	}

	recovered, err := s.recoverer.RecoverStuckProcessing(c.Request().Context(), staleAfter)
	if err != nil {
		s.logger.Error().Err(err).Msg("claim recovery failed")
		return internalError(c, "Failed to recover stuck items")
	}
	return success(c, map[string]any{
		"recovered": recovered,
	})
}

type dbGroupResolver struct {
	pool *db.Pool
}

func (r *dbGroupResolver) GroupIDBySlug(ctx context.Context, slug string) (int64, error) {
	const query = `
SELECT group_id
FROM pulse.client_groups
WHERE slug = $1
`

	var groupID int64
	if err := r.pool.QueryRow(ctx, query, slug).Scan(&groupID); err != nil {
		return 0, err
	}
	return groupID, nil
}

func parseBoolParam(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
