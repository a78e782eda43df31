package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tacit.fyi/brandpulse/internal/db"
	"tacit.fyi/brandpulse/internal/views"
)

type fakeGroupResolver struct {
	groups map[string]int64
}

func (r *fakeGroupResolver) GroupIDBySlug(_ context.Context, slug string) (int64, error) {
	if id, ok := r.groups[slug]; ok {
		return id, nil
	}
	return 0, db.ErrNoRows
}

type fakeViewCache struct {
	lastKey   views.ViewKey
	lastForce bool
	err       error
}

func (f *fakeViewCache) GetView(_ context.Context, key views.ViewKey, force bool) (*views.View, error) {
	f.lastKey = key
	f.lastForce = force
	if f.err != nil {
		return nil, f.err
	}
	return &views.View{
		Key:         key,
		Payload:     json.RawMessage(`[{"topic":"billing"}]`),
		GeneratedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}, nil
}

type fakeRecoverer struct {
	staleAfter time.Duration
	recovered  int64
	err        error
}

func (f *fakeRecoverer) RecoverStuckProcessing(_ context.Context, staleAfter time.Duration) (int64, error) {
	f.staleAfter = staleAfter
	return f.recovered, f.err
}

func newTestServer(cache ViewProvider, recoverer Recoverer) *Server {
	return &Server{
		groups:    &fakeGroupResolver{groups: map[string]int64{"acme-group": 42}},
		viewCache: cache,
		recoverer: recoverer,
		logger:    zerolog.Nop(),
	}
}

func doRequest(s *Server, method, target string) *httptest.ResponseRecorder {
	e := s.buildEcho()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeViewCache{}, nil), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeJSend(t, rec)
	if body["status"] != "success" {
		t.Errorf("status field = %v, want success", body["status"])
	}
}

func TestGroupView_HappyPath(t *testing.T) {
	t.Parallel()

	cache := &fakeViewCache{}
	rec := doRequest(newTestServer(cache, nil), http.MethodGet, "/api/groups/acme-group/views/topics?window=30d")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	if cache.lastKey.GroupID != 42 {
		t.Errorf("GroupID = %d, want 42", cache.lastKey.GroupID)
	}
	if cache.lastKey.Kind != views.KindTopics || cache.lastKey.Window != "30d" {
		t.Errorf("key = %+v, want topics/30d", cache.lastKey)
	}
	if cache.lastForce {
		t.Error("forceRefresh = true, want false without refresh param")
	}

	body := decodeJSend(t, rec)
	data := body["data"].(map[string]any)
	if data["group_slug"] != "acme-group" || data["kind"] != "topics" {
		t.Errorf("data = %v, want acme-group/topics", data)
	}
}

func TestGroupView_RefreshParamForcesRegeneration(t *testing.T) {
	t.Parallel()

	cache := &fakeViewCache{}
	rec := doRequest(newTestServer(cache, nil), http.MethodGet, "/api/groups/acme-group/views/pulse?refresh=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !cache.lastForce {
		t.Error("forceRefresh = false, want true")
	}
}

func TestGroupView_UnknownKindRejected(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeViewCache{}, nil), http.MethodGet, "/api/groups/acme-group/views/nonsense")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGroupView_UnknownGroup404(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeViewCache{}, nil), http.MethodGet, "/api/groups/missing/views/pulse")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeJSend(t, rec)
	if body["status"] != "fail" {
		t.Errorf("status field = %v, want fail", body["status"])
	}
}

func TestGroupView_CacheFailure500(t *testing.T) {
	t.Parallel()

	cache := &fakeViewCache{err: fmt.Errorf("generator down")}
	rec := doRequest(newTestServer(cache, nil), http.MethodGet, "/api/groups/acme-group/views/pulse")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestAdminRecover(t *testing.T) {
	t.Parallel()

	recoverer := &fakeRecoverer{recovered: 7}
	rec := doRequest(newTestServer(&fakeViewCache{}, recoverer), http.MethodPost, "/api/admin/recover?stale_minutes=45")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	if recoverer.staleAfter != 45*time.Minute {
		t.Errorf("staleAfter = %v, want 45m", recoverer.staleAfter)
	}
	body := decodeJSend(t, rec)
	data := body["data"].(map[string]any)
	if data["recovered"] != float64(7) {
		t.Errorf("recovered = %v, want 7", data["recovered"])
	}
}

func TestAdminRecover_BadStaleMinutes(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeViewCache{}, &fakeRecoverer{}), http.MethodPost, "/api/admin/recover?stale_minutes=-5")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminRecover_Unconfigured(t *testing.T) {
	t.Parallel()

	rec := doRequest(newTestServer(&fakeViewCache{}, nil), http.MethodPost, "/api/admin/recover")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
