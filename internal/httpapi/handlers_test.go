package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/auth"
	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/httpapi"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/normalize"
)

// memRepo is a minimal in-memory Repository for gateway tests.
type memRepo struct {
	records map[string]memory.Record
}

func newMemRepo() *memRepo { return &memRepo{records: make(map[string]memory.Record)} }

func (m *memRepo) EnsureCollection(ctx context.Context) error { return nil }

func (m *memRepo) Upsert(ctx context.Context, records []memory.Record) error {
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memRepo) Search(ctx context.Context, vector []float32, q memory.SearchQuery) ([]memory.Hit, error) {
	var hits []memory.Hit
	for id, r := range m.records {
		if r.Payload.OrgID == q.OrgID && r.Payload.AgentID == q.AgentID {
			hits = append(hits, memory.Hit{ID: id, Score: 0.9, Text: r.Text, Payload: r.Payload})
		}
	}
	return hits, nil
}

func (m *memRepo) SearchDecayed(ctx context.Context, vector []float32, q memory.SearchQuery) ([]memory.Hit, bool, error) {
	return nil, false, nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*memory.Record, error) {
	if r, ok := m.records[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memRepo) GetMany(ctx context.Context, ids []string) ([]memory.Record, error) {
	var out []memory.Record
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) Delete(ctx context.Context, id string) error {
	delete(m.records, id)
	return nil
}

func (m *memRepo) DeleteMany(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

func (m *memRepo) SetPayload(ctx context.Context, record memory.Record) error {
	stored, ok := m.records[record.ID]
	if !ok {
		return nil
	}
	stored.Payload = record.Payload
	stored.Text = record.Payload.Text
	m.records[record.ID] = stored
	return nil
}

func (m *memRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	r, ok := m.records[id]
	if !ok {
		return false, nil
	}
	r.Payload.Deleted = true
	r.Payload.UpdatedAt = time.Now().UTC()
	m.records[id] = r
	return true, nil
}

func (m *memRepo) FindByHash(ctx context.Context, hash, orgID, agentID string) (*memory.Record, error) {
	for _, r := range m.records {
		if r.Payload.DedupeHash == hash && r.Payload.OrgID == orgID && r.Payload.AgentID == agentID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memRepo) ListRecent(ctx context.Context, orgID, agentID string, limit int, includeDeleted bool) ([]memory.Record, error) {
	var out []memory.Record
	for _, r := range m.records {
		if r.Payload.OrgID != orgID || r.Payload.AgentID != agentID {
			continue
		}
		if r.Payload.Deleted && !includeDeleted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memRepo) SearchText(ctx context.Context, orgID, agentID, query string, limit int, includeDeleted bool) ([]memory.Record, error) {
	needle := strings.ToLower(query)
	var out []memory.Record
	for _, r := range m.records {
		if r.Payload.OrgID != orgID || r.Payload.AgentID != agentID {
			continue
		}
		if r.Payload.Deleted && !includeDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(r.Text), needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

type constEmbedder struct{ dims int }

func (e constEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func newGateway(t *testing.T) (*httpapi.Server, *memRepo) {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Core: config.CoreConfig{
			Write: config.WritePolicy{
				EnabledScopes: []string{"prefs", "facts", "persona", "constraints"},
				MinChars:      12,
				Deduplicate:   true,
				MaxBatch:      32,
			},
			Retrieval:     config.RetrievalPolicy{TopK: 6, EfSearch: 64, IncludeText: true},
			Collection:    config.CollectionPolicy{Name: "memories", VectorSize: 768},
			EmbeddingDims: 768,
		},
		Security: config.SecurityConfig{
			SharedSecrets:  map[string]string{"acme": "s3cret"},
			EnforceHeaders: true,
		},
		Server: config.ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
	}

	repo := newMemRepo()
	core, err := memory.NewCore(cfg, constEmbedder{dims: 768}, normalize.Passthrough{},
		func(collection string, vectorSize int) (memory.Repository, error) { return repo, nil },
		zap.NewNop())
	require.NoError(t, err)

	authSvc := auth.NewService(cfg.Security, zap.NewNop())
	return httpapi.NewServer(cfg, core, authSvc, zap.NewNop()), repo
}

func doRequest(t *testing.T, srv *httpapi.Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echoContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set(auth.HeaderOrgID, "acme")
	req.Header.Set(auth.HeaderAgentID, "support-bot")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestAddEndpoint(t *testing.T) {
	srv, repo := newGateway(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
		`{"user_id": "user-1", "text": "prefers dark roast coffee", "scope": "prefs"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Results []memory.AddItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "created", resp.Results[0].Event)
	assert.Len(t, repo.records, 1)
}

func TestAddRequiresAuth(t *testing.T) {
	srv, _ := newGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mem/add", strings.NewReader(`{}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := newGateway(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
		`{"user_id": "user-1", "text": "enjoys hiking on weekends"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/mem/search?q=hiking", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []memory.Hit `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "enjoys hiking on weekends", resp.Results[0].Text)
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newGateway(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/mem/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchNDJSON(t *testing.T) {
	srv, _ := newGateway(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
		`{"user_id": "user-1", "text": "enjoys hiking on weekends"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/mem/search/ndjson?q=hiking", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echoContentType), "application/x-ndjson")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 1)
	var hit memory.Hit
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &hit))
	assert.Equal(t, "enjoys hiking on weekends", hit.Text)
}

func TestSearchStreamSSE(t *testing.T) {
	srv, _ := newGateway(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
		`{"user_id": "user-1", "text": "enjoys hiking on weekends"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/mem/search/stream?q=hiking", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echoContentType), "text/event-stream")
	assert.Contains(t, rec.Body.String(), "event: result")
	assert.Contains(t, rec.Body.String(), "event: done")
}

func TestUpdateAndDeleteLifecycle(t *testing.T) {
	srv, repo := newGateway(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
		`{"user_id": "user-1", "text": "drinks oat milk every day"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var added struct {
		Results []memory.AddItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	id := added.Results[0].ID

	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/mem/"+id, `{"tags": ["diet"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated memory.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, []string{"diet"}, updated.Payload.Tags)

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/mem/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, repo.records[id].Payload.Deleted)

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/mem/"+id+"?hard=true", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, repo.records, id)

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/mem/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAndDeleteBatch(t *testing.T) {
	srv, repo := newGateway(t)

	var ids []string
	for _, text := range []string{"first durable memory text", "second durable memory text"} {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/add",
			`{"user_id": "user-1", "text": "`+text+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var added struct {
			Results []memory.AddItem `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
		ids = append(ids, added.Results[0].ID)
	}

	body, err := json.Marshal(map[string]any{"ids": ids})
	require.NoError(t, err)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/mem/open", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var opened struct {
		Results []memory.Record `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opened))
	assert.Len(t, opened.Results, 2)

	body, err = json.Marshal(map[string]any{"ids": ids, "hard": true})
	require.NoError(t, err)
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/mem/delete/batch", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var deleted struct {
		Deleted int `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.Equal(t, 2, deleted.Deleted)
	assert.Empty(t, repo.records)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health httpapi.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "memoryd", health.Service)
}
