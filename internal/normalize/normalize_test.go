package normalize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseCandidatesJSON(t *testing.T) {
	content := `Here you go:
[
  {"memory": "prefers dark roast coffee", "scope": "prefs", "confidence": 0.9, "language": "en"},
  {"memory": "", "scope": "facts"},
  {"memory": "said hello", "scope": "facts", "skip": true},
  {"memory": "works at a bakery", "scope": "facts", "skip": false}
]`

	candidates := ParseCandidates(content)
	require.Len(t, candidates, 2)
	assert.Equal(t, "prefers dark roast coffee", candidates[0].Memory)
	assert.Equal(t, "prefs", candidates[0].Scope)
	assert.InDelta(t, 0.9, candidates[0].Confidence, 0.001)
	assert.Equal(t, "works at a bakery", candidates[1].Memory)
}

func TestParseCandidatesLines(t *testing.T) {
	content := "- prefers tea over coffee\n\n- lives in Lisbon\nplain statement"

	candidates := ParseCandidates(content)
	require.Len(t, candidates, 3)
	assert.Equal(t, "prefers tea over coffee", candidates[0].Memory)
	assert.Equal(t, "lives in Lisbon", candidates[1].Memory)
	assert.Equal(t, "plain statement", candidates[2].Memory)
}

func TestParseCandidatesMalformedJSONFallsBackToLines(t *testing.T) {
	content := "[not json at all"

	candidates := ParseCandidates(content)
	require.Len(t, candidates, 1)
	assert.Equal(t, "[not json at all", candidates[0].Memory)
}

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "test-key", "openrouter/auto", zap.NewNop())
	require.NoError(t, err)
	return client
}

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestNormalizeParsesModelReply(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		chatReply(t, w, `[{"memory": "enjoys hiking", "scope": "prefs"}]`)
	})

	candidates, err := client.Normalize(context.Background(), "", []string{"I love hiking on weekends"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "enjoys hiking", candidates[0].Memory)
	assert.Equal(t, "prefs", candidates[0].Scope)
}

func TestNormalizeModelSelection(t *testing.T) {
	var models []string
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		models = append(models, req.Model)
		chatReply(t, w, `[{"memory": "enjoys hiking"}]`)
	})

	_, err := client.Normalize(context.Background(), "", []string{"I love hiking"})
	require.NoError(t, err)
	_, err = client.Normalize(context.Background(), "anthropic/claude-sonnet-4", []string{"I love hiking"})
	require.NoError(t, err)

	require.Len(t, models, 2)
	assert.Equal(t, "openrouter/auto", models[0])
	assert.Equal(t, "anthropic/claude-sonnet-4", models[1])
}

func TestNormalizeEchoesOnServerFailure(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	candidates, err := client.Normalize(context.Background(), "", []string{"remember this", ""})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "remember this", candidates[0].Memory)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestNormalizeDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	})

	candidates, err := client.Normalize(context.Background(), "", []string{"remember this"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNormalizeEmptyInput(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	candidates, err := client.Normalize(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Nil(t, candidates)
}

func TestPassthrough(t *testing.T) {
	candidates, err := Passthrough{}.Normalize(context.Background(), "", []string{" keep me ", ""})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "keep me", candidates[0].Memory)
}
