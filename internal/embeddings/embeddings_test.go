package embeddings

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

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *TEIClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewTEIClient(srv.URL, zap.NewNop())
	require.NoError(t, err)
	return srv, client
}

func TestEmbedPreservesOrder(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Return data out of order to exercise index-based placement.
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.3, 0.4}},
				{"index": 0, "embedding": []float32{0.1, 0.2}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	vectors, err := client.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float32{0.3, 0.4}, vectors[1])
}

func TestEmbedEmptyInput(t *testing.T) {
	called := false
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.False(t, called, "no request should be issued for empty input")
}

func TestEmbedRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1, 2, 3}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	vectors, err := client.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []float32{1, 2, 3}, vectors[0])
}

func TestEmbedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	_, err := client.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, int32(retryAttempts), calls.Load())
}

func TestEmbedCountMismatch(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": []map[string]any{
				{"index": 0, "embedding": []float32{1}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.Embed(context.Background(), []string{"one", "two"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewTEIClientRequiresURL(t *testing.T) {
	_, err := NewTEIClient("", zap.NewNop())
	require.Error(t, err)
}
