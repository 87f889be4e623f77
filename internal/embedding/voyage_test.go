package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}

func TestCluster(t *testing.T) {
	vectors := [][]float64{{1, 0}, {0, 1}, {0.9, 0.1}, {0.1, 0.9}, {-1, 0}}
	assert.Equal(t, []int{0, 1, 0, 1, 2}, Cluster(vectors, 0.9))
}

// embedServer answers with [index, len(input)] vectors in reverse order
func embedServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "document", req.InputType)
		data := []map[string]any{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"index":     i,
				"embedding": []float64{float64(i), float64(len(req.Input))},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestEmbedBatch(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	s := NewWithEndpoint("k", srv.URL)
	vectors, err := s.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 2}, {1, 2}}, vectors)

	v, err := s.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestEmbedBatchChunks(t *testing.T) {
	var calls atomic.Int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	s := NewWithEndpoint("k", srv.URL)
	s.BatchSize = 2
	vectors, err := s.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, [][]float64{{0, 2}, {1, 2}, {0, 2}, {1, 2}, {0, 1}}, vectors)
}

func TestEmbedAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := NewWithEndpoint("k", srv.URL).Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "status 401")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "nope", apiErr.Body)
}

func TestEmbedMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()
	_, err := NewWithEndpoint("k", srv.URL).EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "missing embedding for input 1")
}
