package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrgochan/bookbrain/embed"
)

func newTestServer(t *testing.T, embedding []float64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		require.NoError(t, json.NewEncoder(w).Encode(embedResponse{Embedding: embedding}))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestEmbed(t *testing.T) {
	srv := newTestServer(t, []float64{0.1, 0.2, 0.3})
	defer srv.Close()

	p := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Dimensions = 3
	})

	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, p.Dimension())
	assert.False(t, p.Degraded())
}

func TestEmbedBatchOrder(t *testing.T) {
	srv := newTestServer(t, []float64{1})
	defer srv.Close()

	p := New(func(o *Options) { o.BaseURL = srv.URL })

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(func(o *Options) { o.BaseURL = srv.URL })

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, nil)
	p := New(func(o *Options) { o.BaseURL = srv.URL })
	require.NoError(t, p.Ping(context.Background()))

	srv.Close()
	err := p.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, embed.ErrProviderUnavailable)
}
