package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cortex/internal/config"
	"github.com/stretchr/testify/require"
)

func TestEngine_FallbackWithoutModel(t *testing.T) {
	e := New(config.EmbeddingConfig{Dimension: 8}, nil)
	require.False(t, e.HasModel())
	vec := e.Embed(context.Background(), []byte("fake-image-bytes"))
	require.Len(t, vec, 8)
	for _, x := range vec {
		require.Zero(t, x)
	}
}

func TestEngine_EmbedRemoteNormalizes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		resp := embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{3, 4}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{BaseURL: ts.URL, Path: "/embed", Model: "m", APIKey: "secret", Dimension: 2}
	e := New(cfg, ts.Client())
	vec := e.Embed(context.Background(), []byte("img"))
	require.InDelta(t, 0.6, vec[0], 1e-6)
	require.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestEngine_FallsBackOnRequestError(t *testing.T) {
	cfg := config.EmbeddingConfig{BaseURL: "http://127.0.0.1:1", Path: "/embed", Dimension: 4}
	e := New(cfg, nil)
	vec := e.Embed(context.Background(), []byte("img"))
	require.Len(t, vec, 4)
}
