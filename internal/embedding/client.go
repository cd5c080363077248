// Package embedding implements the EmbeddingEngine component: a pluggable
// image-to-vector model fronted by a small HTTP client, with a fallback mode
// when no model endpoint is configured.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"cortex/internal/config"

	"github.com/rs/zerolog/log"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"` // base64-encoded image bytes
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Engine is the EmbeddingEngine: turns image bytes into an L2-normalized
// dense vector. With no BaseURL configured it runs in fallback mode, always
// returning a zero vector rather than an error (mirrors the contract's
// "skip the feature, not the pipeline" design note).
type Engine struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// New builds an Engine from configuration. client may be nil to use
// http.DefaultClient.
func New(cfg config.EmbeddingConfig, client *http.Client) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{cfg: cfg, client: client}
}

// HasModel reports whether a model endpoint is configured.
func (e *Engine) HasModel() bool { return e.cfg.BaseURL != "" }

// Dimension returns the vector width this engine produces.
func (e *Engine) Dimension() int {
	if e.cfg.Dimension > 0 {
		return e.cfg.Dimension
	}
	return 512
}

// Embed converts a single image into a dense vector. In fallback mode
// (no model configured, or the call fails) it logs a warning and returns a
// zero vector of Dimension() length rather than erroring, so that callers
// can still persist an observation.
func (e *Engine) Embed(ctx context.Context, imageBytes []byte) []float32 {
	if !e.HasModel() {
		log.Warn().Msg("embedding engine running without a model endpoint; returning zero vector")
		return make([]float32, e.Dimension())
	}
	vec, err := e.embedRemote(ctx, imageBytes)
	if err != nil {
		log.Warn().Err(err).Msg("embedding request failed; falling back to zero vector")
		return make([]float32, e.Dimension())
	}
	return l2Normalize(vec)
}

func (e *Engine) embedRemote(ctx context.Context, imageBytes []byte) ([]float32, error) {
	encoded := base64.StdEncoding.EncodeToString(imageBytes)
	body, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: []string{encoded}})
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(e.cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.cfg.BaseURL+e.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		header := e.cfg.APIHeader
		if header == "" {
			header = "Authorization"
		}
		if header == "Authorization" {
			req.Header.Set(header, "Bearer "+e.cfg.APIKey)
		} else {
			req.Header.Set(header, e.cfg.APIKey)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint error: %s: %s", resp.Status, string(respBytes))
	}
	var er embedResp
	if err := json.Unmarshal(respBytes, &er); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(er.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want 1", len(er.Data))
	}
	return er.Data[0].Embedding, nil
}

// l2Normalize returns a new slice normalized to unit length, or the zero
// vector unchanged if its norm is zero.
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}
