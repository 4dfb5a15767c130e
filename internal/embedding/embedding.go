// Package embedding implements C5: turning text into vectors for the
// semantic search index, behind the shared retry/breaker façade (C4).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
	"memoryhub/internal/retry"
)

// Embedder turns content into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, content string) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimension() int
}

// HTTPEmbedder calls an external embedding endpoint (OpenAI-shaped request)
// guarded by a Breaker and Do's backoff.
type HTTPEmbedder struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dim        int
	retryCfg   config.ProviderRetryConfig
	breaker    *retry.Breaker
}

// NewHTTPEmbedder constructs an HTTPEmbedder from config.
func NewHTTPEmbedder(cfg config.EmbeddingConfig, retryCfg config.ProviderRetryConfig, breaker *retry.Breaker) *HTTPEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dim:        cfg.Dimension,
		retryCfg:   retryCfg,
		breaker:    breaker,
	}
}

func (e *HTTPEmbedder) Dimension() int { return e.dim }

func (e *HTTPEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	return e.call(ctx, content)
}

func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return e.call(ctx, query)
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.breaker.Execute(func() error {
		return retry.Do(ctx, e.retryCfg, func() error {
			vec, err := e.doRequest(ctx, text)
			if err != nil {
				return err
			}
			out = vec
			return nil
		})
	})
	if err != nil {
		if err == retry.ErrOpen {
			return nil, apperr.UpstreamUnavailable("embedding provider circuit open")
		}
		return nil, err
	}
	return out, nil
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, apperr.Internal("marshal embed request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Transient("embed request failed", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return nil, apperr.Transient(fmt.Sprintf("embed provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.UpstreamUnavailable(fmt.Sprintf("embed provider returned %d: %s", resp.StatusCode, string(data)))
	}
	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, apperr.Internal("decode embed response", err)
	}
	if len(parsed.Data) == 0 {
		return nil, apperr.Internal("embed response had no data", nil)
	}
	return parsed.Data[0].Embedding, nil
}
