// Package extractor implements C6: pulling entities and relations out of
// memory content, behind the shared retry/breaker façade.
package extractor

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

// ExtractedEntity and ExtractedRelation are the raw shapes an Extractor
// returns; the graph package (C7) is responsible for normalizing types,
// merging aliases, and writing them.
type ExtractedEntity struct {
	Name       string
	EntityType string
	Attributes map[string]any
}

type ExtractedRelation struct {
	FromEntity   string
	ToEntity     string
	RelationType string
	Confidence   float64
}

// Result bundles everything one extraction pass produced.
type Result struct {
	Entities  []ExtractedEntity
	Relations []ExtractedRelation
}

// Extractor pulls structured knowledge out of free text.
type Extractor interface {
	Extract(ctx context.Context, content string) (Result, error)
}

// HTTPExtractor calls an external LLM-backed extraction endpoint.
type HTTPExtractor struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	retryCfg   config.ProviderRetryConfig
	breaker    *retry.Breaker
}

func NewHTTPExtractor(cfg config.ExtractorConfig, retryCfg config.ProviderRetryConfig, breaker *retry.Breaker) *HTTPExtractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPExtractor{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		retryCfg:   retryCfg,
		breaker:    breaker,
	}
}

type extractRequest struct {
	Content string `json:"content"`
}

type extractResponse struct {
	Entities  []ExtractedEntity   `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, content string) (Result, error) {
	var out Result
	err := e.breaker.Execute(func() error {
		return retry.Do(ctx, e.retryCfg, func() error {
			r, err := e.doRequest(ctx, content)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
	})
	if err != nil {
		if err == retry.ErrOpen {
			return Result{}, apperr.UpstreamUnavailable("extraction provider circuit open")
		}
		return Result{}, err
	}
	return out, nil
}

func (e *HTTPExtractor) doRequest(ctx context.Context, content string) (Result, error) {
	body, err := json.Marshal(extractRequest{Content: content})
	if err != nil {
		return Result{}, apperr.Internal("marshal extract request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, apperr.Internal("build extract request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, apperr.Transient("extract request failed", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return Result{}, apperr.Transient(fmt.Sprintf("extract provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, apperr.UpstreamUnavailable(fmt.Sprintf("extract provider returned %d: %s", resp.StatusCode, string(data)))
	}
	var parsed extractResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, apperr.Internal("decode extract response", err)
	}
	return Result{Entities: parsed.Entities, Relations: parsed.Relations}, nil
}
