// Package attachments implements C8: URL/file ingestion, hash-based
// deduplication, storage-backend writes, and MIME-family processing
// (image/PDF/text) as described in §4.9.
package attachments

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

// Analysis is the structured result of analyzing one image, screenshot, or
// PDF page, matching the shape the original vision_analyze prompt asked
// Gemini Vision to return (§4.9).
type Analysis struct {
	Description     string         `json:"description"`
	ExtractedText   string         `json:"extracted_text"`
	ImageType       string         `json:"image_type"`
	Entities        []string       `json:"entities"`
	TechnicalDetail string         `json:"technical_details"`
	Metadata        map[string]any `json:"metadata"`
}

// VisionAnalyzer is kept as an external interface per §6/SPEC_FULL §11: the
// core never embeds a vision model, only a provider façade behind the same
// retry/breaker decorator used for the Embedder and Extractor.
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, data []byte, mimeType string) (Analysis, error)
}

// HTTPVisionAnalyzer calls an external vision-capable provider.
type HTTPVisionAnalyzer struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	retryCfg   config.ProviderRetryConfig
	breaker    *retry.Breaker
}

func NewHTTPVisionAnalyzer(endpoint, apiKey string, timeout time.Duration, retryCfg config.ProviderRetryConfig, breaker *retry.Breaker) *HTTPVisionAnalyzer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVisionAnalyzer{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		retryCfg:   retryCfg,
		breaker:    breaker,
	}
}

type visionRequest struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func (v *HTTPVisionAnalyzer) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (Analysis, error) {
	var out Analysis
	err := v.breaker.Execute(func() error {
		return retry.Do(ctx, v.retryCfg, func() error {
			a, err := v.doRequest(ctx, data, mimeType)
			if err != nil {
				return err
			}
			out = a
			return nil
		})
	})
	if err != nil {
		if err == retry.ErrOpen {
			return Analysis{}, apperr.UpstreamUnavailable("vision provider circuit open")
		}
		return Analysis{}, err
	}
	return out, nil
}

func (v *HTTPVisionAnalyzer) doRequest(ctx context.Context, data []byte, mimeType string) (Analysis, error) {
	body, err := json.Marshal(visionRequest{MimeType: mimeType, Data: data})
	if err != nil {
		return Analysis{}, apperr.Internal("marshal vision request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return Analysis{}, apperr.Internal("build vision request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Analysis{}, apperr.Transient("vision request failed", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return Analysis{}, apperr.Transient(fmt.Sprintf("vision provider returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Analysis{}, apperr.UpstreamUnavailable(fmt.Sprintf("vision provider returned %d: %s", resp.StatusCode, string(raw)))
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return Analysis{}, apperr.Internal("decode vision response", err)
	}
	return a, nil
}

// BasicAnalyzer returns only a placeholder description, an "unknown" image
// type and the byte size, used when no vision provider is configured (mirrors vision.py's _basic_image_info fallback).
type BasicAnalyzer struct{}

func (BasicAnalyzer) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (Analysis, error) {
	return Analysis{
		Description: "unanalyzed " + mimeType + " attachment",
		ImageType:   "unknown",
		Metadata:    map[string]any{"size_bytes": len(data)},
	}, nil
}
