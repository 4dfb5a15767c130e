package attachments

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
	"memoryhub/internal/retry"
)

var allowedMimePrefixes = []string{
	"text/",
	"application/pdf",
	"application/json",
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
}

func mimeAllowed(mimeType string) bool {
	for _, prefix := range allowedMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

// Downloader fetches a remote file into a temp file under size and MIME
// constraints, retrying transient network errors (§4.9).
type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
	retryCfg   config.ProviderRetryConfig
}

func NewDownloader(cfg config.AttachmentConfig, retryCfg config.ProviderRetryConfig) *Downloader {
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxFileSize
	if maxBytes <= 0 {
		maxBytes = 50 * 1024 * 1024
	}
	return &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		retryCfg:   retryCfg,
	}
}

// Downloaded is a completed download: a temp file path, the MIME type from
// the response's Content-Type header, and the byte count actually written.
type Downloaded struct {
	TempPath string
	MimeType string
	Size     int64
}

// Download enforces scheme/MIME whitelisting, a hard size cap enforced
// while streaming (not just on the Content-Length header), and retries
// transient failures via internal/retry.
func (d *Downloader) Download(ctx context.Context, rawURL string) (Downloaded, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Downloaded{}, apperr.Invalid("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Downloaded{}, apperr.Invalid("url scheme must be http or https")
	}

	var result Downloaded
	err = retry.Do(ctx, d.retryCfg, func() error {
		r, derr := d.attempt(ctx, rawURL)
		if derr != nil {
			return derr
		}
		result = r
		return nil
	})
	if err != nil {
		return Downloaded{}, err
	}
	return result, nil
}

func (d *Downloader) attempt(ctx context.Context, rawURL string) (Downloaded, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Downloaded{}, apperr.Invalid("could not build download request")
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Downloaded{}, apperr.Transient("download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Downloaded{}, apperr.Transient("download upstream returned 5xx", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return Downloaded{}, apperr.Invalid("download upstream returned non-200")
	}

	mimeType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if !mimeAllowed(mimeType) {
		return Downloaded{}, apperr.Invalid("disallowed mime type: " + mimeType)
	}

	tmp, err := os.CreateTemp("", "attachment-download-*")
	if err != nil {
		return Downloaded{}, apperr.Internal("create temp file", err)
	}

	limited := io.LimitReader(resp.Body, d.maxBytes+1)
	n, copyErr := io.Copy(tmp, limited)
	if copyErr != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Downloaded{}, apperr.Transient("download copy failed", copyErr)
	}
	if cerr := tmp.Close(); cerr != nil {
		os.Remove(tmp.Name())
		return Downloaded{}, apperr.Internal("close temp file", cerr)
	}
	if n > d.maxBytes {
		os.Remove(tmp.Name())
		return Downloaded{}, apperr.Invalid("download exceeds max file size")
	}

	return Downloaded{TempPath: tmp.Name(), MimeType: mimeType, Size: n}, nil
}
