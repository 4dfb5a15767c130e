package attachments

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText decodes raw bytes as UTF-8, falling back to latin-1 if the
// bytes aren't valid UTF-8 (§4.9 text/code processor).
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

var languageByMime = map[string]string{
	"text/x-go":         "go",
	"text/x-python":     "python",
	"application/json":  "json",
	"text/markdown":     "markdown",
	"text/x-yaml":       "yaml",
	"application/x-sh":  "shell",
	"text/html":         "html",
	"text/css":          "css",
	"application/x-csv": "csv",
}

// processText implements §4.9's text/code processor: decode, count lines
// and characters, infer a language hint from the MIME type, embed only the
// first 5 KB.
func (p *Processor) processText(mimeType string, data []byte) (processResult, error) {
	decoded := decodeText(data)
	lang, ok := languageByMime[mimeType]
	if !ok {
		lang = "plaintext"
	}
	metadata := map[string]any{
		"line_count": strings.Count(decoded, "\n") + 1,
		"char_count": utf8.RuneCountInString(decoded),
		"language":   lang,
	}
	return processResult{
		ExtractedText:     decoded,
		ExtractedMetadata: metadata,
		EmbedText:         truncate(decoded, 5*1024),
	}, nil
}

func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes]
}
