package attachments

import (
	"context"
	"regexp"
	"strings"

	"memoryhub/internal/apperr"
)

// PDFPage is one page's plain-text content plus the raw-stream counts the
// complex-page heuristic needs.
type PDFPage struct {
	Number     int
	Text       string
	ImageCount int
}

// PDFPager splits a PDF byte stream into pages. NaivePDFPager below only
// handles uncompressed content streams (no FlateDecode); a production
// deployment would swap in a real PDF parser behind this interface.
type PDFPager interface {
	ExtractPages(ctx context.Context, data []byte) ([]PDFPage, error)
}

var (
	pdfTextToken = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]`)
	pdfImageXObj = regexp.MustCompile(`/Subtype\s*/Image`)
)

// NaivePDFPager extracts text by scanning for literal-string operands of
// the Tj/TJ text-show operators, the same lightweight technique lightweight
// pure-Go PDF readers use for uncompressed streams. It does not detect page
// boundaries: the whole document is always returned as a single page.
type NaivePDFPager struct{}

func NewNaivePDFPager() *NaivePDFPager { return &NaivePDFPager{} }

func (NaivePDFPager) ExtractPages(ctx context.Context, data []byte) ([]PDFPage, error) {
	if len(data) == 0 {
		return nil, apperr.Invalid("empty pdf data")
	}
	var text strings.Builder
	for _, m := range pdfTextToken.FindAllSubmatch(data, -1) {
		text.Write(m[1])
		text.WriteByte(' ')
	}
	imageCount := len(pdfImageXObj.FindAll(data, -1))

	return []PDFPage{{
		Number:     1,
		Text:       text.String(),
		ImageCount: imageCount,
	}}, nil
}

var diagramKeywords = []string{"diagram", "chart", "graph", "figure"}

// isComplexPage mirrors vision.py's auto_detect_complex_pages rule: any
// page with embedded images, table-like content, near-empty text, or a
// diagram keyword gets routed through the vision provider instead of
// trusting the naive text extraction.
func isComplexPage(p PDFPage) bool {
	if p.ImageCount > 0 {
		return true
	}
	lower := strings.ToLower(p.Text)
	if strings.Contains(lower, "table") || strings.Contains(p.Text, "|") {
		return true
	}
	if len(strings.TrimSpace(p.Text)) < 100 {
		return true
	}
	for _, kw := range diagramKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// processPDF extracts pages, routes complex pages through vision analysis,
// and concatenates `[Page N] ...` blocks (§4.9 PDF processor).
func (p *Processor) processPDF(ctx context.Context, data []byte) (processResult, error) {
	pages, err := p.pager.ExtractPages(ctx, data)
	if err != nil {
		return processResult{}, err
	}

	var full strings.Builder
	var entities []string
	for _, page := range pages {
		content := page.Text
		if isComplexPage(page) {
			if a, verr := p.vision.AnalyzeImage(ctx, data, "application/pdf"); verr == nil {
				if a.ExtractedText != "" {
					content = a.ExtractedText
				}
				entities = append(entities, a.Entities...)
			}
		}
		full.WriteString("[Page ")
		full.WriteString(itoa(page.Number))
		full.WriteString("]\n")
		full.WriteString(content)
		full.WriteString("\n")
	}

	return processResult{
		ExtractedText: full.String(),
		ExtractedMetadata: map[string]any{
			"page_count": len(pages),
			"entities":   entities,
		},
		EmbedText: truncate(full.String(), 5*1024),
	}, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
