package attachments

import (
	"bytes"
	"context"
	"strings"

	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/objectstore"
)

// processResult is what one MIME-family processor hands back to be written
// onto the Attachment row.
type processResult struct {
	ExtractedText      string
	ExtractedMetadata  map[string]any
	ContentDescription string
	Thumbnail          []byte
	EmbedText          string
}

// Processor dispatches an attachment's bytes to the image, PDF, or
// text/code handler by MIME family and writes back the resulting fields
// plus a best-effort content embedding (§4.9).
type Processor struct {
	vision   VisionAnalyzer
	pager    PDFPager
	embedder embedding.Embedder
	objects  objectstore.ObjectStore
}

func NewProcessor(vision VisionAnalyzer, pager PDFPager, embedder embedding.Embedder, objects objectstore.ObjectStore) *Processor {
	return &Processor{vision: vision, pager: pager, embedder: embedder, objects: objects}
}

// Process runs the MIME-appropriate processor and writes the outcome onto
// a in place. It always leaves a.ProcessingStatus terminal (completed or
// failed) with ErrorMessage set on failure.
func (p *Processor) Process(ctx context.Context, a *domain.Attachment, data []byte) {
	result, err := p.dispatch(ctx, a.MimeType, data)
	if err != nil {
		a.ProcessingStatus = domain.ProcessingFailed
		a.ErrorMessage = err.Error()
		return
	}

	a.ExtractedText = result.ExtractedText
	a.ExtractedMetadata = result.ExtractedMetadata
	a.ContentDescription = result.ContentDescription

	if result.EmbedText != "" && p.embedder != nil {
		if vec, embErr := p.embedder.Embed(ctx, result.EmbedText); embErr == nil {
			a.ContentEmbedding = vec
		}
	}
	if len(result.Thumbnail) > 0 && p.objects != nil {
		thumbKey := thumbnailKey(a)
		if _, putErr := p.objects.Put(ctx, thumbKey, bytes.NewReader(result.Thumbnail), objectstore.PutOptions{ContentType: "image/jpeg"}); putErr == nil {
			a.ThumbnailPath = thumbKey
		}
	}
	a.ProcessingStatus = domain.ProcessingCompleted
}

func (p *Processor) dispatch(ctx context.Context, mimeType string, data []byte) (processResult, error) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return p.processImage(ctx, data, mimeType)
	case mimeType == "application/pdf":
		return p.processPDF(ctx, data)
	default:
		return p.processText(mimeType, data)
	}
}

func thumbnailKey(a *domain.Attachment) string {
	return a.MemoryID + "/" + a.ID + "/thumb.jpg"
}
