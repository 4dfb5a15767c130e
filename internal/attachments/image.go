package attachments

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"memoryhub/internal/apperr"
)

const thumbnailMaxDim = 200

// processImage decodes the image, builds a bounded thumbnail, runs vision
// analysis, and returns the fields the caller writes back onto the
// Attachment row (§4.9 image processor).
func (p *Processor) processImage(ctx context.Context, data []byte, mimeType string) (processResult, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return processResult{}, apperr.Invalid("could not decode image: " + err.Error())
	}

	thumb, thumbErr := buildThumbnail(img)

	analysis, err := p.vision.AnalyzeImage(ctx, data, mimeType)
	if err != nil {
		return processResult{}, err
	}

	bounds := img.Bounds()
	metadata := map[string]any{
		"width":  bounds.Dx(),
		"height": bounds.Dy(),
		"format": format,
	}
	for k, v := range analysis.Metadata {
		metadata[k] = v
	}

	res := processResult{
		ExtractedText:      analysis.ExtractedText,
		ExtractedMetadata:  metadata,
		ContentDescription: analysis.Description,
		EmbedText:          firstNonEmpty(analysis.ExtractedText, analysis.Description),
	}
	if thumbErr == nil {
		res.Thumbnail = thumb
	}
	return res, nil
}

// buildThumbnail scales img down to fit within thumbnailMaxDim x
// thumbnailMaxDim, preserving aspect ratio, and encodes it as JPEG.
func buildThumbnail(img image.Image) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, apperr.Invalid("image has zero dimension")
	}
	scale := 1.0
	if w > h && w > thumbnailMaxDim {
		scale = float64(thumbnailMaxDim) / float64(w)
	} else if h >= w && h > thumbnailMaxDim {
		scale = float64(thumbnailMaxDim) / float64(h)
	}
	dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, apperr.Internal("encode thumbnail", err)
	}
	return buf.Bytes(), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
