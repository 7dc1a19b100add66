package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/disintegration/imaging"
)

// DefaultThumbnailSize is the longest side of inline previews.
const DefaultThumbnailSize = 256

// EncodePNG encodes a raster as PNG.
func EncodePNG(r *Raster) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailResult is a compact preview of a raster.
type ThumbnailResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Thumbnail produces a base64 PNG whose longest side is at most maxSide pixels.
//
// The aspect ratio is preserved and images already within the limit are not
// enlarged. maxSide <= 0 selects DefaultThumbnailSize.
func Thumbnail(r *Raster, maxSide int) (*ThumbnailResult, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if maxSide <= 0 {
		maxSide = DefaultThumbnailSize
	}

	thumb := imaging.Fit(r.Image(), maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &ThumbnailResult{
		Width:       thumb.Bounds().Dx(),
		Height:      thumb.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
