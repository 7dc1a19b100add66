package layers

import (
	"github.com/ironsheep/layersmith/internal/imaging"
)

// Layer is one flat colour layer.
//
// The same record is used before and after registration marks are added: the
// annotation stage returns a new Layer with a new Image and the same tag.
type Layer struct {
	// Image holds Color on every member pixel and black elsewhere.
	Image *imaging.Raster

	// Hex is the zero-padded lowercase "#rrggbb" tag of Color.
	Hex string

	// Color is the cluster centroid converted back to RGB.
	Color imaging.RGB

	// Brightness is 0.299R + 0.587G + 0.114B of Color.
	Brightness float64

	// Pixels is the number of member pixels. Always positive.
	Pixels int
}

// HexDigits returns the tag without the leading '#', as used in file names.
func (l Layer) HexDigits() string {
	if len(l.Hex) > 0 && l.Hex[0] == '#' {
		return l.Hex[1:]
	}
	return l.Hex
}

// WithImage returns a copy of l carrying img.
func (l Layer) WithImage(img *imaging.Raster) Layer {
	l.Image = img
	return l
}
