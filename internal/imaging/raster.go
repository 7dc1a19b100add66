package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrInvalidImageShape is returned when a buffer is not a well-formed
// 3-channel, 2-D raster.
var ErrInvalidImageShape = errors.New("invalid image shape")

// RGB is an 8-bit colour triple.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Raster is an interleaved 8-bit RGB image.
//
// Pix holds Width*Height*3 bytes in row-major order. The zero value is not a valid
// raster; use NewRaster or FromImage.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRaster allocates a black raster of the given size.
func NewRaster(width, height int) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidImageShape, width, height)
	}
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}, nil
}

// FromImage converts any image.Image into a Raster, dropping alpha.
//
// Colours are read un-premultiplied so that a fully opaque pixel keeps its exact
// 8-bit value and a transparent pixel becomes black.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	r := &Raster{Width: w, Height: h, Pix: make([]uint8, w*h*3)}

	// Fast path for the common decoder outputs.
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				si := x * 4
				di := (y*w + x) * 3
				if row[si+3] == 0 {
					continue
				}
				r.Pix[di] = row[si]
				r.Pix[di+1] = row[si+1]
				r.Pix[di+2] = row[si+2]
			}
		}
		return r
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			di := (y*w + x) * 3
			r.Pix[di] = c.R
			r.Pix[di+1] = c.G
			r.Pix[di+2] = c.B
		}
	}
	return r
}

// Validate reports ErrInvalidImageShape if the raster is malformed.
func (r *Raster) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil raster", ErrInvalidImageShape)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidImageShape, r.Width, r.Height)
	}
	if len(r.Pix) != r.Width*r.Height*3 {
		return fmt.Errorf("%w: %d bytes for %dx%d RGB", ErrInvalidImageShape, len(r.Pix), r.Width, r.Height)
	}
	return nil
}

// Len returns the number of pixels.
func (r *Raster) Len() int {
	return r.Width * r.Height
}

// Bounds returns the raster rectangle anchored at the origin.
func (r *Raster) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

// In reports whether (x, y) lies inside the raster.
func (r *Raster) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < r.Width && y < r.Height
}

// At returns the colour at (x, y). The caller must ensure the point is in bounds.
func (r *Raster) At(x, y int) RGB {
	i := (y*r.Width + x) * 3
	return RGB{R: r.Pix[i], G: r.Pix[i+1], B: r.Pix[i+2]}
}

// Set writes c at (x, y). Points outside the raster are ignored.
func (r *Raster) Set(x, y int, c RGB) {
	if !r.In(x, y) {
		return
	}
	i := (y*r.Width + x) * 3
	r.Pix[i] = c.R
	r.Pix[i+1] = c.G
	r.Pix[i+2] = c.B
}

// FillRect paints the half-open rectangle [x0,x1) × [y0,y1), clipped to the raster.
func (r *Raster) FillRect(x0, y0, x1, y1 int, c RGB) {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, r.Width), min(y1, r.Height)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			i := (y*r.Width + x) * 3
			r.Pix[i] = c.R
			r.Pix[i+1] = c.G
			r.Pix[i+2] = c.B
		}
	}
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	pix := make([]uint8, len(r.Pix))
	copy(pix, r.Pix)
	return &Raster{Width: r.Width, Height: r.Height, Pix: pix}
}

// Image returns an opaque *image.NRGBA view of the raster suitable for encoders.
func (r *Raster) Image() *image.NRGBA {
	img := image.NewNRGBA(r.Bounds())
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Foreground counts pixels that are not pure black.
func (r *Raster) Foreground() int {
	n := 0
	for i := 0; i < len(r.Pix); i += 3 {
		if r.Pix[i] != 0 || r.Pix[i+1] != 0 || r.Pix[i+2] != 0 {
			n++
		}
	}
	return n
}
