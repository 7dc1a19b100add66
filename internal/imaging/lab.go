package imaging

import (
	"github.com/lucasb-eyer/go-colorful"
)

// Lab is a colour in CIE L*a*b* using go-colorful's scaling (L in [0,1]).
type Lab [3]float64

// PixelSample is the perceptual-space view of one raster, used as clustering input.
//
// Logically it is the flattened, row-major sequence of Width*Height Lab coordinates.
// Physically each distinct RGB value is converted once: Colors holds the distinct Lab
// values, Weights how many pixels share each one, and Index maps every pixel to its
// entry in Colors. Weighted clustering over (Colors, Weights) is equivalent to
// clustering every pixel individually.
type PixelSample struct {
	Width   int
	Height  int
	Colors  []Lab
	Weights []float64
	Index   []int32
}

// Len returns the number of pixels in the sample.
func (s *PixelSample) Len() int {
	return len(s.Index)
}

// At returns the Lab coordinate of the i-th pixel.
func (s *PixelSample) At(i int) Lab {
	return s.Colors[s.Index[i]]
}

// Distinct returns the number of distinct colours.
func (s *PixelSample) Distinct() int {
	return len(s.Colors)
}

// ToPerceptual converts a raster into its Lab pixel sample.
//
// RGB is normalised to [0,1] before conversion. Returns ErrInvalidImageShape if the
// raster is malformed.
func ToPerceptual(r *Raster) (*PixelSample, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	n := r.Len()
	s := &PixelSample{
		Width:  r.Width,
		Height: r.Height,
		Index:  make([]int32, n),
	}
	seen := make(map[uint32]int32)

	for p := 0; p < n; p++ {
		i := p * 3
		key := uint32(r.Pix[i])<<16 | uint32(r.Pix[i+1])<<8 | uint32(r.Pix[i+2])
		idx, ok := seen[key]
		if !ok {
			idx = int32(len(s.Colors))
			seen[key] = idx
			s.Colors = append(s.Colors, rgbToLab(r.Pix[i], r.Pix[i+1], r.Pix[i+2]))
			s.Weights = append(s.Weights, 0)
		}
		s.Weights[idx]++
		s.Index[p] = idx
	}
	return s, nil
}

// FromPerceptual converts a Lab coordinate back to 8-bit RGB, clamping out-of-gamut
// channels into [0,255].
func FromPerceptual(c Lab) RGB {
	r, g, b := colorful.Lab(c[0], c[1], c[2]).Clamped().RGB255()
	return RGB{R: r, G: g, B: b}
}

func rgbToLab(r, g, b uint8) Lab {
	c := colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}
	l, a, bb := c.Lab()
	return Lab{l, a, bb}
}
