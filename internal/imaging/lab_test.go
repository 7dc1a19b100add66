package imaging

import (
	"image"
	"image/color"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noiseImage(width, height int, seed uint64) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255})
		}
	}
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestToPerceptual_Shape(t *testing.T) {
	r := FromImage(createPatternImage(10, 8))

	s, err := ToPerceptual(r)
	require.NoError(t, err)
	assert.Equal(t, 80, s.Len())
	assert.Equal(t, 4, s.Distinct())

	var total float64
	for _, w := range s.Weights {
		total += w
	}
	assert.Equal(t, 80.0, total)
}

func TestToPerceptual_InvalidShape(t *testing.T) {
	_, err := ToPerceptual(&Raster{Width: 3, Height: 3, Pix: make([]uint8, 10)})
	assert.ErrorIs(t, err, ErrInvalidImageShape)
}

func TestToPerceptual_KnownValues(t *testing.T) {
	tests := []struct {
		name  string
		color color.RGBA
		wantL float64
	}{
		{"black", color.RGBA{0, 0, 0, 255}, 0},
		{"white", color.RGBA{255, 255, 255, 255}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ToPerceptual(FromImage(createInMemoryImage(2, 2, tt.color)))
			require.NoError(t, err)
			lab := s.At(3)
			assert.InDelta(t, tt.wantL, lab[0], 1e-3)
			assert.InDelta(t, 0, lab[1], 1e-3)
			assert.InDelta(t, 0, lab[2], 1e-3)
		})
	}
}

func TestPerceptualRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		img  image.Image
	}{
		{"pattern", createPatternImage(16, 16)},
		{"noise", noiseImage(32, 24, 7)},
		{"gray", createInMemoryImage(5, 5, color.RGBA{128, 128, 128, 255})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := FromImage(tt.img)
			s, err := ToPerceptual(src)
			require.NoError(t, err)

			back := fromSample(t, s)

			for i := range src.Pix {
				if d := absDiff(src.Pix[i], back.Pix[i]); d > 1 {
					t.Fatalf("byte %d: got %d, want %d (±1)", i, back.Pix[i], src.Pix[i])
				}
			}
		})
	}
}

func TestFromPerceptual_ClampsOutOfGamut(t *testing.T) {
	// Far outside sRGB: must clamp, never wrap.
	c := FromPerceptual(Lab{1.5, 2, -2})
	assert.LessOrEqual(t, int(c.R), 255)

	black := FromPerceptual(Lab{-1, 0, 0})
	assert.Equal(t, RGB{0, 0, 0}, black)

	white := FromPerceptual(Lab{2, 0, 0})
	assert.Equal(t, RGB{255, 255, 255}, white)
}

// fromSample rebuilds a raster from a pixel sample.
func fromSample(t *testing.T, s *PixelSample) *Raster {
	t.Helper()
	r, err := NewRaster(s.Width, s.Height)
	require.NoError(t, err)
	require.Len(t, s.Index, s.Width*s.Height)

	rgb := make([]RGB, len(s.Colors))
	for i, c := range s.Colors {
		rgb[i] = FromPerceptual(c)
	}
	for p, idx := range s.Index {
		c := rgb[idx]
		r.Pix[p*3] = c.R
		r.Pix[p*3+1] = c.G
		r.Pix[p*3+2] = c.B
	}
	return r
}
