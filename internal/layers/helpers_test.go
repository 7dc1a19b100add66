package layers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/layersmith/internal/imaging"
)

func solidRaster(t *testing.T, w, h int, c imaging.RGB) *imaging.Raster {
	t.Helper()
	r, err := imaging.NewRaster(w, h)
	require.NoError(t, err)
	r.FillRect(0, 0, w, h, c)
	return r
}

// quadrantRaster has red, green, blue and white quadrants.
func quadrantRaster(t *testing.T, size int) *imaging.Raster {
	t.Helper()
	r, err := imaging.NewRaster(size, size)
	require.NoError(t, err)
	h := size / 2
	r.FillRect(0, 0, h, h, imaging.RGB{R: 255})
	r.FillRect(h, 0, size, h, imaging.RGB{G: 255})
	r.FillRect(0, h, h, size, imaging.RGB{B: 255})
	r.FillRect(h, h, size, size, imaging.RGB{R: 255, G: 255, B: 255})
	return r
}

func gradientRaster(t *testing.T, size int) *imaging.Raster {
	t.Helper()
	r, err := imaging.NewRaster(size, size)
	require.NoError(t, err)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r.Set(x, y, imaging.RGB{
				R: uint8(x * 255 / (size - 1)),
				G: uint8(y * 255 / (size - 1)),
				B: 128,
			})
		}
	}
	return r
}
