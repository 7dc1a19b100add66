package inference

import (
	"context"

	"github.com/anthonynsimon/bild/segment"
	dimaging "github.com/disintegration/imaging"

	"github.com/ironsheep/layersmith/internal/imaging"
)

// DefaultUpscaleFactor matches the x4 super-resolution models.
const DefaultUpscaleFactor = 4

// ThresholdSegmenter splits an image at a luminance level into a light and a
// dark region. Empty regions are not returned.
type ThresholdSegmenter struct {
	Level uint8
}

// NewThresholdSegmenter creates a segmenter splitting at level.
func NewThresholdSegmenter(level uint8) *ThresholdSegmenter {
	return &ThresholdSegmenter{Level: level}
}

// Segment implements Segmenter.
func (s *ThresholdSegmenter) Segment(ctx context.Context, img *imaging.Raster) ([]*imaging.Raster, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mask := segment.Threshold(img.Image(), s.Level)
	light, _ := imaging.NewRaster(img.Width, img.Height)
	dark, _ := imaging.NewRaster(img.Width, img.Height)
	var nLight, nDark int

	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			c := img.At(x, y)
			if c == (imaging.RGB{}) {
				continue
			}
			if mask.GrayAt(x, y).Y == 0xff {
				light.Set(x, y, c)
				nLight++
			} else {
				dark.Set(x, y, c)
				nDark++
			}
		}
	}

	var out []*imaging.Raster
	if nLight > 0 {
		out = append(out, light)
	}
	if nDark > 0 {
		out = append(out, dark)
	}
	return out, nil
}

// CoverageClassifier scores each region by its share of the foreground pixels
// of all regions in the call.
type CoverageClassifier struct{}

// NewCoverageClassifier creates a CoverageClassifier.
func NewCoverageClassifier() *CoverageClassifier {
	return &CoverageClassifier{}
}

// Scores returns the score of every region.
func (c *CoverageClassifier) Scores(regions []*imaging.Raster) []float64 {
	counts := make([]int, len(regions))
	total := 0
	for i, r := range regions {
		counts[i] = r.Foreground()
		total += counts[i]
	}
	scores := make([]float64, len(regions))
	if total == 0 {
		return scores
	}
	for i, n := range counts {
		scores[i] = float64(n) / float64(total)
	}
	return scores
}

// Classify implements Classifier.
func (c *CoverageClassifier) Classify(ctx context.Context, regions []*imaging.Raster, threshold float64) ([]*imaging.Raster, error) {
	for _, r := range regions {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return keepScored(regions, c.Scores(regions), threshold), nil
}

// LanczosUpscaler enlarges rasters with Lanczos resampling.
type LanczosUpscaler struct {
	Factor int
}

// NewLanczosUpscaler creates an upscaler; factors below 1 use DefaultUpscaleFactor.
func NewLanczosUpscaler(factor int) *LanczosUpscaler {
	if factor < 1 {
		factor = DefaultUpscaleFactor
	}
	return &LanczosUpscaler{Factor: factor}
}

// Upscale implements Upscaler.
func (u *LanczosUpscaler) Upscale(ctx context.Context, imgs []*imaging.Raster) ([]*imaging.Raster, error) {
	out := make([]*imaging.Raster, len(imgs))
	for i, r := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if u.Factor == 1 {
			out[i] = r.Clone()
			continue
		}
		big := dimaging.Resize(r.Image(), r.Width*u.Factor, r.Height*u.Factor, dimaging.Lanczos)
		out[i] = imaging.FromImage(big)
	}
	return out, nil
}

func keepScored(regions []*imaging.Raster, scores []float64, threshold float64) []*imaging.Raster {
	kept := make([]*imaging.Raster, 0, len(regions))
	for i, r := range regions {
		if scores[i] >= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}
