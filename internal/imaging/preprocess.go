package imaging

import (
	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// PreprocessOptions controls Preprocess. Zero values disable the matching step.
type PreprocessOptions struct {
	// Size resizes the raster to Size×Size before anything else (0 = keep size).
	Size int
	// BlurRadius is the gaussian blur radius used for denoising.
	BlurRadius float64
	// Contrast is the contrast change passed to bild (0.4 ≈ 1.4× enhancement).
	Contrast float64
	// Stretch rescales each channel so its minimum maps to 0 and maximum to 255.
	Stretch bool
}

// DefaultPreprocessOptions mirrors the capture-cleanup settings used before
// segmentation: 256px working size, blur radius 1.2, 1.4× contrast, channel stretch.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Size:       256,
		BlurRadius: 1.2,
		Contrast:   0.4,
		Stretch:    true,
	}
}

// Preprocess resizes, denoises, enhances contrast and normalises a raster.
//
// The input raster is not modified. Note that channel stretching maps a channel
// with a single value to 0, so it is meant for photographs, not flat artwork.
func Preprocess(r *Raster, opts PreprocessOptions) (*Raster, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	img := r.Image()
	if opts.Size > 0 && (r.Width != opts.Size || r.Height != opts.Size) {
		img = imaging.Resize(img, opts.Size, opts.Size, imaging.Lanczos)
	}

	out := FromImage(img)
	if opts.BlurRadius > 0 {
		out = FromImage(blur.Gaussian(out.Image(), opts.BlurRadius))
	}
	if opts.Contrast != 0 {
		out = FromImage(adjust.Contrast(out.Image(), opts.Contrast))
	}
	if opts.Stretch {
		stretchChannels(out)
	}
	return out, nil
}

// stretchChannels rescales every channel independently to the full 0-255 range.
func stretchChannels(r *Raster) {
	for ch := 0; ch < 3; ch++ {
		lo, hi := uint8(255), uint8(0)
		for i := ch; i < len(r.Pix); i += 3 {
			v := r.Pix[i]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		span := float64(hi) - float64(lo) + 1e-8
		for i := ch; i < len(r.Pix); i += 3 {
			v := (float64(r.Pix[i]) - float64(lo)) / span * 255.0
			r.Pix[i] = uint8(min(max(v, 0), 255))
		}
	}
}
