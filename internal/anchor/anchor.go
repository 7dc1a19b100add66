package anchor

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/layers"
)

// Default mark geometry.
const (
	DefaultCrossSize    = 10
	DefaultMargin       = 15
	DefaultOutlineWidth = 2

	brightThreshold = 128
)

var (
	black = imaging.RGB{}
	white = imaging.RGB{R: 255, G: 255, B: 255}
)

// ErrInvalidOptions is returned for negative geometry.
var ErrInvalidOptions = errors.New("invalid anchor options")

// Options controls mark geometry and colour.
type Options struct {
	// CrossSize is the half-length of each arm of the main cross.
	CrossSize int `mapstructure:"cross_size"`

	// Margin is the distance from the image edges to each mark centre.
	Margin int `mapstructure:"margin"`

	// OutlineWidth extends the outline beyond the main cross on every side.
	OutlineWidth int `mapstructure:"outline_width"`

	// Color fixes the cross colour. When nil the colour is picked per mark
	// from the neighbourhood brightness.
	Color *imaging.RGB `mapstructure:"-"`
}

// DefaultOptions returns the standard mark geometry with automatic colour.
func DefaultOptions() Options {
	return Options{
		CrossSize:    DefaultCrossSize,
		Margin:       DefaultMargin,
		OutlineWidth: DefaultOutlineWidth,
	}
}

// Validate rejects negative sizes.
func (o Options) Validate() error {
	if o.CrossSize < 0 || o.Margin < 0 || o.OutlineWidth < 0 {
		return fmt.Errorf("%w: cross_size=%d margin=%d outline_width=%d",
			ErrInvalidOptions, o.CrossSize, o.Margin, o.OutlineWidth)
	}
	return nil
}

// Positions returns the four mark centres for a w×h image: top-left, top-right,
// bottom-left, bottom-right.
func Positions(w, h, margin int) []image.Point {
	return []image.Point{
		{X: margin, Y: margin},
		{X: w - margin - 1, Y: margin},
		{X: margin, Y: h - margin - 1},
		{X: w - margin - 1, Y: h - margin - 1},
	}
}

// fits reports whether the whole outlined mark at p stays inside the image.
func fits(p image.Point, w, h int, o Options) bool {
	ext := o.CrossSize + o.OutlineWidth
	return p.X >= ext && p.X < w-ext && p.Y >= ext && p.Y < h-ext
}

// Annotate returns a copy of l with registration marks drawn into its image.
//
// Marks that would not fit entirely inside the image are skipped, so small images
// may come back unchanged. The input layer's image is never modified.
func Annotate(l layers.Layer, opts Options) (layers.Layer, error) {
	if err := opts.Validate(); err != nil {
		return layers.Layer{}, err
	}
	if err := l.Image.Validate(); err != nil {
		return layers.Layer{}, fmt.Errorf("layer %s: %w", l.Hex, err)
	}

	out := l.Image.Clone()
	for _, p := range Positions(out.Width, out.Height, opts.Margin) {
		if !fits(p, out.Width, out.Height, opts) {
			continue
		}
		cross, outline := markColors(out, p, opts)
		drawCross(out, p, opts, cross, outline)
	}
	return l.WithImage(out), nil
}

// AnnotateLayers annotates every layer in order. A layer that fails is logged
// and left out of the result.
func AnnotateLayers(in []layers.Layer, opts Options, logger *zap.Logger) []layers.Layer {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]layers.Layer, 0, len(in))
	for i, l := range in {
		a, err := Annotate(l, opts)
		if err != nil {
			logger.Warn("dropping layer that could not be annotated",
				zap.Int("index", i),
				zap.String("color", l.Hex),
				zap.Error(err),
			)
			continue
		}
		out = append(out, a)
	}
	return out
}

// markColors returns the cross and outline colours for the mark at p.
func markColors(r *imaging.Raster, p image.Point, o Options) (cross, outline imaging.RGB) {
	if o.Color != nil {
		c := *o.Color
		mean := (float64(c.R) + float64(c.G) + float64(c.B)) / 3
		if mean < brightThreshold {
			return c, white
		}
		return c, black
	}
	if neighbourhoodMean(r, p, o.CrossSize) > brightThreshold {
		return black, white
	}
	return white, black
}

// neighbourhoodMean averages every channel of the square of radius size around
// p, clipped to the image.
func neighbourhoodMean(r *imaging.Raster, p image.Point, size int) float64 {
	x0, x1 := max(0, p.X-size), min(r.Width, p.X+size+1)
	y0, y1 := max(0, p.Y-size), min(r.Height, p.Y+size+1)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}

	vals := make([]float64, 0, (x1-x0)*(y1-y0)*3)
	for y := y0; y < y1; y++ {
		row := r.Pix[(y*r.Width+x0)*3 : (y*r.Width+x1)*3]
		for _, v := range row {
			vals = append(vals, float64(v))
		}
	}
	return stat.Mean(vals, nil)
}

func drawCross(r *imaging.Raster, p image.Point, o Options, cross, outline imaging.RGB) {
	ow := o.OutlineWidth
	ext := o.CrossSize + ow

	// outline: horizontal bar then vertical bar
	r.FillRect(p.X-ext, p.Y-ow, p.X+ext+1, p.Y+ow+1, outline)
	r.FillRect(p.X-ow, p.Y-ext, p.X+ow+1, p.Y+ext+1, outline)

	r.FillRect(p.X-o.CrossSize, p.Y, p.X+o.CrossSize+1, p.Y+1, cross)
	r.FillRect(p.X, p.Y-o.CrossSize, p.X+1, p.Y+o.CrossSize+1, cross)
}
