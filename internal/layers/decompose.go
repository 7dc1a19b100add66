package layers

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/imaging"
)

// Config controls the final fit and the automatic count search.
type Config struct {
	// NInit is the number of k-means++ initialisations for the final fit.
	NInit int `mapstructure:"n_init"`

	// MaxIter bounds Lloyd iterations per initialisation.
	MaxIter int `mapstructure:"max_iter"`

	// Tolerance is the convergence threshold relative to the data variance.
	Tolerance float64 `mapstructure:"tolerance"`

	// Seed makes every fit reproducible.
	Seed uint64 `mapstructure:"seed"`

	// ExploreInit, ExploreIter and ExploreSample configure the cheaper fits
	// used by SelectCount.
	ExploreInit   int `mapstructure:"explore_init"`
	ExploreIter   int `mapstructure:"explore_iter"`
	ExploreSample int `mapstructure:"explore_sample"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		NInit:         20,
		MaxIter:       500,
		Tolerance:     1e-4,
		Seed:          42,
		ExploreInit:   5,
		ExploreIter:   100,
		ExploreSample: 4096,
	}
}

// Decomposer splits rasters into colour layers. It is safe for concurrent use.
type Decomposer struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Decomposer. Zero fields in cfg fall back to DefaultConfig.
// A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Decomposer {
	def := DefaultConfig()
	if cfg.NInit <= 0 {
		cfg.NInit = def.NInit
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.ExploreInit <= 0 {
		cfg.ExploreInit = def.ExploreInit
	}
	if cfg.ExploreIter <= 0 {
		cfg.ExploreIter = def.ExploreIter
	}
	if cfg.ExploreSample <= 0 {
		cfg.ExploreSample = def.ExploreSample
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decomposer{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (d *Decomposer) Config() Config {
	return d.cfg
}

// Decompose splits r into at most k layers, where k is count or, for AutoCount,
// the result of SelectCount.
//
// Empty clusters produce no layer. The result is sorted by ascending brightness;
// equal brightness keeps cluster order. Returns ErrInvalidClusterCount for a bad
// count and ErrClusteringFailed when r has fewer pixels than k.
func (d *Decomposer) Decompose(ctx context.Context, r *imaging.Raster, count int) ([]Layer, error) {
	if err := ValidateCount(count); err != nil {
		return nil, err
	}
	sample, err := imaging.ToPerceptual(r)
	if err != nil {
		return nil, err
	}
	k, err := d.ResolveCount(ctx, sample, count)
	if err != nil {
		return nil, err
	}

	fit, err := fitKMeans(ctx, sample.Colors, sample.Weights, fitConfig{
		k:       k,
		nInit:   d.cfg.NInit,
		maxIter: d.cfg.MaxIter,
		tol:     d.cfg.Tolerance,
		seed:    d.cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	layers, err := buildLayers(sample, fit)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("decomposed",
		zap.Int("k", k),
		zap.Int("layers", len(layers)),
		zap.Int("iterations", fit.iters),
		zap.Float64("inertia", fit.inertia),
	)
	return layers, nil
}

// DecomposeBatch decomposes every raster with the same count and concatenates
// the layers in input order. The first error aborts the batch.
func (d *Decomposer) DecomposeBatch(ctx context.Context, rasters []*imaging.Raster, count int) ([]Layer, error) {
	var all []Layer
	for i, r := range rasters {
		ls, err := d.Decompose(ctx, r, count)
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		all = append(all, ls...)
	}
	return all, nil
}

func buildLayers(s *imaging.PixelSample, fit *fitResult) ([]Layer, error) {
	k := len(fit.centers)
	pixels := make([]int, k)
	for p := range s.Index {
		pixels[fit.labels[s.Index[p]]]++
	}

	out := make([]Layer, 0, k)
	slot := make([]int, k)
	for c := 0; c < k; c++ {
		slot[c] = -1
		if pixels[c] == 0 {
			continue
		}
		img, err := imaging.NewRaster(s.Width, s.Height)
		if err != nil {
			return nil, err
		}
		rgb := imaging.FromPerceptual(fit.centers[c])
		slot[c] = len(out)
		out = append(out, Layer{
			Image:      img,
			Hex:        imaging.Hex(rgb),
			Color:      rgb,
			Brightness: imaging.Brightness(rgb),
			Pixels:     pixels[c],
		})
	}

	for p, idx := range s.Index {
		l := &out[slot[fit.labels[idx]]]
		i := p * 3
		l.Image.Pix[i] = l.Color.R
		l.Image.Pix[i+1] = l.Color.G
		l.Image.Pix[i+2] = l.Color.B
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Brightness < out[j].Brightness
	})
	return out, nil
}
