package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/imaging"
)

// ErrResourceExhausted reports that a model ran out of memory.
var ErrResourceExhausted = errors.New("resource exhausted")

// Segmenter splits an image into region rasters of the same size as the input,
// with pixels outside the region set to black. Zero regions is a valid answer.
type Segmenter interface {
	Segment(ctx context.Context, img *imaging.Raster) ([]*imaging.Raster, error)
}

// Classifier keeps the regions whose score is at least threshold, in input order.
type Classifier interface {
	Classify(ctx context.Context, regions []*imaging.Raster, threshold float64) ([]*imaging.Raster, error)
}

// Upscaler enlarges every raster by a fixed factor. The output has the same
// length and order as the input.
type Upscaler interface {
	Upscale(ctx context.Context, imgs []*imaging.Raster) ([]*imaging.Raster, error)
}

// Services bundles the three capabilities handed to the orchestrator.
type Services struct {
	Segmenter  Segmenter
	Classifier Classifier
	Upscaler   Upscaler
}

// Validate reports a missing capability.
func (s Services) Validate() error {
	switch {
	case s.Segmenter == nil:
		return errors.New("inference: segmenter not configured")
	case s.Classifier == nil:
		return errors.New("inference: classifier not configured")
	case s.Upscaler == nil:
		return errors.New("inference: upscaler not configured")
	}
	return nil
}

// Modes accepted by Config.Mode.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config selects and tunes the implementation.
type Config struct {
	Mode     string        `mapstructure:"mode"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// SegmentLevel is the luminance split used by the local segmenter.
	SegmentLevel uint8 `mapstructure:"segment_level"`

	// UpscaleFactor is the enlargement applied by the local upscaler.
	UpscaleFactor int `mapstructure:"upscale_factor"`
}

// DefaultConfig returns local mode with the standard factor of 4.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeLocal,
		Endpoint:      "http://localhost:8500",
		Timeout:       2 * time.Minute,
		SegmentLevel:  128,
		UpscaleFactor: DefaultUpscaleFactor,
	}
}

// NewServices builds the capabilities selected by cfg.Mode.
func NewServices(cfg Config, logger *zap.Logger) (Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Mode {
	case "", ModeLocal:
		logger.Info("using local inference fallbacks",
			zap.Uint8("segment_level", cfg.SegmentLevel),
			zap.Int("upscale_factor", cfg.UpscaleFactor))
		return Services{
			Segmenter:  NewThresholdSegmenter(cfg.SegmentLevel),
			Classifier: NewCoverageClassifier(),
			Upscaler:   NewLanczosUpscaler(cfg.UpscaleFactor),
		}, nil
	case ModeRemote:
		c, err := NewRemoteClient(cfg.Endpoint, cfg.Timeout)
		if err != nil {
			return Services{}, err
		}
		logger.Info("using remote inference", zap.String("endpoint", cfg.Endpoint))
		return Services{Segmenter: c, Classifier: c, Upscaler: c}, nil
	default:
		return Services{}, fmt.Errorf("inference: unknown mode %q", cfg.Mode)
	}
}
