package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
)

// DefaultClassifyThreshold is the minimum region score kept by classification.
const DefaultClassifyThreshold = 0.5

// Config tunes the orchestrator.
type Config struct {
	// ClassifyThreshold is handed to the classifier.
	ClassifyThreshold float64

	// MaxConcurrent bounds heavy stages running at once across batches;
	// zero disables the limit.
	MaxConcurrent int

	// QueueTimeout bounds the wait for a stage slot.
	QueueTimeout time.Duration

	// Preprocess, when set, is applied to every decoded image.
	Preprocess *imaging.PreprocessOptions

	// DebugDir, when set, receives PNG dumps of intermediate regions.
	DebugDir string
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ClassifyThreshold: DefaultClassifyThreshold,
		MaxConcurrent:     2,
		QueueTimeout:      30 * time.Second,
	}
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Services   inference.Services
	Decomposer *layers.Decomposer
	Anchor     anchor.Options
	Exporter   *archive.Exporter

	// Registry, when set, receives the summary of every closed batch.
	Registry archive.Registry

	Logger *zap.Logger
}

// Options apply to one batch.
type Options struct {
	// ClusterCount is 0 for automatic selection or a count in [1,10].
	ClusterCount int

	// Progress, when set, receives an event each time an image enters a stage.
	Progress ProgressFunc
}

// Orchestrator runs batches. It holds no per-batch state and is safe for
// concurrent use.
type Orchestrator struct {
	cfg      Config
	services inference.Services
	decomp   *layers.Decomposer
	anchor   anchor.Options
	exporter *archive.Exporter
	registry archive.Registry
	limiter  *Limiter
	logger   *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := deps.Services.Validate(); err != nil {
		return nil, err
	}
	if deps.Exporter == nil {
		return nil, errors.New("pipeline: exporter not configured")
	}
	if err := deps.Anchor.Validate(); err != nil {
		return nil, err
	}
	if deps.Decomposer == nil {
		deps.Decomposer = layers.New(layers.DefaultConfig(), deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// only a wholly unset Config takes the defaults; a zero threshold keeps every region
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if cfg.ClassifyThreshold < 0 || cfg.ClassifyThreshold > 1 {
		return nil, fmt.Errorf("pipeline: classify threshold must be within [0,1], got %v", cfg.ClassifyThreshold)
	}
	return &Orchestrator{
		cfg:      cfg,
		services: deps.Services,
		decomp:   deps.Decomposer,
		anchor:   deps.Anchor,
		exporter: deps.Exporter,
		registry: deps.Registry,
		limiter:  NewLimiter(cfg.MaxConcurrent, cfg.QueueTimeout),
		logger:   deps.Logger,
	}, nil
}

// Decomposer returns the decomposer used for the decompose stage.
func (o *Orchestrator) Decomposer() *layers.Decomposer {
	return o.decomp
}

// ProcessBatch runs every input through the pipeline and archives the successes.
//
// Per-image failures are recorded in Result.Failures. When every image fails the
// Result is returned together with ErrAllItemsFailed and no archive is kept.
// Once ctx is cancelled no further image is started; the image in progress is
// completed and the archive is finalized with the work already done.
func (o *Orchestrator) ProcessBatch(ctx context.Context, inputs []Input, opts Options) (*Result, error) {
	if err := layers.ValidateCount(opts.ClusterCount); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}

	s, err := o.NewSession(opts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("batch started",
		zap.String("batch_id", s.BatchID()),
		zap.Int("images", len(inputs)),
		zap.Int("cluster_count", opts.ClusterCount),
	)

	for i, in := range inputs {
		if ctx.Err() != nil {
			o.logger.Warn("batch cancelled, skipping remaining images",
				zap.String("batch_id", s.BatchID()),
				zap.Int("skipped", len(inputs)-i),
			)
			break
		}
		if _, err := s.Add(ctx, in); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			_ = s.abort()
			return nil, err
		}
	}
	return s.Close(ctx)
}

// processImage runs one image through every stage. The returned error is a
// *StageError.
func (o *Orchestrator) processImage(ctx context.Context, s *Session, id int, in Input) (*archive.ImageEntry, error) {
	emit := func(st Stage) {
		if s.opts.Progress != nil {
			s.opts.Progress(ProgressEvent{
				BatchID:  s.batchID,
				ImageID:  id,
				Filename: in.Filename,
				Stage:    st,
				Percent:  st.Percent(),
			})
		}
	}
	fail := func(st Stage, err error) error {
		return &StageError{Stage: st, Err: err}
	}
	dump := o.debugDumper(s.batchID, id, in.Filename)

	emit(StageLoad)
	if in.Err != nil {
		return nil, fail(StageLoad, in.Err)
	}
	img, _, err := imaging.Decode(in.Data)
	if err != nil {
		return nil, fail(StageLoad, err)
	}
	if o.cfg.Preprocess != nil {
		if img, err = imaging.Preprocess(img, *o.cfg.Preprocess); err != nil {
			return nil, fail(StageLoad, err)
		}
	}
	dump(StageLoad, []*imaging.Raster{img})

	emit(StageSegment)
	var regions []*imaging.Raster
	err = o.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		regions, err = o.services.Segmenter.Segment(ctx, img)
		return err
	})
	if err != nil {
		return nil, fail(StageSegment, err)
	}
	if len(regions) == 0 {
		return nil, fail(StageSegment, ErrNoRegions)
	}
	dump(StageSegment, regions)

	emit(StageClassify)
	var kept []*imaging.Raster
	err = o.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		kept, err = o.services.Classifier.Classify(ctx, regions, o.cfg.ClassifyThreshold)
		return err
	})
	if err != nil {
		return nil, fail(StageClassify, err)
	}
	if len(kept) == 0 {
		return nil, fail(StageClassify, fmt.Errorf("%w: none of %d regions passed the threshold %.2f",
			ErrNoRegions, len(regions), o.cfg.ClassifyThreshold))
	}
	dump(StageClassify, kept)

	emit(StageUpscale)
	var upscaled []*imaging.Raster
	err = o.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		upscaled, err = o.services.Upscaler.Upscale(ctx, kept)
		return err
	})
	if err == nil && len(upscaled) != len(kept) {
		err = fmt.Errorf("upscaler returned %d images for %d regions", len(upscaled), len(kept))
	}
	if err != nil {
		return nil, fail(StageUpscale, err)
	}
	dump(StageUpscale, upscaled)

	emit(StageDecompose)
	var ls []layers.Layer
	err = o.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		ls, err = o.decomp.DecomposeBatch(ctx, upscaled, s.opts.ClusterCount)
		return err
	})
	if err != nil {
		return nil, fail(StageDecompose, err)
	}

	emit(StageAnnotate)
	annotated := anchor.AnnotateLayers(ls, o.anchor, o.logger.With(zap.String("filename", in.Filename)))
	if len(annotated) == 0 {
		return nil, fail(StageAnnotate, ErrNoLayers)
	}
	dump(StageAnnotate, layerImages(annotated))

	emit(StageExport)
	entry, err := o.exporter.AddImage(s.handle, in.Filename, annotated)
	if err != nil {
		return nil, fail(StageExport, err)
	}

	emit(StageDone)
	return entry, nil
}

func layerImages(ls []layers.Layer) []*imaging.Raster {
	out := make([]*imaging.Raster, len(ls))
	for i, l := range ls {
		out[i] = l.Image
	}
	return out
}
