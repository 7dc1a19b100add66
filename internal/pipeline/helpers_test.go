package pipeline

import (
	"archive/zip"
	"context"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
)

// fakeSegmenter returns the whole image as its only region and fails on the
// configured 1-based call numbers.
type fakeSegmenter struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]error
	empty   bool
	ctxErrs []error
}

func (f *fakeSegmenter) Segment(ctx context.Context, img *imaging.Raster) ([]*imaging.Raster, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if err := f.failOn[f.calls]; err != nil {
		return nil, err
	}
	if f.empty {
		return nil, nil
	}
	return []*imaging.Raster{img.Clone()}, nil
}

type fakeClassifier struct {
	reject bool

	mu         sync.Mutex
	thresholds []float64
}

func (f *fakeClassifier) Classify(_ context.Context, regions []*imaging.Raster, threshold float64) ([]*imaging.Raster, error) {
	f.mu.Lock()
	f.thresholds = append(f.thresholds, threshold)
	f.mu.Unlock()
	if f.reject {
		return nil, nil
	}
	return regions, nil
}

type identityUpscaler struct{}

func (identityUpscaler) Upscale(_ context.Context, imgs []*imaging.Raster) ([]*imaging.Raster, error) {
	out := make([]*imaging.Raster, len(imgs))
	for i, r := range imgs {
		out[i] = r.Clone()
	}
	return out, nil
}

type fixture struct {
	orch      *Orchestrator
	store     *archive.Store
	segmenter *fakeSegmenter
	registry  *archive.MemoryRegistry
}

func newFixture(t *testing.T, cfg Config, seg *fakeSegmenter, cls *fakeClassifier) *fixture {
	t.Helper()
	if seg == nil {
		seg = &fakeSegmenter{}
	}
	if cls == nil {
		cls = &fakeClassifier{}
	}
	store, err := archive.NewStore(t.TempDir(), 0, nil)
	require.NoError(t, err)
	reg := archive.NewMemoryRegistry(0)

	o, err := New(cfg, Deps{
		Services: inference.Services{
			Segmenter:  seg,
			Classifier: cls,
			Upscaler:   identityUpscaler{},
		},
		Decomposer: layers.New(layers.DefaultConfig(), nil),
		Anchor:     anchor.DefaultOptions(),
		Exporter:   archive.NewExporter(store, 32, nil),
		Registry:   reg,
	})
	require.NoError(t, err)
	return &fixture{orch: o, store: store, segmenter: seg, registry: reg}
}

func solidPNG(t *testing.T, w, h int, c imaging.RGB) []byte {
	t.Helper()
	r, err := imaging.NewRaster(w, h)
	require.NoError(t, err)
	r.FillRect(0, 0, w, h, c)
	data, err := imaging.EncodePNG(r)
	require.NoError(t, err)
	return data
}

func twoColorPNG(t *testing.T, size int) []byte {
	t.Helper()
	r, err := imaging.NewRaster(size, size)
	require.NoError(t, err)
	r.FillRect(0, 0, size/2, size, imaging.RGB{R: 200, G: 30, B: 30})
	r.FillRect(size/2, 0, size, size, imaging.RGB{R: 20, G: 20, B: 160})
	data, err := imaging.EncodePNG(r)
	require.NoError(t, err)
	return data
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	var out []string
	for _, f := range zr.File {
		out = append(out, f.Name)
	}
	sort.Strings(out)
	return out
}

func zipFile(t *testing.T, path, name string) []byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return data
	}
	t.Fatalf("%s not found in %s", name, path)
	return nil
}
