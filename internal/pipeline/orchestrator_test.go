package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
)

func TestProcessBatch_SolidRed(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "image.png", Data: solidPNG(t, 256, 256, imaging.RGB{R: 255})},
	}, Options{ClusterCount: 1})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Successes, 1)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Successes[0].Layers, 1)
	assert.Equal(t, "#ff0000", res.Successes[0].Layers[0].ColorHex)
	require.True(t, res.HasArchive())

	assert.Equal(t, []string{"image/layer_1_ff0000.png", "image/manifest.json"}, zipNames(t, res.ArchivePath))

	var manifest []struct {
		LayerNumber int    `json:"layer_number"`
		ColorHex    string `json:"color_hex"`
		Path        string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(zipFile(t, res.ArchivePath, "image/manifest.json"), &manifest))
	require.Len(t, manifest, 1)
	assert.Equal(t, 1, manifest[0].LayerNumber)
	assert.Equal(t, "#ff0000", manifest[0].ColorHex)
	assert.Equal(t, "image/layer_1_ff0000.png", manifest[0].Path)

	layer, _, err := imaging.Decode(zipFile(t, res.ArchivePath, "image/layer_1_ff0000.png"))
	require.NoError(t, err)
	require.Equal(t, 256, layer.Width)
	require.Equal(t, 256, layer.Height)

	white := imaging.RGB{R: 255, G: 255, B: 255}
	black := imaging.RGB{}
	red := imaging.RGB{R: 255}
	// red averages below 128, so every mark is a white cross on a black outline
	for _, c := range []struct{ x, y int }{{15, 15}, {240, 15}, {15, 240}, {240, 240}} {
		assert.Equal(t, white, layer.At(c.x, c.y), "centre %v", c)
		assert.Equal(t, white, layer.At(c.x+10, c.y), "arm end %v", c)
		assert.Equal(t, white, layer.At(c.x, c.y-10), "arm end %v", c)
		assert.Equal(t, black, layer.At(c.x+12, c.y), "outline %v", c)
		assert.Equal(t, black, layer.At(c.x+2, c.y+2), "outline %v", c)
		assert.Equal(t, red, layer.At(c.x+13, c.y), "beyond outline %v", c)
		assert.Equal(t, red, layer.At(c.x+3, c.y+3), "beside outline %v", c)
	}
	assert.Equal(t, red, layer.At(0, 0))
	assert.Equal(t, red, layer.At(128, 128))

	p, err := f.store.Path(res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, res.ArchivePath, p)
}

func TestProcessBatch_SolidRedAutomaticCount(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "image.png", Data: solidPNG(t, 256, 256, imaging.RGB{R: 255})},
	}, Options{ClusterCount: layers.AutoCount})
	require.NoError(t, err)

	assert.Equal(t, []string{"image/layer_1_ff0000.png", "image/manifest.json"}, zipNames(t, res.ArchivePath))
}

func TestProcessBatch_SegmentationOutOfMemory(t *testing.T) {
	seg := &fakeSegmenter{failOn: map[int]error{
		2: fmt.Errorf("cuda: %w", inference.ErrResourceExhausted),
	}}
	f := newFixture(t, DefaultConfig(), seg, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "one.png", Data: twoColorPNG(t, 32)},
		{Filename: "two.png", Data: twoColorPNG(t, 32)},
		{Filename: "three.png", Data: twoColorPNG(t, 32)},
	}, Options{ClusterCount: 2})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Successes, 2)
	assert.Equal(t, "one", res.Successes[0].Folder)
	assert.Equal(t, "three", res.Successes[1].Folder)

	require.Len(t, res.Failures, 1)
	fail := res.Failures[0]
	assert.Equal(t, "two.png", fail.Filename)
	assert.Equal(t, StageSegment, fail.Stage)
	assert.True(t, fail.ResourceExhausted)
	assert.Contains(t, fail.Message, "resource exhausted")

	for _, name := range zipNames(t, res.ArchivePath) {
		assert.NotContains(t, name, "two/")
	}
}

func TestProcessBatch_SomeUndecodable(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	inputs := []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
		{Filename: "broken.png", Data: []byte("not an image")},
		{Filename: "b.png", Data: twoColorPNG(t, 16)},
		{Filename: "empty.png"},
		{Filename: "c.png", Data: solidPNG(t, 16, 16, imaging.RGB{G: 255})},
	}
	res, err := f.orch.ProcessBatch(context.Background(), inputs, Options{ClusterCount: 2})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	assert.Len(t, res.Successes, 3)
	require.Len(t, res.Failures, 2)
	for _, fl := range res.Failures {
		assert.Equal(t, StageLoad, fl.Stage)
		assert.False(t, fl.ResourceExhausted)
	}

	names := zipNames(t, res.ArchivePath)
	assert.Contains(t, names, "a/manifest.json")
	assert.Contains(t, names, "b/manifest.json")
	assert.Contains(t, names, "c/manifest.json")
	assert.NotContains(t, names, "broken/manifest.json")
}

func TestProcessBatch_AllFailed(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "x.png", Data: []byte("nope")},
		{Filename: "y.png", Data: []byte("nope")},
	}, Options{})
	require.ErrorIs(t, err, ErrAllItemsFailed)
	require.NotNil(t, res)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Successes)
	assert.Len(t, res.Failures, 2)
	assert.False(t, res.HasArchive())

	_, err = f.store.Path(res.BatchID)
	assert.ErrorIs(t, err, archive.ErrArchiveNotFound)
	entries, err := os.ReadDir(f.store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessBatch_EmptyOutputPolicy(t *testing.T) {
	t.Run("no segments", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), &fakeSegmenter{empty: true}, nil)
		res, err := f.orch.ProcessBatch(context.Background(), []Input{
			{Filename: "a.png", Data: twoColorPNG(t, 16)},
		}, Options{})
		require.ErrorIs(t, err, ErrAllItemsFailed)
		assert.Equal(t, StageSegment, res.Failures[0].Stage)
	})

	t.Run("nothing classified", func(t *testing.T) {
		f := newFixture(t, DefaultConfig(), nil, &fakeClassifier{reject: true})
		res, err := f.orch.ProcessBatch(context.Background(), []Input{
			{Filename: "a.png", Data: twoColorPNG(t, 16)},
		}, Options{})
		require.ErrorIs(t, err, ErrAllItemsFailed)
		assert.Equal(t, StageClassify, res.Failures[0].Stage)
	})
}

func TestProcessBatch_DecomposeFailure(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "tiny.png", Data: solidPNG(t, 1, 2, imaging.RGB{R: 9})},
		{Filename: "ok.png", Data: twoColorPNG(t, 16)},
	}, Options{ClusterCount: 3})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageDecompose, res.Failures[0].Stage)
	assert.Contains(t, res.Failures[0].Message, layers.ErrClusteringFailed.Error())
}

func TestProcessBatch_Progress(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	var mu sync.Mutex
	var events []ProgressEvent
	_, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
		{Filename: "bad.png", Data: []byte("x")},
	}, Options{ClusterCount: 2, Progress: func(e ProgressEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}})
	require.NoError(t, err)

	var first []int
	var stages []Stage
	for _, e := range events {
		if e.ImageID == 0 {
			first = append(first, e.Percent)
			stages = append(stages, e.Stage)
			assert.Equal(t, "a.png", e.Filename)
		}
	}
	assert.Equal(t, []int{10, 30, 50, 70, 85, 95, 100, 100}, first)
	assert.Equal(t, []Stage{StageLoad, StageSegment, StageClassify, StageUpscale,
		StageDecompose, StageAnnotate, StageExport, StageDone}, stages)

	// the failing image starts over at load and reports nothing further
	last := events[len(events)-1]
	assert.Equal(t, 1, last.ImageID)
	assert.Equal(t, StageLoad, last.Stage)
	assert.Equal(t, 10, last.Percent)
}

func TestProcessBatch_InvalidRequests(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	_, err := f.orch.ProcessBatch(context.Background(), []Input{{Filename: "a.png"}}, Options{ClusterCount: 11})
	assert.ErrorIs(t, err, layers.ErrInvalidClusterCount)

	_, err = f.orch.ProcessBatch(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoInputs)
}

func TestProcessBatch_CancelFinishesCurrentImage(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.orch.ProcessBatch(ctx, []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
		{Filename: "b.png", Data: twoColorPNG(t, 16)},
	}, Options{ClusterCount: 2, Progress: func(e ProgressEvent) {
		if e.ImageID == 0 && e.Stage == StageLoad {
			cancel()
		}
	}})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.Successes, 1)
	assert.Equal(t, "a", res.Successes[0].Folder)
	assert.Equal(t, []error{nil}, f.segmenter.ctxErrs)
	assert.Equal(t, []string{"a/layer_1_1414a0.png", "a/layer_2_c81e1e.png", "a/manifest.json"}, zipNames(t, res.ArchivePath))
}

func TestProcessBatch_StoresSummary(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
		{Filename: "b.png", Data: []byte("x")},
	}, Options{ClusterCount: 2})
	require.NoError(t, err)

	var got Result
	require.NoError(t, f.registry.Load(context.Background(), res.BatchID, &got))
	assert.Equal(t, StatusPartial, got.Status)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, StageLoad, got.Failures[0].Stage)
	assert.Empty(t, got.ArchivePath)
}

func TestProcessBatch_DebugDumps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DebugDir = t.TempDir()
	f := newFixture(t, cfg, nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
	}, Options{ClusterCount: 2})
	require.NoError(t, err)

	dir := filepath.Join(cfg.DebugDir, res.BatchID, "0_a")
	for _, name := range []string{"load_1.png", "segment_1.png", "classify_1.png", "upscale_1.png", "annotate_1.png", "annotate_2.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestProcessBatch_Preprocess(t *testing.T) {
	cfg := DefaultConfig()
	opts := imaging.DefaultPreprocessOptions()
	opts.Size = 24
	cfg.Preprocess = &opts
	f := newFixture(t, cfg, nil, nil)

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 64)},
	}, Options{ClusterCount: 2})
	require.NoError(t, err)
	require.Len(t, res.Successes, 1)
	assert.Len(t, res.Successes[0].Layers, 2)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)

	store, err := archive.NewStore(t.TempDir(), 0, nil)
	require.NoError(t, err)
	services := inference.Services{Segmenter: &fakeSegmenter{}, Classifier: &fakeClassifier{}, Upscaler: identityUpscaler{}}

	_, err = New(DefaultConfig(), Deps{Services: services})
	assert.Error(t, err)

	_, err = New(DefaultConfig(), Deps{
		Services: services,
		Exporter: archive.NewExporter(store, 0, nil),
		Anchor:   anchor.Options{CrossSize: -1},
	})
	assert.ErrorIs(t, err, anchor.ErrInvalidOptions)

	o, err := New(Config{}, Deps{Services: services, Exporter: archive.NewExporter(store, 0, nil)})
	require.NoError(t, err)
	assert.NotNil(t, o.Decomposer())
}

func TestProcessBatch_RejectedInput(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)
	var events []ProgressEvent

	res, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
		{Filename: "notes.txt", Data: twoColorPNG(t, 16), Err: fmt.Errorf("unsupported content type %q", "text/plain")},
		{Filename: "c.png", Data: twoColorPNG(t, 16)},
	}, Options{ClusterCount: 2, Progress: func(e ProgressEvent) { events = append(events, e) }})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Successes, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "notes.txt", res.Failures[0].Filename)
	assert.Equal(t, StageLoad, res.Failures[0].Stage)
	assert.Contains(t, res.Failures[0].Message, "text/plain")

	f.segmenter.mu.Lock()
	calls := f.segmenter.calls
	f.segmenter.mu.Unlock()
	assert.Equal(t, 2, calls, "rejected input must not reach segmentation")

	var rejected []Stage
	for _, e := range events {
		if e.Filename == "notes.txt" {
			rejected = append(rejected, e.Stage)
		}
	}
	assert.Equal(t, []Stage{StageLoad}, rejected)
}

func TestNew_ClassifyThreshold(t *testing.T) {
	store, err := archive.NewStore(t.TempDir(), 0, nil)
	require.NoError(t, err)
	services := inference.Services{Segmenter: &fakeSegmenter{}, Classifier: &fakeClassifier{}, Upscaler: identityUpscaler{}}
	deps := Deps{Services: services, Exporter: archive.NewExporter(store, 0, nil)}

	o, err := New(Config{}, deps)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), o.cfg)

	cfg := DefaultConfig()
	cfg.ClassifyThreshold = 0
	o, err = New(cfg, deps)
	require.NoError(t, err)
	assert.Zero(t, o.cfg.ClassifyThreshold)

	for _, bad := range []float64{-0.1, 1.5} {
		cfg.ClassifyThreshold = bad
		_, err = New(cfg, deps)
		assert.Error(t, err, "threshold %v", bad)
	}
}

func TestProcessBatch_ZeroThresholdReachesClassifier(t *testing.T) {
	cls := &fakeClassifier{}
	cfg := DefaultConfig()
	cfg.ClassifyThreshold = 0
	f := newFixture(t, cfg, nil, cls)

	_, err := f.orch.ProcessBatch(context.Background(), []Input{
		{Filename: "a.png", Data: twoColorPNG(t, 16)},
	}, Options{ClusterCount: 2})
	require.NoError(t, err)

	cls.mu.Lock()
	defer cls.mu.Unlock()
	assert.Equal(t, []float64{0}, cls.thresholds)
}
