package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/layers"
)

const manifestName = "manifest.json"

var (
	// ErrArchiveWrite wraps failures of the underlying archive writer.
	ErrArchiveWrite = errors.New("archive write failed")

	// ErrHandleClosed is returned when a finalized or aborted handle is reused.
	ErrHandleClosed = errors.New("archive handle closed")
)

// LayerEntry describes one layer file of an image folder.
type LayerEntry struct {
	LayerNumber int                      `json:"layer_number"`
	ColorHex    string                   `json:"color_hex"`
	Path        string                   `json:"path"`
	Thumbnail   *imaging.ThumbnailResult `json:"thumbnail,omitempty"`
}

// ImageEntry is what AddImage wrote for one image.
type ImageEntry struct {
	Filename string       `json:"filename"`
	Folder   string       `json:"folder"`
	Layers   []LayerEntry `json:"layers"`
}

type manifestEntry struct {
	LayerNumber int    `json:"layer_number"`
	ColorHex    string `json:"color_hex"`
	Path        string `json:"path"`
}

// Exporter creates batch archives inside a Store.
type Exporter struct {
	store     *Store
	thumbSize int
	logger    *zap.Logger
}

// NewExporter creates an exporter. thumbSize caps the longest thumbnail side;
// values <= 0 select imaging.DefaultThumbnailSize.
func NewExporter(store *Store, thumbSize int, logger *zap.Logger) *Exporter {
	if thumbSize <= 0 {
		thumbSize = imaging.DefaultThumbnailSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, thumbSize: thumbSize, logger: logger}
}

// Handle is an archive being written. A handle has a single writer; its methods
// are serialised by a mutex.
type Handle struct {
	mu        sync.Mutex
	batchID   string
	file      *os.File
	zw        *zip.Writer
	partial   string
	final     string
	folders   map[string]bool
	images    int
	closed    bool
	broken    error
	createdAt time.Time
}

// BatchID returns the identifier the handle was opened for.
func (h *Handle) BatchID() string {
	return h.batchID
}

// Begin opens the archive for batchID.
func (e *Exporter) Begin(batchID string) (*Handle, error) {
	if err := validateID(batchID); err != nil {
		return nil, err
	}
	partial := e.store.partialPath(batchID)
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveWrite, err)
	}
	e.logger.Debug("archive opened", zap.String("batch_id", batchID), zap.String("path", partial))
	return &Handle{
		batchID:   batchID,
		file:      f,
		zw:        zip.NewWriter(f),
		partial:   partial,
		final:     e.store.finalPath(batchID),
		folders:   make(map[string]bool),
		createdAt: time.Now(),
	}, nil
}

type encodedLayer struct {
	entry LayerEntry
	png   []byte
}

// AddImage writes one folder for filename containing every layer and a manifest.
//
// Every PNG and thumbnail is encoded before the first byte is written, so an
// encoding failure leaves the archive exactly as it was. Writer failures return
// ErrArchiveWrite and make the handle unusable.
func (e *Exporter) AddImage(h *Handle, filename string, ls []layers.Layer) (*ImageEntry, error) {
	if len(ls) == 0 {
		return nil, fmt.Errorf("image %q has no layers", filename)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if h.broken != nil {
		return nil, h.broken
	}

	folder := h.folderFor(filename)
	encoded := make([]encodedLayer, len(ls))
	for i, l := range ls {
		data, err := imaging.EncodePNG(l.Image)
		if err != nil {
			return nil, fmt.Errorf("layer %d of %q: %w", i+1, filename, err)
		}
		thumb, err := imaging.Thumbnail(l.Image, e.thumbSize)
		if err != nil {
			return nil, fmt.Errorf("layer %d of %q: %w", i+1, filename, err)
		}
		encoded[i] = encodedLayer{
			entry: LayerEntry{
				LayerNumber: i + 1,
				ColorHex:    l.Hex,
				Path:        path.Join(folder, fmt.Sprintf("layer_%d_%s.png", i+1, l.HexDigits())),
				Thumbnail:   thumb,
			},
			png: data,
		}
	}

	manifest := make([]manifestEntry, len(encoded))
	for i, el := range encoded {
		manifest[i] = manifestEntry{
			LayerNumber: el.entry.LayerNumber,
			ColorHex:    el.entry.ColorHex,
			Path:        el.entry.Path,
		}
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	entry := &ImageEntry{Filename: filename, Folder: folder, Layers: make([]LayerEntry, len(encoded))}
	for i, el := range encoded {
		if err := h.writeFile(el.entry.Path, el.png); err != nil {
			return nil, err
		}
		entry.Layers[i] = el.entry
	}
	if err := h.writeFile(path.Join(folder, manifestName), manifestJSON); err != nil {
		return nil, err
	}
	h.folders[folder] = true
	h.images++

	e.logger.Debug("image archived",
		zap.String("batch_id", h.batchID),
		zap.String("folder", folder),
		zap.Int("layers", len(encoded)),
	)
	return entry, nil
}

// Finalize closes the archive and moves it into place, returning its path.
func (e *Exporter) Finalize(h *Handle) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrHandleClosed
	}
	h.closed = true
	if h.broken != nil {
		h.discard()
		return "", h.broken
	}

	if err := h.zw.Close(); err != nil {
		h.discard()
		return "", fmt.Errorf("%w: %v", ErrArchiveWrite, err)
	}
	if err := h.file.Close(); err != nil {
		_ = os.Remove(h.partial)
		return "", fmt.Errorf("%w: %v", ErrArchiveWrite, err)
	}
	if err := os.Rename(h.partial, h.final); err != nil {
		_ = os.Remove(h.partial)
		return "", fmt.Errorf("%w: %v", ErrArchiveWrite, err)
	}

	e.logger.Info("archive finalized",
		zap.String("batch_id", h.batchID),
		zap.Int("images", h.images),
		zap.Duration("elapsed", time.Since(h.createdAt)),
	)
	return h.final, nil
}

// Abort discards the archive. Aborting a closed handle is a no-op.
func (e *Exporter) Abort(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	e.logger.Debug("archive aborted", zap.String("batch_id", h.batchID))
	return h.discard()
}

func (h *Handle) discard() error {
	_ = h.file.Close()
	if err := os.Remove(h.partial); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (h *Handle) writeFile(name string, data []byte) error {
	w, err := h.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: h.createdAt,
	})
	if err == nil {
		_, err = w.Write(data)
	}
	if err != nil {
		h.broken = fmt.Errorf("%w: %s: %v", ErrArchiveWrite, name, err)
		return h.broken
	}
	return nil
}

// folderFor returns an unused folder name for filename. Repeated stems get a
// numeric suffix: image, image_2, image_3.
func (h *Handle) folderFor(filename string) string {
	stem := Stem(filename)
	if !h.folders[stem] {
		return stem
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", stem, n)
		if !h.folders[candidate] {
			return candidate
		}
	}
}

// Stem derives a folder name from an uploaded file name: the base name without
// extension, restricted to letters, digits, '-', '_' and '.'.
func Stem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "image"
	}
	return s
}
