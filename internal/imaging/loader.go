package imaging

import (
	"bytes"
	"container/list"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ErrEmptyImage is returned when decoding is attempted on an empty payload.
var ErrEmptyImage = errors.New("empty image data")

// Decode turns an encoded image into a Raster.
//
// Parameters:
//   - data: Encoded bytes. Supported formats are PNG, JPEG, GIF, BMP, TIFF and WebP.
//
// Returns:
//   - *Raster: The decoded, alpha-free RGB raster. EXIF orientation is applied so
//     that layers come out the way the photo is displayed.
//   - string: The format name reported by the decoder registry (e.g. "png").
//   - error: Non-nil if the payload is empty or cannot be decoded.
func Decode(data []byte) (*Raster, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	r := FromImage(img)
	if err := r.Validate(); err != nil {
		return nil, "", err
	}
	return r, format, nil
}

// LoadFile reads and decodes an image file from disk.
func LoadFile(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	r, _, err := Decode(data)
	return r, err
}

// DefaultCacheSize is the number of rasters an ImageCache keeps when no size is given.
const DefaultCacheSize = 16

// ImageCache provides thread-safe caching of decoded rasters keyed by file path.
//
// The MCP transport receives file paths rather than uploads; repeated tool calls on
// the same file reuse the decoded raster instead of hitting the disk again. Cached
// rasters must be treated as read-only by callers.
//
// # Memory Management
//
// The cache holds at most its configured number of rasters and drops the least
// recently used one when a new file pushes it over. An entry whose file has a
// different modification time on disk is reloaded rather than served.
type ImageCache struct {
	mu      sync.Mutex
	max     int
	images  map[string]*list.Element
	recency *list.List
}

type cacheEntry struct {
	path    string
	raster  *Raster
	modTime time.Time
}

// NewImageCache creates an empty cache holding up to size rasters.
// A size of zero or less uses DefaultCacheSize.
func NewImageCache(size int) *ImageCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ImageCache{
		max:     size,
		images:  make(map[string]*list.Element),
		recency: list.New(),
	}
}

// Load retrieves a raster from the cache or loads it from disk if not cached.
//
// The raster is cached using the exact path string provided. Different paths to the
// same file (e.g., relative vs absolute) will result in separate cache entries.
func (c *ImageCache) Load(path string) (*Raster, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.remove(path)
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	c.mu.Lock()
	if el, ok := c.images[path]; ok {
		e := el.Value.(*cacheEntry)
		if e.modTime.Equal(info.ModTime()) {
			c.recency.MoveToFront(el)
			c.mu.Unlock()
			return e.raster, nil
		}
	}
	c.mu.Unlock()

	r, err := LoadFile(path)
	if err != nil {
		c.remove(path)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.images[path]; ok {
		c.recency.Remove(el)
	}
	c.images[path] = c.recency.PushFront(&cacheEntry{path: path, raster: r, modTime: info.ModTime()})
	for c.recency.Len() > c.max {
		oldest := c.recency.Back()
		c.recency.Remove(oldest)
		delete(c.images, oldest.Value.(*cacheEntry).path)
	}
	return r, nil
}

func (c *ImageCache) remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.images[path]; ok {
		c.recency.Remove(el)
		delete(c.images, path)
	}
}

// Clear removes all rasters from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]*list.Element)
	c.recency.Init()
	c.mu.Unlock()
}

// Len returns the number of cached rasters.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}
