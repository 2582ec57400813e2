package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
)

// DefaultCacheSize bounds the number of images an ImageCache keeps.
const DefaultCacheSize = 16

// ImageCache provides thread-safe caching of decoded images keyed by path.
//
// Still images handed to the MCP tools (a photo of a sign, a saved camera
// frame) are usually inspected several times in a row; the cache avoids
// decoding them again for each call. Grabbers often overwrite a single
// file such as latest.jpg, so every Load checks the file's modification
// time and size and decodes it again when either changed.
//
// # Memory Management
//
// At most DefaultCacheSize images are kept; the least recently loaded
// entry is dropped first.
type ImageCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	max     int
}

type cacheEntry struct {
	img     image.Image
	modTime time.Time
	size    int64
	used    time.Time
}

// NewImageCache creates an empty cache holding up to DefaultCacheSize
// images.
func NewImageCache() *ImageCache {
	return &ImageCache{
		entries: make(map[string]*cacheEntry),
		max:     DefaultCacheSize,
	}
}

// Load returns the cached image for path, decoding it from disk on a miss
// or when the file changed since it was cached.
//
// Supported formats are those of disintegration/imaging (PNG, JPEG, GIF,
// BMP, TIFF). JPEG EXIF orientation is applied so phone photos come out
// upright before zone classification.
func (c *ImageCache) Load(path string) (image.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.Evict(path)
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	c.mu.Lock()
	if e, ok := c.entries[path]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		e.used = time.Now()
		c.mu.Unlock()
		return e.img, nil
	}
	c.mu.Unlock()

	img, err := Open(path)
	if err != nil {
		c.Evict(path)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok && len(c.entries) >= c.max {
		c.dropOldest()
	}
	c.entries[path] = &cacheEntry{img: img, modTime: info.ModTime(), size: info.Size(), used: time.Now()}
	return img, nil
}

// Evict removes path from the cache.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// dropOldest removes the least recently used entry. c.mu must be held.
func (c *ImageCache) dropOldest() {
	var (
		oldest string
		at     time.Time
	)
	for path, e := range c.entries {
		if oldest == "" || e.used.Before(at) {
			oldest, at = path, e.used
		}
	}
	delete(c.entries, oldest)
}

// Open decodes an image file with EXIF auto-orientation.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return img, nil
}

// NewFrame wraps a decoded image as a detection frame.
func NewFrame(img image.Image, seq uint64) *detect.Frame {
	b := img.Bounds()
	return &detect.Frame{Image: img, Width: b.Dx(), Height: b.Dy(), Seq: seq}
}

// EncodeJPEG encodes img as JPEG at the given quality (1-100).
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// PNGBase64 encodes img as a base64 PNG string for JSON transport.
func PNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
