package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// writeTestImage writes a solid-color PNG into dir and returns its path.
func writeTestImage(t *testing.T, dir string, width, height int, c color.Color) string {
	t.Helper()
	return writeNamedImage(t, dir, "frame.png", width, height, c)
}

// writeNamedImage writes a solid-color PNG named name into dir, replacing
// any existing file, and returns its path.
func writeNamedImage(t *testing.T, dir, name string, width, height int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func TestNewImageCache(t *testing.T) {
	cache := NewImageCache()
	if cache == nil {
		t.Fatal("NewImageCache returned nil")
	}
	if len(cache.entries) != 0 {
		t.Errorf("new cache has %d entries", len(cache.entries))
	}
}

func TestImageCache_Load(t *testing.T) {
	path := writeTestImage(t, t.TempDir(), 64, 48, color.RGBA{255, 0, 0, 255})
	cache := NewImageCache()

	img, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("bounds = %v, want 64x48", b)
	}

	again, err := cache.Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if again != img {
		t.Error("second Load did not return the cached image")
	}
}

func TestImageCache_LoadMissing(t *testing.T) {
	cache := NewImageCache()
	if _, err := cache.Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
	if len(cache.entries) != 0 {
		t.Error("failed load should not be cached")
	}
}

func TestImageCache_ReloadsRewrittenFile(t *testing.T) {
	dir := t.TempDir()
	path := writeNamedImage(t, dir, "latest.png", 10, 10, color.White)
	cache := NewImageCache()

	first, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	writeNamedImage(t, dir, "latest.png", 50, 10, color.Black)

	second, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load after rewrite failed: %v", err)
	}
	if first.Bounds().Dx() != 10 || second.Bounds().Dx() != 50 {
		t.Errorf("widths = %d then %d, want 10 then 50", first.Bounds().Dx(), second.Bounds().Dx())
	}
}

func TestImageCache_DeletedFileIsEvicted(t *testing.T) {
	path := writeTestImage(t, t.TempDir(), 8, 8, color.White)
	cache := NewImageCache()

	if _, err := cache.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Load(path); err == nil {
		t.Error("expected error once the file is gone")
	}
	if len(cache.entries) != 0 {
		t.Errorf("%d entries left after the file was removed", len(cache.entries))
	}
}

func TestImageCache_Bounded(t *testing.T) {
	dir := t.TempDir()
	cache := NewImageCache()
	cache.max = 2

	a := writeNamedImage(t, dir, "a.png", 4, 4, color.White)
	b := writeNamedImage(t, dir, "b.png", 4, 4, color.White)
	c := writeNamedImage(t, dir, "c.png", 4, 4, color.White)
	for _, p := range []string{a, b, c} {
		if _, err := cache.Load(p); err != nil {
			t.Fatalf("Load %s: %v", p, err)
		}
		time.Sleep(time.Millisecond)
	}

	if len(cache.entries) != 2 {
		t.Fatalf("cache holds %d entries, want 2", len(cache.entries))
	}
	if _, ok := cache.entries[a]; ok {
		t.Error("least recently used entry was kept")
	}
}

func TestImageCache_Concurrent(t *testing.T) {
	path := writeTestImage(t, t.TempDir(), 16, 16, color.Black)
	cache := NewImageCache()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(path); err != nil {
				t.Errorf("concurrent Load failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(image.NewRGBA(image.Rect(0, 0, 640, 480)), 42)
	if f.Width != 640 || f.Height != 480 || f.Seq != 42 {
		t.Errorf("frame = %dx%d seq %d", f.Width, f.Height, f.Seq)
	}
}

func TestEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), 80); err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("round trip decode failed: %v", err)
	}
	if img.Bounds().Dx() != 32 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestPNGBase64(t *testing.T) {
	s, err := PNGBase64(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("PNGBase64 failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid base64: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG")) {
		t.Error("payload is not a PNG")
	}
}
