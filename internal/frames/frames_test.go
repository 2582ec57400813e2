package frames

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
)

func TestMailbox_NotReadyUntilPublish(t *testing.T) {
	m := NewMailbox()
	if f, ok := m.Current(); ok || f != nil {
		t.Fatal("empty mailbox reported a frame")
	}

	m.Publish(&detect.Frame{Width: 10, Height: 10})
	f, ok := m.Current()
	if !ok || f == nil {
		t.Fatal("published frame not available")
	}
	if f.Seq != 1 {
		t.Errorf("Seq = %d, want 1", f.Seq)
	}
	if f.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestMailbox_OverwriteAndDrops(t *testing.T) {
	m := NewMailbox()
	for i := 0; i < 5; i++ {
		m.Publish(&detect.Frame{Width: 10, Height: 10})
	}

	f, _ := m.Current()
	if f.Seq != 5 {
		t.Errorf("Current Seq = %d, want newest (5)", f.Seq)
	}

	st := m.Stats()
	if st.Published != 5 || st.Dropped != 4 || st.Read != 1 {
		t.Errorf("stats = %+v, want published 5, dropped 4, read 1", st)
	}
}

func TestMailbox_RepeatedReadSameSeq(t *testing.T) {
	m := NewMailbox()
	m.Publish(&detect.Frame{Width: 10, Height: 10})

	a, _ := m.Current()
	b, _ := m.Current()
	if a.Seq != b.Seq {
		t.Error("repeated Current changed Seq without a Publish")
	}
	if m.Stats().Read != 1 {
		t.Errorf("Read = %d, want 1", m.Stats().Read)
	}
}

func TestMailbox_Reset(t *testing.T) {
	m := NewMailbox()
	m.Publish(&detect.Frame{Width: 10, Height: 10})
	m.Reset()
	if _, ok := m.Current(); ok {
		t.Error("Current after Reset should be not ready")
	}
}

func TestMailbox_ConcurrentPublish(t *testing.T) {
	m := NewMailbox()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Publish(&detect.Frame{Width: 1, Height: 1})
				m.Current()
			}
		}()
	}
	wg.Wait()

	if m.Stats().Published != 800 {
		t.Errorf("Published = %d, want 800", m.Stats().Published)
	}
}

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		t.Fatalf("encode: %v", err)
	}
	f.Close()
	// Rename so the watcher never sees a half-written image.
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func waitFrame(t *testing.T, src detect.FrameSource, width int) *detect.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f, ok := src.Current(); ok && f.Width == width {
			return f
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no %dpx frame arrived", width)
	return nil
}

func TestDirCamera_MissingDirectory(t *testing.T) {
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: filepath.Join(t.TempDir(), "nope")}}
	_, err := cam.Open(context.Background(), FacingUser)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestDirCamera_UnconfiguredFacing(t *testing.T) {
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: t.TempDir()}}
	_, err := cam.Open(context.Background(), FacingEnvironment)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestDirCamera_PermissionDenied(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "locked")
	if err := os.Mkdir(dir, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)

	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: dir}}
	_, err := cam.Open(context.Background(), FacingUser)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("err = %v, want ErrAccessDenied", err)
	}
}

func TestDirCamera_ExistingFrameIsPublished(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "000.png"), 32, 24)

	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: dir}}
	capt, err := cam.Open(context.Background(), FacingUser)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer capt.Close()

	f, ok := capt.Current()
	if !ok || f.Width != 32 || f.Height != 24 {
		t.Fatalf("initial frame = %+v, %v", f, ok)
	}
}

func TestDirCamera_NewFilesBecomeFrames(t *testing.T) {
	dir := t.TempDir()
	cam := &DirCamera{Dirs: map[Facing]string{FacingEnvironment: dir}, PollInterval: 20 * time.Millisecond}
	capt, err := cam.Open(context.Background(), FacingEnvironment)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer capt.Close()

	if _, ok := capt.Current(); ok {
		t.Fatal("empty directory should not yield a frame")
	}

	writePNG(t, filepath.Join(dir, "001.png"), 40, 30)
	first := waitFrame(t, capt, 40)

	writePNG(t, filepath.Join(dir, "002.png"), 48, 30)
	second := waitFrame(t, capt, 48)

	if second.Seq <= first.Seq {
		t.Errorf("Seq did not advance: %d then %d", first.Seq, second.Seq)
	}
}

func TestDirCamera_IgnoresNonImages(t *testing.T) {
	dir := t.TempDir()
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: dir}}
	capt, err := cam.Open(context.Background(), FacingUser)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer capt.Close()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, ok := capt.Current(); ok {
		t.Error("text file produced a frame")
	}
}

func TestDirCamera_CloseIsIdempotent(t *testing.T) {
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: t.TempDir()}}
	capt, err := cam.Open(context.Background(), FacingUser)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := capt.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := capt.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDirCamera_OutlivesOpenContext(t *testing.T) {
	dir := t.TempDir()
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: dir}, PollInterval: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	capt, err := cam.Open(ctx, FacingUser)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer capt.Close()
	cancel()

	writePNG(t, filepath.Join(dir, "001.png"), 36, 20)
	waitFrame(t, capt, 36)
}

func TestDirCamera_OpenWithEndedContext(t *testing.T) {
	cam := &DirCamera{Dirs: map[Facing]string{FacingUser: t.TempDir()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := cam.Open(ctx, FacingUser); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
