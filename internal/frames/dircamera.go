package frames

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
)

var (
	// ErrAccessDenied means the capture source exists but may not be read.
	ErrAccessDenied = errors.New("camera access denied")

	// ErrUnavailable means the capture source does not exist.
	ErrUnavailable = errors.New("camera unavailable")
)

// Facing selects which camera to use.
type Facing string

const (
	FacingUser        Facing = "user"        // front camera, indoor use
	FacingEnvironment Facing = "environment" // rear camera, outdoor use
)

// Capture is an open camera.
type Capture interface {
	detect.FrameSource
	Close() error
}

// Camera opens captures. ctx bounds the opening only; a capture keeps
// delivering frames until it is closed.
type Camera interface {
	Open(ctx context.Context, facing Facing) (Capture, error)
}

// settleDelay lets writers finish a file before it is decoded.
const settleDelay = 20 * time.Millisecond

var frameExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true}

// DirCamera treats a directory as a camera: every image file written into
// it becomes the current frame. An external grabber (ffmpeg, a phone sync
// folder, a test harness) produces the files.
//
// One directory is configured per facing.
type DirCamera struct {
	Dirs   map[Facing]string
	Logger *slog.Logger

	// PollInterval is the fallback scan period used when fsnotify cannot
	// watch the directory. Zero means one second.
	PollInterval time.Duration
}

// Open starts watching the directory for facing. The newest image already
// present, if any, is published immediately. The watcher runs until Close,
// whatever happens to ctx afterwards.
func (c *DirCamera) Open(ctx context.Context, facing Facing) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, ok := c.Dirs[facing]
	if !ok || dir == "" {
		return nil, fmt.Errorf("no capture directory for %s camera: %w", facing, ErrUnavailable)
	}
	if err := checkReadable(dir); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := c.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	dc := &dirCapture{
		Mailbox: NewMailbox(),
		dir:     dir,
		logger:  logger.With("component", "frames", "dir", dir),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if newest := newestImage(dir); newest != "" {
		dc.load(newest)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(dir); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		dc.logger.Warn("fsnotify unavailable, falling back to polling", "error", err)
		go dc.poll(ctx, poll)
	} else {
		go dc.watch(ctx, watcher)
	}
	return dc, nil
}

func checkReadable(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", dir, ErrAccessDenied)
	case err != nil:
		return fmt.Errorf("%s: %w", dir, ErrUnavailable)
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory: %w", dir, ErrUnavailable)
	}
	f, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%s: %w", dir, ErrAccessDenied)
		}
		return fmt.Errorf("%s: %w", dir, ErrUnavailable)
	}
	return f.Close()
}

type dirCapture struct {
	*Mailbox

	dir    string
	logger *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (d *dirCapture) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
		d.Reset()
	})
	return nil
}

func (d *dirCapture) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer close(d.done)
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isFrameFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				time.Sleep(settleDelay)
				d.load(event.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			d.logger.Warn("frame watcher error", "error", err)
		}
	}
}

func (d *dirCapture) poll(ctx context.Context, every time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path := newestImage(d.dir)
			if path == "" {
				continue
			}
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().After(last) {
				continue
			}
			last = info.ModTime()
			d.load(path)
		}
	}
}

func (d *dirCapture) load(path string) {
	img, err := imaging.Open(path)
	if err != nil {
		// Partially written files are common; the next write event retries.
		d.logger.Debug("skipping unreadable frame", "path", path, "error", err)
		return
	}
	d.Publish(imaging.NewFrame(img, 0))
}

func isFrameFile(name string) bool {
	return frameExts[strings.ToLower(filepath.Ext(name))]
}

// newestImage returns the most recently modified image in dir, or "".
func newestImage(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !isFrameFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best = filepath.Join(dir, e.Name())
			bestMod = info.ModTime()
		}
	}
	return best
}
