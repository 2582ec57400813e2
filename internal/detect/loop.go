package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultInterval approximates a 60 Hz display refresh.
	DefaultInterval = time.Second / 60

	// DefaultDetectTimeout bounds a single detector call.
	DefaultDetectTimeout = 2 * time.Second

	// DefaultErrorBackoff is the pause after a failed detector call.
	DefaultErrorBackoff = 250 * time.Millisecond
)

// ErrNoDetector is returned by NewLoop when Options.Detector is nil.
var ErrNoDetector = errors.New("detect: no detector configured")

// Options configures a Loop.
type Options struct {
	Detector Detector
	Source   FrameSource

	// Renderer receives overlay draw commands; nil skips drawing.
	Renderer Renderer
	Palette  Palette

	// OnAlert receives the primary alert of a frame with detections.
	OnAlert func(Alert)
	// OnClear is called for frames without detections.
	OnClear func()
	// OnError is called when a detector call fails or times out. The
	// iteration is skipped and the loop continues.
	OnError func(error)

	Interval      time.Duration
	DetectTimeout time.Duration
	ErrorBackoff  time.Duration

	Logger *slog.Logger
}

// Stats counts loop activity.
type Stats struct {
	Iterations uint64 `json:"iterations"`
	Skipped    uint64 `json:"skipped"`
	Detections uint64 `json:"detections"`
	Alerts     uint64 `json:"alerts"`
	Clears     uint64 `json:"clears"`
	Errors     uint64 `json:"errors"`
	Discarded  uint64 `json:"discarded"`
}

// Loop drives detection over a FrameSource.
type Loop struct {
	opts   Options
	logger *slog.Logger

	// emitMu serializes emission against Cancel.
	emitMu    sync.Mutex
	cancelled bool

	statsMu sync.Mutex
	stats   Stats

	lastSeq uint64
	seen    bool
}

// NewLoop validates opts and fills in defaults.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Detector == nil {
		return nil, ErrNoDetector
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("detect: no frame source configured")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = DefaultDetectTimeout
	}
	if opts.ErrorBackoff < 0 {
		opts.ErrorBackoff = 0
	} else if opts.ErrorBackoff == 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.Palette == nil {
		opts.Palette = DefaultPalette
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{opts: opts, logger: logger.With("component", "detect-loop")}, nil
}

// Handle controls a running loop.
type Handle struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs the loop in a new goroutine until ctx ends or the handle is
// cancelled.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	l, err := NewLoop(opts)
	if err != nil {
		return nil, err
	}
	return l.Start(ctx), nil
}

// Start runs l in a new goroutine.
func (l *Loop) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{loop: l, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		l.Run(ctx)
	}()
	return h
}

// Cancel stops the loop. After Cancel returns no further callbacks fire.
// It must not be called from inside a loop callback.
func (h *Handle) Cancel() {
	h.loop.markCancelled()
	h.cancel()
}

// Done is closed when the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stats returns a snapshot of the loop counters.
func (h *Handle) Stats() Stats {
	return h.loop.Stats()
}

// Run blocks, running one iteration per tick until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer l.markCancelled()

	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	l.logger.Debug("detection loop started", "interval", l.opts.Interval)
	defer l.logger.Debug("detection loop stopped")

	for {
		if ctx.Err() != nil || l.isCancelled() {
			return
		}

		if err := l.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.opts.ErrorBackoff):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// iterate runs one detect/render/alert cycle. A non-nil error means the
// detector failed.
func (l *Loop) iterate(ctx context.Context) error {
	frame, ok := l.opts.Source.Current()
	if !ok || frame == nil || frame.Width <= 0 || (l.seen && frame.Seq == l.lastSeq) {
		l.count(func(s *Stats) { s.Skipped++ })
		return nil
	}
	l.lastSeq, l.seen = frame.Seq, true

	dctx, cancel := context.WithTimeout(ctx, l.opts.DetectTimeout)
	dets, err := l.opts.Detector.Detect(dctx, frame)
	cancel()

	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	if l.cancelled || ctx.Err() != nil {
		l.count(func(s *Stats) { s.Discarded++ })
		return nil
	}

	if err != nil {
		l.count(func(s *Stats) { s.Errors++ })
		l.logger.Warn("detector call failed", "seq", frame.Seq, "error", err)
		if l.opts.OnError != nil {
			l.opts.OnError(fmt.Errorf("detect frame %d: %w", frame.Seq, err))
		}
		return err
	}

	zoned := Classify(dets, frame.Width)
	if l.opts.Renderer != nil {
		Draw(l.opts.Renderer, frame, zoned, l.opts.Palette)
	}

	if alert, ok := Primary(zoned); ok {
		l.count(func(s *Stats) {
			s.Iterations++
			s.Detections += uint64(len(zoned))
			s.Alerts++
		})
		if l.opts.OnAlert != nil {
			l.opts.OnAlert(alert)
		}
		return nil
	}

	l.count(func(s *Stats) {
		s.Iterations++
		s.Clears++
	})
	if l.opts.OnClear != nil {
		l.opts.OnClear()
	}
	return nil
}

func (l *Loop) markCancelled() {
	l.emitMu.Lock()
	l.cancelled = true
	l.emitMu.Unlock()
}

func (l *Loop) isCancelled() bool {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()
	return l.cancelled
}

func (l *Loop) count(f func(*Stats)) {
	l.statsMu.Lock()
	f(&l.stats)
	l.statsMu.Unlock()
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}
