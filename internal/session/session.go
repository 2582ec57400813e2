// Package session owns a capture session: the camera, the detection loop,
// the speech debouncer and on-demand sign reading.
//
// A Session moves through idle → starting → active → stopping → idle.
// Calls that do not fit the current state fail with ErrInvalidState rather
// than queueing. Every Start gets a fresh speech debouncer, so a message
// suppressed at the end of one session is spoken at the start of the next.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/emitter"
	"github.com/ironsheep/nav-assist-mcp/internal/frames"
	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
	"github.com/ironsheep/nav-assist-mcp/internal/ocr"
	"github.com/ironsheep/nav-assist-mcp/internal/signs"
	"github.com/ironsheep/nav-assist-mcp/internal/speech"
)

// DefaultRecognizeTimeout bounds one sign recognition.
const DefaultRecognizeTimeout = 10 * time.Second

// Deps are the collaborators of a Session. Camera and Speaker are required.
type Deps struct {
	Camera frames.Camera

	// Detector is required for obstacle mode only.
	Detector detect.Detector

	// Recognizer is required for sign reading only.
	Recognizer TextRecognizer

	Speaker speech.Speaker

	// Sink, when set, receives alert, sign and state events.
	Sink EventSink

	// OnError, when set, receives detector, recognizer and camera failures.
	OnError func(error)

	Logger *slog.Logger
}

// Options tune a Session. Zero values select defaults.
type Options struct {
	Interval         time.Duration
	DetectTimeout    time.Duration
	ErrorBackoff     time.Duration
	DebounceWindow   time.Duration
	RecognizeTimeout time.Duration

	// Palette colors overlay boxes; nil means imaging.ZoneColor.
	Palette detect.Palette

	// Clock replaces time.Now in the debouncer.
	Clock func() time.Time
}

// run holds what the loop callbacks of one started session need. Callbacks
// never touch Session.mu, so Stop can cancel the loop while holding it.
//
// gate is held while a loop starts and is announced; callbacks wait on it,
// so no alert or clear is published ahead of the "Camera active" event.
type run struct {
	id        string
	mode      Mode
	env       Environment
	debouncer *speech.Debouncer
	gate      sync.Mutex
}

// Session is safe for concurrent use.
type Session struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	canvas *imaging.Canvas

	mu        sync.Mutex
	state     State
	mode      Mode
	env       Environment
	run       *run
	capture   frames.Capture
	handle    *detect.Handle
	startedAt time.Time

	statusMu  sync.Mutex
	status    Status
	lastAlert *detect.Alert

	reading atomic.Bool
}

// New creates an idle session in obstacle mode, indoors.
func New(deps Deps, opts Options) (*Session, error) {
	if deps.Camera == nil {
		return nil, fmt.Errorf("session: camera is required")
	}
	if deps.Speaker == nil {
		return nil, fmt.Errorf("session: speaker is required")
	}
	if opts.RecognizeTimeout <= 0 {
		opts.RecognizeTimeout = DefaultRecognizeTimeout
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = speech.DefaultWindow
	}
	if opts.Palette == nil {
		opts.Palette = imaging.ZoneColor
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "session"),
		canvas: imaging.NewCanvas(),
		mode:   ModeObstacle,
		env:    Indoor,
		status: Status{Kind: StatusOff, Text: TextCameraOff},
	}, nil
}

// Start opens the camera for env and starts the loop for mode.
//
// If the camera refuses, the status becomes "Camera access denied", the
// session returns to idle and the camera error is returned wrapped.
func (s *Session) Start(ctx context.Context, mode Mode, env Environment) error {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return err
	}
	if env, err = ParseEnvironment(string(env)); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", ErrInvalidState, state)
	}
	if mode == ModeObstacle && s.deps.Detector == nil {
		s.mu.Unlock()
		return detect.ErrNoDetector
	}
	s.state = StateStarting
	s.mu.Unlock()

	capture, err := s.deps.Camera.Open(ctx, env.Facing())

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateIdle
		if errors.Is(err, frames.ErrAccessDenied) || errors.Is(err, frames.ErrUnavailable) {
			s.setStatus(Status{Kind: StatusDenied, Text: TextDenied})
		}
		s.reportError(fmt.Errorf("open %s camera: %w", env.Facing(), err))
		return fmt.Errorf("open camera: %w", err)
	}

	r := &run{
		id:   uuid.NewString(),
		mode: mode,
		env:  env,
		debouncer: speech.NewDebouncer(s.deps.Speaker,
			speech.WithWindow(s.opts.DebounceWindow),
			speech.WithClock(s.opts.Clock),
			speech.WithLogger(s.logger),
		),
	}

	r.gate.Lock()
	handle, err := s.startLoop(ctx, r, capture)
	if err != nil {
		r.gate.Unlock()
		_ = capture.Close()
		s.state = StateIdle
		s.setStatus(Status{Kind: StatusOff, Text: TextCameraOff})
		return err
	}
	s.announce(r)
	r.gate.Unlock()

	s.run, s.capture, s.handle = r, capture, handle
	s.mode, s.env = mode, env
	s.startedAt = time.Now()
	s.state = StateActive

	s.logger.Info("session started", "session_id", r.id, "mode", mode, "environment", env)
	return nil
}

// startLoop starts the detection loop for r over capture. The loop outlives
// ctx's cancellation; it runs until Stop or SetMode.
func (s *Session) startLoop(ctx context.Context, r *run, capture frames.Capture) (*detect.Handle, error) {
	opts := detect.Options{
		Source:        capture,
		Renderer:      s.canvas,
		Palette:       s.opts.Palette,
		Interval:      s.opts.Interval,
		DetectTimeout: s.opts.DetectTimeout,
		ErrorBackoff:  s.opts.ErrorBackoff,
		Logger:        s.logger,
	}

	switch r.mode {
	case ModeObstacle:
		opts.Detector = s.deps.Detector
		opts.OnAlert = func(a detect.Alert) { s.onAlert(r, a) }
		opts.OnClear = func() { s.onClear(r) }
		opts.OnError = s.reportError
	case ModeSignboard:
		// Frames are drawn but nothing is detected or spoken.
		opts.Detector = noDetections{}
	default:
		return nil, fmt.Errorf("unknown mode %q", r.mode)
	}

	return detect.Start(context.WithoutCancel(ctx), opts)
}

// announce resets the status for a freshly started loop and publishes the
// "Camera active" state event. r.gate must be held.
func (s *Session) announce(r *run) {
	s.clearLastAlert()
	s.setStatus(Status{Kind: StatusActive, Text: TextCameraActive})
	s.publish(r, emitter.Event{Kind: emitter.KindState, Message: TextCameraActive})
}

func (s *Session) onAlert(r *run, a detect.Alert) {
	r.gate.Lock()
	defer r.gate.Unlock()

	spoken := r.debouncer.Speak(a.Message)

	s.statusMu.Lock()
	s.status = Status{Kind: StatusAlert, Text: a.Message}
	alert := a
	s.lastAlert = &alert
	s.statusMu.Unlock()

	if spoken {
		s.publish(r, emitter.Event{
			Kind:    emitter.KindAlert,
			Message: a.Message,
			Label:   a.Label,
			Zone:    a.Zone.String(),
		})
	}
}

func (s *Session) onClear(r *run) {
	r.gate.Lock()
	defer r.gate.Unlock()

	changed := s.setStatus(Status{Kind: StatusClear, Text: TextPathClear})
	if changed {
		s.publish(r, emitter.Event{Kind: emitter.KindClear, Message: TextPathClear})
	}
}

// Stop cancels the loop, silences speech, releases the camera and sets the
// status to "Camera off". No alert is spoken after Stop returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return fmt.Errorf("%w: cannot stop while %s", ErrInvalidState, s.state)
	}
	s.state = StateStopping

	r := s.run
	s.haltLoop()
	r.debouncer.Stop()
	if err := s.capture.Close(); err != nil {
		s.logger.Warn("failed to release camera", "error", err)
	}

	s.run, s.capture, s.handle = nil, nil, nil
	s.state = StateIdle

	s.setStatus(Status{Kind: StatusOff, Text: TextCameraOff})
	s.logger.Info("session stopped", "session_id", r.id)
	s.publish(r, emitter.Event{Kind: emitter.KindState, Message: TextCameraOff})
	return nil
}

// Close stops the session if it is active.
func (s *Session) Close() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrInvalidState) {
		return err
	}
	return nil
}

// haltLoop cancels the running loop and waits for its goroutine to exit,
// for at most one detector timeout. s.mu must be held.
func (s *Session) haltLoop() {
	s.handle.Cancel()

	wait := s.opts.DetectTimeout
	if wait <= 0 {
		wait = detect.DefaultDetectTimeout
	}
	select {
	case <-s.handle.Done():
	case <-time.After(wait):
		s.logger.Warn("detection loop still running after cancel", "waited", wait)
	}
}

// SetMode switches modes. While idle it only selects the mode for the next
// Start; while active the loop is restarted in the new mode on the same
// camera.
func (s *Session) SetMode(mode Mode) error {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		s.mode = mode
		return nil
	case StateActive:
	default:
		return fmt.Errorf("%w: cannot change mode while %s", ErrInvalidState, s.state)
	}

	if mode == s.mode {
		return nil
	}
	if mode == ModeObstacle && s.deps.Detector == nil {
		return detect.ErrNoDetector
	}

	s.haltLoop()
	s.run.debouncer.Stop()

	next := &run{id: s.run.id, mode: mode, env: s.env, debouncer: s.run.debouncer}
	next.gate.Lock()
	handle, err := s.startLoop(context.Background(), next, s.capture)
	if err != nil {
		next.gate.Unlock()
		if cerr := s.capture.Close(); cerr != nil {
			s.logger.Warn("failed to release camera", "error", cerr)
		}
		s.run, s.capture, s.handle = nil, nil, nil
		s.state = StateIdle
		s.setStatus(Status{Kind: StatusOff, Text: TextCameraOff})
		return fmt.Errorf("restart loop: %w", err)
	}
	s.clearLastAlert()
	s.setStatus(Status{Kind: StatusActive, Text: TextCameraActive})
	next.gate.Unlock()

	s.run, s.handle, s.mode = next, handle, mode
	s.logger.Info("mode changed", "session_id", next.id, "mode", mode)
	return nil
}

// SignReading is the outcome of reading a sign.
type SignReading struct {
	// Text is the trimmed recognized text, possibly empty.
	Text string `json:"text"`

	// Display is the result panel text: Text, "No text detected" or
	// "OCR failed".
	Display string `json:"display"`

	Spoken    string `json:"spoken,omitempty"`
	Status    string `json:"status,omitempty"`
	HasStatus bool   `json:"has_status"`

	// Said is false when the phrase was debounced or no session was
	// active to speak it.
	Said bool `json:"said"`
}

// ReadSign recognizes the current camera frame. It needs an active session
// in signboard mode, and only one reading runs at a time.
//
// On recognition failure the reading's Display is "OCR failed" and the
// error is returned; the session keeps running.
func (s *Session) ReadSign(ctx context.Context) (SignReading, error) {
	if s.deps.Recognizer == nil {
		return SignReading{}, ErrNoRecognizer
	}
	if !s.reading.CompareAndSwap(false, true) {
		return SignReading{}, ErrBusy
	}

	r, img, err := s.signFrame()
	if err != nil {
		s.reading.Store(false)
		return SignReading{}, err
	}
	return s.read(ctx, r, img)
}

// signFrame returns the run and current frame for ReadSign.
func (s *Session) signFrame() (*run, image.Image, error) {
	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: cannot read a sign while %s", ErrInvalidState, state)
	}
	if s.mode != ModeSignboard {
		s.mu.Unlock()
		return nil, nil, ErrWrongMode
	}
	r, capture := s.run, s.capture
	s.mu.Unlock()

	frame, ok := capture.Current()
	if !ok || frame == nil || frame.Image == nil {
		return nil, nil, ErrNoFrame
	}
	return r, frame.Image, nil
}

// ReadImage recognizes a still image, such as a photo of a sign. When a
// signboard session is active the phrase is spoken through it; otherwise
// the reading is only returned.
func (s *Session) ReadImage(ctx context.Context, img image.Image) (SignReading, error) {
	if s.deps.Recognizer == nil {
		return SignReading{}, ErrNoRecognizer
	}
	if !s.reading.CompareAndSwap(false, true) {
		return SignReading{}, ErrBusy
	}

	s.mu.Lock()
	var r *run
	if s.state == StateActive && s.mode == ModeSignboard {
		r = s.run
	}
	s.mu.Unlock()

	return s.read(ctx, r, img)
}

type recognition struct {
	text ocr.RecognizedText
	err  error
}

// read runs recognition and maps the text. r may be nil.
//
// read takes over the reading flag set by its caller. The flag is cleared
// when the recognizer returns, which may be after read itself has given up
// at RecognizeTimeout, so a stuck engine keeps further readings out.
func (s *Session) read(ctx context.Context, r *run, img image.Image) (SignReading, error) {
	rctx, cancel := context.WithTimeout(ctx, s.opts.RecognizeTimeout)

	done := make(chan recognition, 1)
	go func() {
		defer cancel()
		text, err := s.deps.Recognizer.Recognize(rctx, img)
		s.reading.Store(false)
		done <- recognition{text, err}
	}()

	var out recognition
	select {
	case out = <-done:
	case <-rctx.Done():
		out.err = rctx.Err()
	}
	if out.err != nil {
		err := fmt.Errorf("recognize sign: %w", out.err)
		s.reportError(err)
		return SignReading{Display: TextOCRFailed}, err
	}
	text := out.text

	mapped := signs.Map(text.Raw)
	reading := SignReading{
		Text:      text.Trimmed,
		Display:   signs.Display(text.Raw),
		Spoken:    mapped.Spoken,
		Status:    mapped.Status,
		HasStatus: mapped.HasStatus,
	}

	if r == nil {
		return reading, nil
	}

	reading.Said = r.debouncer.Speak(mapped.Spoken)
	if mapped.HasStatus {
		s.setStatus(Status{Kind: StatusAlert, Text: mapped.Status})
	}
	s.publish(r, emitter.Event{Kind: emitter.KindSign, Message: mapped.Spoken})
	return reading, nil
}

// DetectionReport is the result of running the detector on one image.
type DetectionReport struct {
	Width      int                    `json:"width"`
	Height     int                    `json:"height"`
	Detections []detect.Zoned         `json:"detections"`
	Alert      *detect.Alert          `json:"alert,omitempty"`
	Overlay    *imaging.OverlayResult `json:"overlay,omitempty"`
}

// DetectImage runs the detector once on img, independent of any running
// session. Nothing is spoken.
func (s *Session) DetectImage(ctx context.Context, img image.Image) (*DetectionReport, error) {
	if s.deps.Detector == nil {
		return nil, detect.ErrNoDetector
	}
	frame := imaging.NewFrame(img, 0)

	timeout := s.opts.DetectTimeout
	if timeout <= 0 {
		timeout = detect.DefaultDetectTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dets, err := s.deps.Detector.Detect(dctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	zoned := detect.Classify(dets, frame.Width)
	report := &DetectionReport{
		Width:      frame.Width,
		Height:     frame.Height,
		Detections: zoned,
	}
	if a, ok := detect.Primary(zoned); ok {
		report.Alert = &a
	}

	canvas := imaging.NewCanvas()
	detect.Draw(canvas, frame, zoned, s.opts.Palette)
	if report.Overlay, err = imaging.EncodeOverlay(canvas.Snapshot()); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return report, nil
}

// Snapshot describes a session at one point in time.
type Snapshot struct {
	SessionID   string        `json:"session_id,omitempty"`
	State       string        `json:"state"`
	Mode        Mode          `json:"mode"`
	Environment Environment   `json:"environment"`
	Status      Status        `json:"status"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	LastAlert   *detect.Alert `json:"last_alert,omitempty"`
	Loop        *detect.Stats `json:"loop,omitempty"`
	Frames      *frames.Stats `json:"frames,omitempty"`
	Reading     bool          `json:"reading"`
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:       s.state.String(),
		Mode:        s.mode,
		Environment: s.env,
		Reading:     s.reading.Load(),
	}
	if s.state == StateActive {
		snap.SessionID = s.run.id
		started := s.startedAt
		snap.StartedAt = &started
		stats := s.handle.Stats()
		snap.Loop = &stats
		if fs, ok := s.capture.(interface{ Stats() frames.Stats }); ok {
			st := fs.Stats()
			snap.Frames = &st
		}
	}
	s.mu.Unlock()

	s.statusMu.Lock()
	snap.Status = s.status
	if s.lastAlert != nil {
		a := *s.lastAlert
		snap.LastAlert = &a
	}
	s.statusMu.Unlock()
	return snap
}

// Status returns the status line.
func (s *Session) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Overlay returns the most recently rendered frame with its boxes and
// labels, or nil when nothing has been drawn.
func (s *Session) Overlay() image.Image {
	return s.canvas.Snapshot()
}

// setStatus replaces the status line and reports whether it changed.
func (s *Session) setStatus(st Status) bool {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.status == st {
		return false
	}
	s.status = st
	return true
}

func (s *Session) clearLastAlert() {
	s.statusMu.Lock()
	s.lastAlert = nil
	s.statusMu.Unlock()
}

func (s *Session) publish(r *run, ev emitter.Event) {
	if s.deps.Sink == nil {
		return
	}
	ev.SessionID = r.id
	ev.Mode = string(r.mode)
	ev.Environment = string(r.env)
	if err := s.deps.Sink.Publish(ev); err != nil {
		s.logger.Debug("event not published", "kind", ev.Kind, "error", err)
	}
}

func (s *Session) reportError(err error) {
	if s.deps.OnError != nil {
		s.deps.OnError(err)
	}
}

// noDetections is the detector used in signboard mode.
type noDetections struct{}

func (noDetections) Detect(context.Context, *detect.Frame) ([]detect.Detection, error) {
	return nil, nil
}
