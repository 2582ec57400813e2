package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/ironsheep/nav-assist-mcp/internal/emitter"
	"github.com/ironsheep/nav-assist-mcp/internal/frames"
	"github.com/ironsheep/nav-assist-mcp/internal/ocr"
)

var (
	// ErrInvalidState is returned for lifecycle calls that do not apply to
	// the current state, such as starting a session twice.
	ErrInvalidState = errors.New("invalid session state")

	// ErrBusy is returned when a sign is already being read.
	ErrBusy = errors.New("sign reading already in progress")

	// ErrWrongMode is returned by ReadSign outside signboard mode.
	ErrWrongMode = errors.New("sign reading is only available in signboard mode")

	// ErrNoFrame is returned by ReadSign before the camera delivered a frame.
	ErrNoFrame = errors.New("no camera frame available")

	// ErrNoRecognizer is returned when sign reading is requested but no
	// TextRecognizer is configured.
	ErrNoRecognizer = errors.New("no text recognizer configured")
)

// Mode selects what an active session does with frames.
type Mode string

const (
	// ModeObstacle runs detection on every frame and speaks hazards.
	ModeObstacle Mode = "obstacle"
	// ModeSignboard only renders frames; signs are read on request.
	ModeSignboard Mode = "signboard"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeObstacle, ModeSignboard:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want obstacle or signboard)", s)
}

// Environment selects the camera.
type Environment string

const (
	Indoor  Environment = "indoor"
	Outdoor Environment = "outdoor"
)

// ParseEnvironment validates an environment name.
func ParseEnvironment(s string) (Environment, error) {
	switch e := Environment(strings.ToLower(strings.TrimSpace(s))); e {
	case Indoor, Outdoor:
		return e, nil
	}
	return "", fmt.Errorf("unknown environment %q (want indoor or outdoor)", s)
}

// Facing maps indoor use to the front camera and outdoor use to the rear.
func (e Environment) Facing() frames.Facing {
	if e == Outdoor {
		return frames.FacingEnvironment
	}
	return frames.FacingUser
}

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StatusKind classifies the status line.
type StatusKind string

const (
	StatusOff    StatusKind = "off"
	StatusActive StatusKind = "active"
	StatusDenied StatusKind = "denied"
	StatusClear  StatusKind = "clear"
	StatusAlert  StatusKind = "alert"
)

// Fixed status line texts.
const (
	TextCameraOff    = "Camera off"
	TextCameraActive = "Camera active"
	TextDenied       = "Camera access denied"
	TextPathClear    = "Path clear"

	// TextOCRFailed is shown in place of sign text when recognition fails.
	TextOCRFailed = "OCR failed"
)

// Status is the user-facing status line.
type Status struct {
	Kind StatusKind `json:"kind"`
	Text string     `json:"text"`
}

// TextRecognizer reads text from a still image.
type TextRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (ocr.RecognizedText, error)
}

// EventSink receives session events for fan-out to other devices.
type EventSink interface {
	Publish(ev emitter.Event) error
}
