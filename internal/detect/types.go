// Package detect runs the per-frame hazard loop: pull the current camera
// frame, ask a Detector what is in it, draw every detection, and surface the
// first one as an alert.
//
// # Scheduling
//
// A Loop is a single goroutine paced by a refresh clock. Each tick runs at
// most one iteration and the detector is never called while a previous call
// is outstanding. A detector slower than the clock lowers the effective frame
// rate; ticks are dropped, never queued.
//
// # Cancellation
//
// Handle.Cancel is a barrier: once it returns, no Renderer, OnAlert or
// OnClear call will happen, even when a detector call was in flight. Late
// results are discarded.
package detect

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/ironsheep/nav-assist-mcp/internal/zone"
)

// Box is an axis-aligned bounding box in frame pixel coordinates.
type Box struct {
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// Rect converts the box to an integer image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.Width), int(b.Y+b.Height))
}

// Detection is one labelled object found in a frame. It lives for a single
// loop iteration.
type Detection struct {
	Label      string   `json:"label" msgpack:"label"`
	Box        Box      `json:"box" msgpack:"box"`
	Confidence *float64 `json:"confidence,omitempty" msgpack:"confidence,omitempty"`
}

// Alert is the phrase produced for a detection.
type Alert struct {
	Message string    `json:"message"`
	Zone    zone.Zone `json:"zone"`
	Label   string    `json:"label"`
}

// Zoned pairs a detection with the zone it falls in.
type Zoned struct {
	Detection
	Zone zone.Zone `json:"zone"`
}

// Alert builds the alert for this detection.
func (z Zoned) Alert() Alert {
	return Alert{Message: zone.Message(z.Zone, z.Label), Zone: z.Zone, Label: z.Label}
}

// Frame is a decoded camera frame.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}

// Detector finds objects in a frame. Calls are never overlapped by a Loop.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]Detection, error)
}

// FrameSource yields the most recent camera frame. ok is false when no frame
// is ready yet.
type FrameSource interface {
	Current() (frame *Frame, ok bool)
}

// Renderer receives overlay draw commands. Commands between Clear and
// Present compose one overlay; readers only ever see presented overlays.
type Renderer interface {
	Clear(width, height int)
	Blit(img image.Image)
	StrokeRect(box Box, c color.Color, lineWidth int)
	Label(x, y int, text string, bg color.Color)
	Present()
}

// Palette chooses overlay colors. Center-zone hazards must be visually
// distinct from side-zone ones.
type Palette func(z zone.Zone) color.Color

// Classify assigns zones to detections in detector order.
func Classify(dets []Detection, frameWidth int) []Zoned {
	out := make([]Zoned, len(dets))
	for i, d := range dets {
		out[i] = Zoned{
			Detection: d,
			Zone:      zone.Classify(d.Box.X, d.Box.Width, float64(frameWidth)),
		}
	}
	return out
}

// Primary returns the alert surfaced for a frame: the first detection in
// detector order. No re-ranking by size or confidence is applied.
func Primary(zoned []Zoned) (Alert, bool) {
	if len(zoned) == 0 {
		return Alert{}, false
	}
	return zoned[0].Alert(), true
}

// Draw renders a frame and its classified detections.
func Draw(r Renderer, frame *Frame, zoned []Zoned, palette Palette) {
	r.Clear(frame.Width, frame.Height)
	r.Blit(frame.Image)
	for _, z := range zoned {
		c := palette(z.Zone)
		r.StrokeRect(z.Box, c, 3)
		r.Label(int(z.Box.X), int(z.Box.Y), z.Label+" ("+z.Zone.String()+")", c)
	}
	r.Present()
}

// DefaultPalette marks center hazards red and side hazards amber.
func DefaultPalette(z zone.Zone) color.Color {
	if z.IsCenter() {
		return color.RGBA{R: 220, G: 38, B: 38, A: 255}
	}
	return color.RGBA{R: 245, G: 158, B: 11, A: 255}
}
