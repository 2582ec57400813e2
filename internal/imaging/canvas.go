package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
)

// Label box geometry, in pixels.
const (
	labelHeight  = 18
	labelPadding = 6
)

// Canvas is an in-memory overlay surface implementing detect.Renderer.
//
// Draw commands compose a draft; Present publishes it, and Snapshot only
// ever returns the last presented overlay, never a half-drawn one. The
// detection loop draws once per processed frame while other goroutines
// read snapshots. Canvas is safe for concurrent use.
type Canvas struct {
	mu    sync.Mutex
	draft *image.NRGBA
	shown *image.NRGBA
}

// NewCanvas creates an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

var _ detect.Renderer = (*Canvas)(nil)

// Clear starts a new transparent draft of the given size.
func (c *Canvas) Clear(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width <= 0 || height <= 0 {
		c.draft = nil
		return
	}
	c.draft = imaging.New(width, height, color.Transparent)
}

// Blit draws img at the origin of the draft. A nil image is ignored.
func (c *Canvas) Blit(img image.Image) {
	if img == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		c.draft = imaging.Clone(img)
		return
	}
	c.draft = imaging.Paste(c.draft, img, image.Point{})
}

// StrokeRect outlines box with the given line width. Lines are clipped to
// the draft.
func (c *Canvas) StrokeRect(box detect.Box, col color.Color, lineWidth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return
	}
	if lineWidth < 1 {
		lineWidth = 1
	}

	r := box.Rect()
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+lineWidth), // top
		image.Rect(r.Min.X, r.Max.Y-lineWidth, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+lineWidth, r.Max.Y), // left
		image.Rect(r.Max.X-lineWidth, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(c.draft, e.Intersect(c.draft.Bounds()), src, image.Point{}, draw.Over)
	}
}

// Label draws white text on a filled background sitting just above (x, y).
func (c *Canvas) Label(x, y int, text string, bg color.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return
	}

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil()

	top := y - labelHeight
	if top < 0 {
		top = y // no room above the box, draw inside it
	}
	bgRect := image.Rect(x, top, x+textWidth+labelPadding*2, top+labelHeight)
	draw.Draw(c.draft, bgRect.Intersect(c.draft.Bounds()), image.NewUniform(bg), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  c.draft,
		Src:  image.NewUniform(LabelText),
		Face: face,
		Dot:  fixed.P(x+labelPadding, top+labelHeight-5),
	}
	d.DrawString(text)
}

// Present publishes the draft as the current overlay. Without a draft it
// does nothing.
func (c *Canvas) Present() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft == nil {
		return
	}
	c.shown, c.draft = c.draft, nil
}

// Snapshot returns a copy of the last presented overlay, or nil when
// nothing has been presented.
func (c *Canvas) Snapshot() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown == nil {
		return nil
	}
	return imaging.Clone(c.shown)
}

// OverlayResult is an overlay encoded for JSON transport.
type OverlayResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// EncodeOverlay encodes img as a base64 PNG result.
func EncodeOverlay(img image.Image) (*OverlayResult, error) {
	data, err := PNGBase64(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &OverlayResult{
		Width:       b.Dx(),
		Height:      b.Dy(),
		ImageBase64: data,
		MimeType:    "image/png",
	}, nil
}
