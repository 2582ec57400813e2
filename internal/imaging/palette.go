package imaging

import (
	"fmt"
	"image/color"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
	"github.com/ironsheep/nav-assist-mcp/internal/zone"
)

// Overlay colors. Center hazards are drawn in a saturated red, side hazards
// in amber, matching the status-bar warning tones.
var (
	CenterHazard = colorful.Hsl(0, 0.72, 0.51)
	SideHazard   = colorful.Hsl(38, 0.92, 0.50)
	LabelText    = colorful.Color{R: 1, G: 1, B: 1}
)

// ZoneColor returns the overlay color for a zone. It satisfies
// detect.Palette.
func ZoneColor(z zone.Zone) color.Color {
	if z.IsCenter() {
		return toRGBA(CenterHazard)
	}
	return toRGBA(SideHazard)
}

// ParseHexColor parses "#RRGGBB" or "#RRGGBBAA".
func ParseHexColor(hex string) (color.RGBA, error) {
	if len(hex) == 0 {
		return color.RGBA{}, fmt.Errorf("empty color string")
	}
	if hex[0] != '#' {
		hex = "#" + hex
	}

	switch len(hex) {
	case 7:
		c, err := colorful.Hex(hex)
		if err != nil {
			return color.RGBA{}, err
		}
		return toRGBA(c), nil
	case 9:
		c, err := colorful.Hex(hex[:7])
		if err != nil {
			return color.RGBA{}, err
		}
		var a uint8
		if _, err := fmt.Sscanf(hex[7:], "%02x", &a); err != nil {
			return color.RGBA{}, fmt.Errorf("invalid alpha %q: %w", hex[7:], err)
		}
		rgba := toRGBA(c)
		rgba.A = a
		return rgba, nil
	default:
		return color.RGBA{}, fmt.Errorf("invalid hex color length")
	}
}

// NewPalette returns a detect.Palette using the given "#RRGGBB" colors for
// center and side zones. An empty string keeps that zone's default.
func NewPalette(centerHex, sideHex string) (detect.Palette, error) {
	center, side := toRGBA(CenterHazard), toRGBA(SideHazard)
	var err error
	if centerHex != "" {
		if center, err = ParseHexColor(centerHex); err != nil {
			return nil, fmt.Errorf("center color: %w", err)
		}
	}
	if sideHex != "" {
		if side, err = ParseHexColor(sideHex); err != nil {
			return nil, fmt.Errorf("side color: %w", err)
		}
	}
	if center == side {
		return nil, fmt.Errorf("center and side colors must differ")
	}
	return func(z zone.Zone) color.Color {
		if z.IsCenter() {
			return center
		}
		return side
	}, nil
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
