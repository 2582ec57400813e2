// Package zone maps detection bounding boxes onto horizontal regions of the
// frame and builds the phrase spoken for a hazard in that region.
//
// The frame is split into three equal vertical strips. A box belongs to the
// strip that contains its horizontal center:
//
//	0            W/3           2W/3            W
//	|    left     |   center    |    right     |
//
// A center lying exactly on a boundary belongs to the center strip.
package zone

import "fmt"

// Zone is one of the three horizontal regions of a frame.
type Zone string

const (
	Left   Zone = "left"
	Center Zone = "center"
	Right  Zone = "right"
)

// String returns the lowercase zone name.
func (z Zone) String() string {
	return string(z)
}

// IsCenter reports whether z is the straight-ahead zone.
func (z Zone) IsCenter() bool {
	return z == Center
}

// Parse converts a zone name into a Zone.
func Parse(s string) (Zone, error) {
	switch Zone(s) {
	case Left, Center, Right:
		return Zone(s), nil
	}
	return "", fmt.Errorf("unknown zone %q (expected left, center or right)", s)
}

// Classify returns the zone containing the horizontal center of a box.
//
// Parameters:
//   - boxX: left edge of the box in frame pixels.
//   - boxWidth: box width in pixels.
//   - frameWidth: frame width in pixels. Must be > 0; callers guard this.
//
// Centers strictly left of frameWidth/3 are Left, strictly right of
// 2*frameWidth/3 are Right, everything else (boundaries included) is Center.
func Classify(boxX, boxWidth, frameWidth float64) Zone {
	center := boxX + boxWidth/2
	third := frameWidth / 3

	if center < third {
		return Left
	}
	if center > third*2 {
		return Right
	}
	return Center
}

// Message builds the spoken alert for a hazard labelled label in zone z.
//
//	Message(Center, "chair") == "chair ahead"
//	Message(Left, "chair")   == "chair on your left"
func Message(z Zone, label string) string {
	if z == Center {
		return label + " ahead"
	}
	return fmt.Sprintf("%s on your %s", label, z)
}
