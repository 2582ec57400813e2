package ocr

import (
	"image"
	"math"
	"sort"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

const (
	// regionMaxWidth is the working width for region search. Larger frames
	// are downscaled first and the result is mapped back.
	regionMaxWidth = 640

	// edgeLevel is the Sobel magnitude counted as an edge pixel.
	edgeLevel = 96

	minEdgeDensity = 0.05
	maxEdgeDensity = 0.4

	// regionMinConfidence is the lowest window score kept as a candidate.
	regionMinConfidence = 0.3

	// regionPadding grows the chosen region on each side, as a fraction of
	// its size, so glyphs on the boundary are not cut.
	regionPadding = 0.08
)

// Window sizes as fractions of the working image, from small to large text.
var regionWindows = []struct{ fw, fh float64 }{
	{1.0 / 5, 1.0 / 12},
	{1.0 / 4, 1.0 / 10},
	{1.0 / 3, 1.0 / 8},
	{1.0 / 2, 1.0 / 6},
}

type candidate struct {
	rect       image.Rectangle
	confidence float64
}

// FindSignRegion locates the most text-like area of img.
//
// It slides windows over a Sobel edge map and scores each one by edge
// density (text is neither blank nor solid texture) and by how horizontal
// its edge runs are. Overlapping candidates are merged and the best merged
// region is returned, padded and in img's coordinates. ok is false when no
// window looks like text.
func FindSignRegion(img image.Image) (region image.Rectangle, ok bool) {
	bounds := img.Bounds()
	if bounds.Dx() < 8 || bounds.Dy() < 8 {
		return image.Rectangle{}, false
	}

	work := img
	scale := 1.0
	if bounds.Dx() > regionMaxWidth {
		scale = float64(bounds.Dx()) / regionMaxWidth
		work = imaging.Resize(img, regionMaxWidth, 0, imaging.Box)
	} else if bounds.Min != (image.Point{}) {
		work = imaging.Clone(img)
	}

	edges := edgeMap(effect.Sobel(effect.Grayscale(work)))
	height := len(edges)
	width := len(edges[0])
	sums := integral(edges)

	var candidates []candidate
	for _, ws := range regionWindows {
		w := int(float64(width) * ws.fw)
		h := int(float64(height) * ws.fh)
		if w < 8 || h < 8 {
			continue
		}
		stepX, stepY := w/2, h/2

		for y := 0; y+h <= height; y += stepY {
			for x := 0; x+w <= width; x += stepX {
				count := sums.count(x, y, w, h)
				density := float64(count) / float64(w*h)
				if density < minEdgeDensity || density > maxEdgeDensity {
					continue
				}

				confidence := horizontalScore(edges, x, y, w, h) * (1.0 - math.Abs(density-0.2)/0.2)
				if confidence < regionMinConfidence {
					continue
				}
				candidates = append(candidates, candidate{
					rect:       image.Rect(x, y, x+w, y+h),
					confidence: confidence,
				})
			}
		}
	}
	if len(candidates) == 0 {
		return image.Rectangle{}, false
	}

	merged := mergeCandidates(candidates)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].confidence != merged[j].confidence {
			return merged[i].confidence > merged[j].confidence
		}
		return area(merged[i].rect) > area(merged[j].rect)
	})

	best := pad(merged[0].rect, regionPadding).Intersect(image.Rect(0, 0, width, height))
	region = image.Rect(
		int(float64(best.Min.X)*scale),
		int(float64(best.Min.Y)*scale),
		int(math.Ceil(float64(best.Max.X)*scale)),
		int(math.Ceil(float64(best.Max.Y)*scale)),
	).Add(bounds.Min).Intersect(bounds)

	return region, !region.Empty()
}

// edgeMap thresholds a Sobel magnitude image into a row-major edge grid.
// The input is gray, so only the red channel is read.
func edgeMap(sobel *image.RGBA) [][]bool {
	b := sobel.Bounds()
	edges := make([][]bool, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := make([]bool, b.Dx())
		off := y * sobel.Stride
		for x := 0; x < b.Dx(); x++ {
			row[x] = sobel.Pix[off+x*4] >= edgeLevel
		}
		edges[y] = row
	}
	return edges
}

// summedArea is a summed-area table over an edge grid.
type summedArea [][]int

func integral(edges [][]bool) summedArea {
	h, w := len(edges), len(edges[0])
	s := make(summedArea, h+1)
	for y := range s {
		s[y] = make([]int, w+1)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0
			if edges[y][x] {
				v = 1
			}
			s[y+1][x+1] = v + s[y][x+1] + s[y+1][x] - s[y][x]
		}
	}
	return s
}

func (s summedArea) count(x, y, w, h int) int {
	return s[y+h][x+w] - s[y][x+w] - s[y+h][x] + s[y][x]
}

// horizontalScore is the share of horizontal edge runs among all runs in
// the window. Lines of text produce many short runs along each row.
func horizontalScore(edges [][]bool, x, y, w, h int) float64 {
	horizontal, vertical := 0, 0

	for row := y; row < y+h; row++ {
		inRun := false
		for col := x; col < x+w; col++ {
			if edges[row][col] {
				if !inRun {
					horizontal++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	for col := x; col < x+w; col++ {
		inRun := false
		for row := y; row < y+h; row++ {
			if edges[row][col] {
				if !inRun {
					vertical++
					inRun = true
				}
			} else {
				inRun = false
			}
		}
	}

	if horizontal+vertical == 0 {
		return 0
	}
	return float64(horizontal) / float64(horizontal+vertical)
}

// mergeCandidates folds each candidate into the first merged region it
// overlaps, keeping the higher confidence.
func mergeCandidates(candidates []candidate) []candidate {
	merged := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		joined := false
		for i := range merged {
			if c.rect.Overlaps(merged[i].rect) {
				merged[i].rect = merged[i].rect.Union(c.rect)
				merged[i].confidence = math.Max(merged[i].confidence, c.confidence)
				joined = true
				break
			}
		}
		if !joined {
			merged = append(merged, c)
		}
	}
	return merged
}

func pad(r image.Rectangle, frac float64) image.Rectangle {
	dx := int(float64(r.Dx()) * frac)
	dy := int(float64(r.Dy()) * frac)
	return image.Rect(r.Min.X-dx, r.Min.Y-dy, r.Max.X+dx, r.Max.Y+dy)
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
