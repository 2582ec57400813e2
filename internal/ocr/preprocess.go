package ocr

import (
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

const (
	// minOCRWidth is the width small crops are upscaled to. Tesseract does
	// poorly below roughly 20px glyph height.
	minOCRWidth = 1000

	// maxUpscale bounds upscaling so tiny crops do not turn into huge,
	// blurry images.
	maxUpscale = 3.0

	// contrastBoost is the bild adjust.Contrast change applied before
	// grayscale conversion.
	contrastBoost = 0.4
)

// Preprocess prepares a camera frame for Tesseract: narrow images are
// upscaled, contrast is raised and the result is converted to grayscale.
func Preprocess(img image.Image) image.Image {
	b := img.Bounds()
	if b.Empty() {
		return img
	}

	if w := b.Dx(); w < minOCRWidth {
		scale := float64(minOCRWidth) / float64(w)
		if scale > maxUpscale {
			scale = maxUpscale
		}
		img = imaging.Resize(img, int(float64(w)*scale), 0, imaging.Lanczos)
	}

	return effect.Grayscale(adjust.Contrast(img, contrastBoost))
}
