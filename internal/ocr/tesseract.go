package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// DefaultLanguage is used when Tesseract.Language is empty.
const DefaultLanguage = "eng"

// RecognizedText is the outcome of one recognition.
type RecognizedText struct {
	// Raw is the text exactly as Tesseract returned it.
	Raw string `json:"raw"`

	// Trimmed is Raw without leading and trailing whitespace.
	Trimmed string `json:"trimmed"`
}

// NewRecognizedText builds a RecognizedText from raw engine output.
func NewRecognizedText(raw string) RecognizedText {
	return RecognizedText{Raw: raw, Trimmed: strings.TrimSpace(raw)}
}

// Empty reports whether no visible text was recognized.
func (r RecognizedText) Empty() bool {
	return r.Trimmed == ""
}

// Tesseract recognizes text in images. The zero value is usable and reads
// English from the whole frame without preprocessing.
//
// Each call creates its own gosseract client, so a Tesseract may be shared
// between goroutines.
type Tesseract struct {
	// Language is a Tesseract language code, e.g. "eng" or "eng+deu".
	Language string

	// TessdataPrefix overrides the traineddata directory when set.
	TessdataPrefix string

	// Preprocess runs Preprocess on the image before recognition.
	Preprocess bool

	// CropToSign restricts recognition to FindSignRegion's result when a
	// region is found.
	CropToSign bool

	Logger *slog.Logger
}

// Recognize extracts the text in img.
//
// Recognition itself cannot be interrupted: ctx is checked before the
// engine starts, and Recognize returns only once the engine has finished.
// Callers that need a deadline wait on it themselves.
func (t *Tesseract) Recognize(ctx context.Context, img image.Image) (RecognizedText, error) {
	if err := ctx.Err(); err != nil {
		return RecognizedText{}, err
	}
	if img == nil || img.Bounds().Empty() {
		return RecognizedText{}, fmt.Errorf("recognize: empty image")
	}

	prepared := t.prepare(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, prepared, imaging.PNG); err != nil {
		return RecognizedText{}, fmt.Errorf("failed to encode image for OCR: %w", err)
	}

	text, err := t.run(buf.Bytes())
	if err != nil {
		return RecognizedText{}, err
	}
	result := NewRecognizedText(text)
	if result.Empty() {
		t.logger().Debug("no text recognized")
	} else {
		t.logger().Debug("recognized text", "chars", len(result.Trimmed))
	}
	return result, nil
}

func (t *Tesseract) prepare(img image.Image) image.Image {
	if t.CropToSign {
		if region, ok := FindSignRegion(img); ok {
			t.logger().Debug("cropping to sign region", "region", region.String())
			img = imaging.Crop(img, region)
		}
	}
	if t.Preprocess {
		img = Preprocess(img)
	}
	return img
}

func (t *Tesseract) run(png []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if t.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.TessdataPrefix); err != nil {
			return "", fmt.Errorf("failed to set tessdata path: %w", err)
		}
	}
	if err := client.SetLanguage(t.language()); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return text, nil
}

func (t *Tesseract) language() string {
	if t.Language == "" {
		return DefaultLanguage
	}
	return t.Language
}

func (t *Tesseract) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default().With("component", "ocr")
	}
	return t.Logger
}

// Info describes the OCR subsystem.
type Info struct {
	Available      bool   `json:"available"`
	Version        string `json:"version,omitempty"`
	Backend        string `json:"backend"`
	Language       string `json:"language"`
	TessdataPrefix string `json:"tessdata_prefix,omitempty"`
	Preprocess     bool   `json:"preprocess"`
	CropToSign     bool   `json:"crop_to_sign"`
	Error          string `json:"error,omitempty"`
}

// Info reports the linked Tesseract version and the recognizer settings.
func (t *Tesseract) Info() Info {
	info := Info{
		Backend:        "gosseract",
		Language:       t.language(),
		TessdataPrefix: t.TessdataPrefix,
		Preprocess:     t.Preprocess,
		CropToSign:     t.CropToSign,
	}

	client := gosseract.NewClient()
	defer client.Close()

	info.Version = client.Version()
	if t.TessdataPrefix != "" {
		if err := client.SetTessdataPrefix(t.TessdataPrefix); err != nil {
			info.Error = err.Error()
			return info
		}
	}
	if err := client.SetLanguage(info.Language); err != nil {
		info.Error = err.Error()
		return info
	}
	info.Available = info.Version != ""
	return info
}
