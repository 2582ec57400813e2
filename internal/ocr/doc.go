// Package ocr reads sign text from still frames using Tesseract.
//
// Tesseract is reached through gosseract/v2, which links against the
// system libtesseract:
//   - Ubuntu/Debian: apt-get install libtesseract-dev tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Camera frames are poor OCR input: signs are small, off-center and low in
// contrast. Before recognition a frame can be cropped to the most text-like
// region (FindSignRegion) and normalized (Preprocess). Both steps are
// optional and configured on Tesseract.
//
// # Languages
//
// The default language is English ("eng"). Any installed Tesseract language
// code works, e.g. "deu" or "eng+fra". TessdataPrefix points Tesseract at a
// non-standard traineddata directory.
package ocr
