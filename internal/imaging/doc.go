// Package imaging loads, encodes and draws on images for the navigation
// server.
//
// It covers three jobs:
//   - Loading still images from disk (ImageCache, Open) and turning
//     them into detection frames (NewFrame).
//   - Encoding frames for the detector (EncodeJPEG) and overlays for MCP
//     clients (EncodePNG, PNGBase64, EncodeOverlay).
//   - Rendering the overlay: Canvas implements detect.Renderer, and
//     ZoneColor picks a box color per zone.
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner,
// X increasing rightward and Y increasing downward. Rectangles include their
// top-left corner and exclude their bottom-right one.
//
// # Thread Safety
//
// ImageCache and Canvas are safe for concurrent use. Images handed out by
// the cache are shared and must not be modified.
//
// # Performance Considerations
//
// The image cache holds at most DefaultCacheSize decoded images and
// re-checks each file on every Load, so it is safe to point the tools at a
// file that a grabber keeps overwriting.
package imaging
