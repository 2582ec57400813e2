// Package server implements the MCP (Model Context Protocol) server that
// drives the navigation assistant.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Pure helpers:
//   - nav_classify_zone: Left/center/right zone and alert phrase for a box
//   - nav_map_sign_text: Spoken phrase and status line for sign text
//
// Session lifecycle:
//   - nav_session_start: Open a camera and start obstacle or signboard mode
//   - nav_session_stop: Silence speech, stop the loop, release the camera
//   - nav_session_status: State, status line, last alert, counters
//   - nav_set_mode: Switch modes, restarting the loop if running
//
// Recognition and detection:
//   - nav_read_sign: OCR the current frame, or an image file
//   - nav_detect_image: One-shot detection with an overlay PNG
//   - nav_overlay_snapshot: Latest rendered overlay
//   - nav_ocr_info: OCR engine details
//
// Image files passed by path are cached for the lifetime of the process.
//
// # Error Handling
//
// Tool failures are returned as JSON-RPC errors with code -32000 and the Go
// error string as data. Failures that are not caused by the request itself
// (detector, OCR, camera) are also passed to the configured reporter.
package server
