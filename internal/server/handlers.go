package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ironsheep/nav-assist-mcp/internal/imaging"
	"github.com/ironsheep/nav-assist-mcp/internal/ocr"
	"github.com/ironsheep/nav-assist-mcp/internal/session"
	"github.com/ironsheep/nav-assist-mcp/internal/signs"
	"github.com/ironsheep/nav-assist-mcp/internal/zone"
)

var (
	errNoSession = errors.New("no capture session configured")
	errNoOverlay = errors.New("no overlay has been rendered yet")
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "nav_session_start").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		if s.report != nil && !isUserError(err) {
			s.report(fmt.Errorf("%s: %w", params.Name, err))
		}
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// isUserError reports errors caused by the request rather than the system.
// They are not sent to error tracking.
func isUserError(err error) bool {
	var argErr *argumentError
	return errors.As(err, &argErr) ||
		errors.Is(err, session.ErrInvalidState) ||
		errors.Is(err, session.ErrBusy) ||
		errors.Is(err, session.ErrWrongMode) ||
		errors.Is(err, session.ErrNoFrame) ||
		errors.Is(err, errNoOverlay)
}

// argumentError marks malformed or missing tool arguments.
type argumentError struct {
	msg string
}

func (e *argumentError) Error() string { return e.msg }

func badArgs(format string, args ...interface{}) error {
	return &argumentError{msg: fmt.Sprintf(format, args...)}
}

// decodeArgs unmarshals tool arguments. Missing arguments decode as an
// empty object.
func decodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return badArgs("invalid arguments: %v", err)
	}
	return nil
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Pure helpers
	case "nav_classify_zone":
		return s.handleClassifyZone(args)
	case "nav_map_sign_text":
		return s.handleMapSignText(args)

	// Session lifecycle
	case "nav_session_start":
		return s.handleSessionStart(ctx, args)
	case "nav_session_stop":
		return s.handleSessionStop()
	case "nav_session_status":
		return s.handleSessionStatus()
	case "nav_set_mode":
		return s.handleSetMode(args)

	// Recognition and detection
	case "nav_read_sign":
		return s.handleReadSign(ctx, args)
	case "nav_detect_image":
		return s.handleDetectImage(ctx, args)
	case "nav_overlay_snapshot":
		return s.handleOverlaySnapshot()
	case "nav_ocr_info":
		return s.handleOCRInfo()

	default:
		return nil, badArgs("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// === Pure helpers ===

type classifyZoneArgs struct {
	BoxX       float64 `json:"box_x"`
	BoxWidth   float64 `json:"box_width"`
	FrameWidth float64 `json:"frame_width"`
	Label      string  `json:"label"`
}

type classifyZoneResult struct {
	Zone    zone.Zone `json:"zone"`
	Center  float64   `json:"center"`
	Message string    `json:"message,omitempty"`
}

func (s *Server) handleClassifyZone(args json.RawMessage) (interface{}, error) {
	var a classifyZoneArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.FrameWidth <= 0 {
		return nil, badArgs("frame_width must be positive")
	}
	z := zone.Classify(a.BoxX, a.BoxWidth, a.FrameWidth)
	res := classifyZoneResult{Zone: z, Center: a.BoxX + a.BoxWidth/2}
	if a.Label != "" {
		res.Message = zone.Message(z, a.Label)
	}
	return res, nil
}

type mapSignTextArgs struct {
	Text string `json:"text"`
}

type mapSignTextResult struct {
	Display   string `json:"display"`
	Spoken    string `json:"spoken"`
	Status    string `json:"status,omitempty"`
	HasStatus bool   `json:"has_status"`
}

func (s *Server) handleMapSignText(args json.RawMessage) (interface{}, error) {
	var a mapSignTextArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	r := signs.Map(a.Text)
	return mapSignTextResult{
		Display:   signs.Display(a.Text),
		Spoken:    r.Spoken,
		Status:    r.Status,
		HasStatus: r.HasStatus,
	}, nil
}

// === Session lifecycle ===

type sessionStartArgs struct {
	Mode        string `json:"mode"`
	Environment string `json:"environment"`
}

func (s *Server) handleSessionStart(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	a := sessionStartArgs{Mode: string(session.ModeObstacle), Environment: string(session.Indoor)}
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	mode, err := session.ParseMode(a.Mode)
	if err != nil {
		return nil, badArgs("%v", err)
	}
	env, err := session.ParseEnvironment(a.Environment)
	if err != nil {
		return nil, badArgs("%v", err)
	}
	if err := s.session.Start(ctx, mode, env); err != nil {
		return nil, err
	}
	return s.session.Snapshot(), nil
}

func (s *Server) handleSessionStop() (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	if err := s.session.Stop(); err != nil {
		return nil, err
	}
	return s.session.Snapshot(), nil
}

func (s *Server) handleSessionStatus() (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	return s.session.Snapshot(), nil
}

type setModeArgs struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(args json.RawMessage) (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var a setModeArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	mode, err := session.ParseMode(a.Mode)
	if err != nil {
		return nil, badArgs("%v", err)
	}
	if err := s.session.SetMode(mode); err != nil {
		return nil, err
	}
	return s.session.Snapshot(), nil
}

// === Recognition and detection ===

type imagePathArgs struct {
	Path string `json:"path"`
}

// handleReadSign reads the current camera frame, or the image at path when
// one is given.
func (s *Server) handleReadSign(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var a imagePathArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return s.session.ReadSign(ctx)
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, badArgs("%v", err)
	}
	return s.session.ReadImage(ctx, img)
}

func (s *Server) handleDetectImage(ctx context.Context, args json.RawMessage) (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var a imagePathArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Path == "" {
		return nil, badArgs("path is required")
	}
	img, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, badArgs("%v", err)
	}
	return s.session.DetectImage(ctx, img)
}

func (s *Server) handleOverlaySnapshot() (interface{}, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	img := s.session.Overlay()
	if img == nil {
		return nil, errNoOverlay
	}
	return imaging.EncodeOverlay(img)
}

func (s *Server) handleOCRInfo() (interface{}, error) {
	if s.ocr == nil {
		return ocr.Info{Backend: "none", Error: "text recognition is not configured"}, nil
	}
	return s.ocr.Info(), nil
}
