package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func noArgs() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

var modeProperty = map[string]interface{}{
	"type":        "string",
	"enum":        []string{"obstacle", "signboard"},
	"description": "obstacle speaks hazards found on every frame; signboard waits for nav_read_sign",
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Pure helpers
		{
			Name:        "nav_classify_zone",
			Description: "Classify a bounding box into the left, center or right third of the frame by its horizontal center. With a label, also returns the alert phrase that would be spoken.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"box_x": map[string]interface{}{
						"type":        "number",
						"description": "Left edge of the box in pixels",
					},
					"box_width": map[string]interface{}{
						"type":        "number",
						"description": "Box width in pixels",
					},
					"frame_width": map[string]interface{}{
						"type":        "number",
						"description": "Frame width in pixels, must be positive",
					},
					"label": map[string]interface{}{
						"type":        "string",
						"description": "Optional object label, e.g. \"chair\"",
					},
				},
				"required": []string{"box_x", "box_width", "frame_width"},
			},
		},
		{
			Name:        "nav_map_sign_text",
			Description: "Map text read off a sign to the spoken phrase and status line. Exit, stair and platform keywords produce fixed safety alerts; other text is read back truncated.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"text": map[string]interface{}{
						"type":        "string",
						"description": "Raw recognized text",
					},
				},
				"required": []string{"text"},
			},
		},

		// Session lifecycle
		{
			Name:        "nav_session_start",
			Description: "Open the camera and start a capture session. Indoor uses the front camera, outdoor the rear one. Fails if a session is already running.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"mode": modeProperty,
					"environment": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"indoor", "outdoor"},
						"description": "Selects the camera. Default indoor",
					},
				},
			},
		},
		{
			Name:        "nav_session_stop",
			Description: "Stop the running session: cancel speech, stop the detection loop and release the camera.",
			InputSchema: noArgs(),
		},
		{
			Name:        "nav_session_status",
			Description: "Report session state, mode, status line, last alert and loop counters.",
			InputSchema: noArgs(),
		},
		{
			Name:        "nav_set_mode",
			Description: "Switch between obstacle and signboard mode. While a session runs, the loop restarts in the new mode on the same camera.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"mode": modeProperty,
				},
				"required": []string{"mode"},
			},
		},

		// Recognition and detection
		{
			Name:        "nav_read_sign",
			Description: "Read the sign in the current camera frame (signboard mode) and speak the result. With a path, reads that image file instead; it is spoken only if a signboard session is running.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Optional absolute path to an image file",
					},
				},
			},
		},
		{
			Name:        "nav_detect_image",
			Description: "Run the object detector once on an image file. Returns zoned detections, the alert that would be spoken and an overlay PNG. Nothing is spoken.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "nav_overlay_snapshot",
			Description: "Return the most recently rendered camera frame with detection boxes and labels as a base64-encoded PNG.",
			InputSchema: noArgs(),
		},
		{
			Name:        "nav_ocr_info",
			Description: "Report the OCR engine version, language and preprocessing settings.",
			InputSchema: noArgs(),
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
