package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the image file",
	}
}

func idProperty(what string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "ID of the " + what,
	}
}

func idSchema(what string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": idProperty(what),
		},
		"required": []string{"id"},
	}
}

func emptySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Basic Image Information
		{
			Name:        "image_load",
			Description: "Load an image file and return its dimensions, format and channel count.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_dimensions",
			Description: "Get the width and height of an image file.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
				},
				"required": []string{"path"},
			},
		},

		// Pipeline Stages
		{
			Name:        "particles_contrast",
			Description: "Run contrast normalization (grayscale, CLAHE, Gaussian blur) and return the normalized image as base64 PNG with an intensity histogram summary. Use it to check that particles will separate from the background at the configured threshold.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "particles_contours",
			Description: "Extract particle outlines and return the count, rejection statistics and an overlay image with the outlines drawn in red.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
					"min_area": map[string]interface{}{
						"type":        "number",
						"description": "Smallest contour area in square pixels. Default from configuration (100)",
					},
					"exclude_boundary": map[string]interface{}{
						"type":        "boolean",
						"description": "Drop particles touching the image frame. Default true",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "particles_analyze",
			Description: "Measure every particle in a batch of images. Particles are numbered from 1 across the batch in input order. Values are converted to physical units with a saved calibration or an inline coefficient; otherwise they stay in pixels. Optionally saves the result as a research.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Absolute paths of the images, in processing order",
					},
					"calibration_id": idProperty("saved calibration to apply"),
					"coefficient": map[string]interface{}{
						"type":        "number",
						"description": "Pixels per division, used when no calibration_id is given",
					},
					"division_price": map[string]interface{}{
						"type":        "number",
						"description": "Physical units per division. Default from configuration",
					},
					"min_area": map[string]interface{}{
						"type":        "number",
						"description": "Smallest contour area in square pixels",
					},
					"exclude_boundary": map[string]interface{}{
						"type":        "boolean",
						"description": "Drop particles touching the image frame",
					},
					"save_research": map[string]interface{}{
						"type":        "object",
						"description": "Save the result as a research with this metadata",
						"properties": map[string]interface{}{
							"description":  map[string]interface{}{"type": "string"},
							"performed_by": map[string]interface{}{"type": "string"},
							"device":       map[string]interface{}{"type": "string"},
						},
						"required": []string{"description"},
					},
				},
				"required": []string{"paths"},
			},
		},
		{
			Name:        "particles_distribution",
			Description: "Return the sorted value distribution of one metric over a saved research, grouped into at most max_bars bars.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"research_id": idProperty("research"),
					"metric": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"perimeter", "area", "length", "width", "dek"},
						"description": "Measurement to distribute",
					},
					"max_bars": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of bars. Default 100",
						"default":     100,
					},
				},
				"required": []string{"research_id", "metric"},
			},
		},

		// Calibration
		{
			Name:        "calibration_execute",
			Description: "Detect the vertical strips of a reference scale image and compute the calibration coefficient (mean strip spacing in pixels per division). A coefficient of 0 means fewer than two strips were found.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty(),
					"division_price": map[string]interface{}{
						"type":        "number",
						"description": "Physical units per division. Default from configuration",
					},
					"annotate": map[string]interface{}{
						"type":        "boolean",
						"description": "Return an image with the detected strips and spacing marked. Default false",
					},
					"save_as": map[string]interface{}{
						"type":        "string",
						"description": "Save a successful result as an AUTOMATIC calibration with this name",
					},
					"microscope": map[string]interface{}{
						"type":        "string",
						"description": "Microscope recorded with the saved calibration",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "calibration_save",
			Description: "Create a calibration, or update one when id is given.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":   idProperty("calibration to update"),
					"name": map[string]interface{}{"type": "string"},
					"microscope": map[string]interface{}{
						"type": "string",
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"DEFAULT", "MANUAL", "AUTOMATIC"},
						"description": "DEFAULT reports pixels; MANUAL and AUTOMATIC apply the coefficient",
					},
					"coefficient": map[string]interface{}{
						"type":        "number",
						"description": "Pixels per division",
					},
					"division_price": map[string]interface{}{
						"type":        "number",
						"description": "Physical units per division",
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        "calibration_list",
			Description: "List saved calibrations, newest first.",
			InputSchema: emptySchema(),
		},
		{
			Name:        "calibration_get",
			Description: "Get a saved calibration.",
			InputSchema: idSchema("calibration"),
		},
		{
			Name:        "calibration_delete",
			Description: "Delete a saved calibration.",
			InputSchema: idSchema("calibration"),
		},

		// Researches
		{
			Name:        "research_list",
			Description: "List saved researches with their averages, newest first. Per-particle rows are omitted.",
			InputSchema: emptySchema(),
		},
		{
			Name:        "research_get",
			Description: "Get a saved research including every particle measurement.",
			InputSchema: idSchema("research"),
		},
		{
			Name:        "research_delete",
			Description: "Delete a saved research.",
			InputSchema: idSchema("research"),
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
