package server

import "github.com/ironsheep/layersmith/internal/layers"

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name: "layers_process_batch",
			Description: "Split one or more images into colour layers. Each image is segmented, " +
				"upscaled, reduced to flat colour layers and marked with registration crosses. " +
				"Returns per-image layer lists, per-image failures and the path of the zip archive.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"minItems":    1,
						"description": "Absolute paths to the image files",
					},
					"cluster_count": map[string]interface{}{
						"type":        "integer",
						"minimum":     layers.AutoCount,
						"maximum":     layers.MaxCount,
						"default":     layers.AutoCount,
						"description": "Number of colour layers per region (1-10). 0 picks the count automatically",
					},
				},
				"required": []string{"paths"},
			},
		},
		{
			Name:        "layers_select_count",
			Description: "Suggest the number of colour layers for an image using the elbow of the clustering inertia curve.",
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
			Name:        "layers_get_archive",
			Description: "Look up the zip archive of a finished batch by its batch id.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"batch_id": map[string]interface{}{
						"type":        "string",
						"description": "Batch id returned by layers_process_batch",
					},
				},
				"required": []string{"batch_id"},
			},
		},
	}
}
