package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "layers_process_batch").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`

	// Meta carries the optional progress token of the caller.
	Meta *struct {
		ProgressToken interface{} `json:"progressToken,omitempty"`
	} `json:"_meta,omitempty"`
}

func (p *ToolCallParams) progressToken() interface{} {
	if p.Meta == nil {
		return nil
	}
	return p.Meta.ProgressToken
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

	result, err := s.executeTool(ctx, &params)
	if err != nil {
		s.logger.Warn("tool failed", zap.String("tool", params.Name), zap.Error(err))
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

func (s *Server) executeTool(ctx context.Context, params *ToolCallParams) (interface{}, error) {
	switch params.Name {
	case "layers_process_batch":
		return s.handleProcessBatch(ctx, params.Arguments, params.progressToken())
	case "layers_select_count":
		return s.handleSelectCount(ctx, params.Arguments)
	case "layers_get_archive":
		return s.handleGetArchive(params.Arguments)
	default:
		return nil, fmt.Errorf("unknown tool: %s", params.Name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	e := &MCPError{Code: code, Message: message}
	if data != "" {
		e.Data = data
	}
	return &MCPResponse{JSONRPC: "2.0", ID: id, Error: e}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure it returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

type processBatchArgs struct {
	Paths        []string `json:"paths"`
	ClusterCount int      `json:"cluster_count"`
}

// BatchResult is the text payload of layers_process_batch.
type BatchResult struct {
	BatchID     string               `json:"batch_id"`
	Status      pipeline.Status      `json:"status"`
	Successes   []archive.ImageEntry `json:"successes"`
	Failures    []pipeline.Failure   `json:"failures"`
	ArchivePath string               `json:"archive_path,omitempty"`
}

// stagesPerImage is the number of progress events of an image that completes.
const stagesPerImage = int(pipeline.StageDone - pipeline.StagePending)

func (s *Server) handleProcessBatch(ctx context.Context, args json.RawMessage, token interface{}) (interface{}, error) {
	var a processBatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, pipeline.ErrNoInputs
	}
	if err := layers.ValidateCount(a.ClusterCount); err != nil {
		return nil, err
	}

	inputs := make([]pipeline.Input, 0, len(a.Paths))
	for _, p := range a.Paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		inputs = append(inputs, pipeline.Input{Filename: filepath.Base(p), Data: data})
	}

	opts := pipeline.Options{ClusterCount: a.ClusterCount}
	if token != nil {
		opts.Progress = s.progressNotifier(token, len(inputs)*stagesPerImage)
	}

	res, err := s.orch.ProcessBatch(ctx, inputs, opts)
	if err != nil && (res == nil || !errors.Is(err, pipeline.ErrAllItemsFailed)) {
		return nil, err
	}
	return &BatchResult{
		BatchID:     res.BatchID,
		Status:      res.Status,
		Successes:   res.Successes,
		Failures:    res.Failures,
		ArchivePath: res.ArchivePath,
	}, nil
}

// progressNotifier forwards pipeline progress as notifications/progress. The
// progress value counts events so that it only ever grows.
func (s *Server) progressNotifier(token interface{}, total int) pipeline.ProgressFunc {
	var mu sync.Mutex
	n := 0
	return func(e pipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		n++
		s.notify("notifications/progress", map[string]interface{}{
			"progressToken": token,
			"progress":      n,
			"total":         total,
			"message":       fmt.Sprintf("%s: %s (%d%%)", e.Filename, e.Stage, e.Percent),
		})
	}
}

type selectCountArgs struct {
	Path string `json:"path"`
}

// SelectCountResult is the text payload of layers_select_count.
type SelectCountResult struct {
	Path           string `json:"path"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	DistinctColors int    `json:"distinct_colors"`
	ClusterCount   int    `json:"cluster_count"`
}

func (s *Server) handleSelectCount(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a selectCountArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	r, err := s.cache.Load(a.Path)
	if err != nil {
		return nil, err
	}
	sample, err := imaging.ToPerceptual(r)
	if err != nil {
		return nil, err
	}
	k, err := s.orch.Decomposer().SelectCount(ctx, sample, layers.DefaultSearchMin, layers.DefaultSearchMax)
	if err != nil {
		return nil, err
	}
	return &SelectCountResult{
		Path:           a.Path,
		Width:          r.Width,
		Height:         r.Height,
		DistinctColors: len(sample.Colors),
		ClusterCount:   k,
	}, nil
}

type getArchiveArgs struct {
	BatchID string `json:"batch_id"`
}

// ArchiveResult is the text payload of layers_get_archive.
type ArchiveResult struct {
	BatchID string `json:"batch_id"`
	Path    string `json:"path"`
	Size    int64  `json:"size_bytes"`
}

func (s *Server) handleGetArchive(args json.RawMessage) (interface{}, error) {
	var a getArchiveArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	p, err := s.store.Path(a.BatchID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	return &ArchiveResult{BatchID: a.BatchID, Path: p, Size: info.Size()}, nil
}
