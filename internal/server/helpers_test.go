package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// newTestServer wires a server to the local inference backends and a temp archive dir.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := archive.NewStore(t.TempDir(), time.Hour, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	icfg := inference.DefaultConfig()
	icfg.UpscaleFactor = 1
	services, err := inference.NewServices(icfg, nil)
	if err != nil {
		t.Fatalf("failed to create services: %v", err)
	}

	orch, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Services:   services,
		Decomposer: layers.New(layers.DefaultConfig(), nil),
		Anchor:     anchor.DefaultOptions(),
		Exporter:   archive.NewExporter(store, 32, nil),
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	return New(Deps{Orchestrator: orch, Store: store, Version: "test"})
}

// writeTwoColorPNG writes a PNG split into a red and a blue half and returns its path.
func writeTwoColorPNG(t *testing.T, name string) string {
	t.Helper()

	r, err := imaging.NewRaster(16, 16)
	if err != nil {
		t.Fatalf("failed to create raster: %v", err)
	}
	r.FillRect(0, 0, 8, 16, imaging.RGB{R: 200, G: 30, B: 30})
	r.FillRect(8, 0, 16, 16, imaging.RGB{R: 20, G: 20, B: 160})
	data, err := imaging.EncodePNG(r)
	if err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

// toolCall builds a tools/call request line.
func toolCall(t *testing.T, id int, name string, args interface{}, token interface{}) string {
	t.Helper()

	params := map[string]interface{}{
		"name":      name,
		"arguments": args,
	}
	if token != nil {
		params["_meta"] = map[string]interface{}{"progressToken": token}
	}
	b, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  params,
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	return string(b)
}

// serve runs the given request lines through Serve and returns every output message.
func serve(t *testing.T, s *Server, lines ...string) []map[string]interface{} {
	t.Helper()

	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}

	var msgs []map[string]interface{}
	sc := bufio.NewScanner(&out)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid output line %q: %v", sc.Text(), err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// toolText decodes the text content of a successful tools/call response into v.
func toolText(t *testing.T, resp *MCPResponse, v interface{}) {
	t.Helper()

	if resp == nil {
		t.Fatal("response is nil")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result has type %T", resp.Result)
	}
	content := result["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("unexpected content: %v", content)
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), v); err != nil {
		t.Fatalf("failed to decode tool text: %v", err)
	}
}

// call runs one tools/call directly through handleRequest.
func call(t *testing.T, s *Server, name string, args interface{}) *MCPResponse {
	t.Helper()

	var req MCPRequest
	if err := json.Unmarshal([]byte(toolCall(t, 1, name, args, nil)), &req); err != nil {
		t.Fatalf("failed to unmarshal request: %v", err)
	}
	return s.handleRequest(context.Background(), &req)
}

type discard struct{ n int }

func (d *discard) Write(p []byte) (int, error) {
	d.n += len(p)
	return len(p), nil
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
