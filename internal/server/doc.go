// Package server implements the MCP (Model Context Protocol) server for colour
// layer decomposition.
//
// The server speaks JSON-RPC 2.0 over stdio:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses and notifications on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Tools
//
//   - layers_process_batch: Run the layer pipeline over image files and write a zip archive
//   - layers_select_count: Suggest a layer count for one image
//   - layers_get_archive: Look up the archive of a finished batch
//
// When a tools/call request carries params._meta.progressToken, pipeline
// progress is streamed back as notifications/progress messages before the
// response.
//
// # Image Caching
//
// layers_select_count keeps decoded images in memory keyed by path for the
// lifetime of the server, so repeated calls on the same file skip decoding.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with code
// -32000 and the Go error string as data. Per-image failures inside a batch are
// not errors; they are listed in the result.
package server
