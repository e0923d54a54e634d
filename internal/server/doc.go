// Package server implements the MCP (Model Context Protocol) server for particle
// measurement tools.
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
// Basic Image Information:
//   - image_load: Load image and get metadata
//   - image_dimensions: Get width and height
//
// Pipeline Stages:
//   - particles_contrast: Normalized image and intensity histogram summary
//   - particles_contours: Outline overlay and rejection counts
//   - particles_analyze: Measure a batch, optionally saving it as a research
//   - particles_distribution: Sorted value bars for one metric of a research
//
// Calibration:
//   - calibration_execute: Compute a coefficient from a reference scale image
//   - calibration_save, calibration_list, calibration_get, calibration_delete
//
// Researches:
//   - research_list, research_get, research_delete
//
// # Image Caching
//
// Images are cached by path and reused across tool calls for the lifetime of
// the server process. An operator usually runs contrast, contours and analyze
// on the same photographs in turn.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure), -32602 (malformed tools/call
//     params) or -32601 (unknown method)
//   - message: Human-readable error description
//   - data: The Go error string
package server
