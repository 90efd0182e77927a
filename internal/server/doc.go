// Package server implements the tool dispatcher and the MCP (Model Context
// Protocol) stdio server for image generation and transform tools.
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
// tools/call requests run concurrently on a bounded worker pool; responses may
// therefore arrive out of request order and are matched by id.
//
// # Available Tools
//
//   - generate_image: Generate an image from a prompt with a remote provider
//   - resize_image: Resize an image file
//   - convert_image_format: Convert an image to PNG, JPEG, WEBP or GIF
//   - get_image_info: Read dimensions, format, colour mode and file size
//
// # Dispatch
//
// Every tool is declared by a Descriptor. The descriptor renders the tool's
// inputSchema and is compiled into a JSON Schema validator; arguments are
// checked before any handler runs, with defaults applied for omitted optional
// parameters. The generate_image provider and size enums come from the
// provider registry.
//
// # Error Handling
//
// Tool failures, including handler panics, never become JSON-RPC errors. They
// are returned as a normal tools/call result with isError set and the text
// holding an envelope:
//
//	{"message": "OPENAI_API_KEY not found in environment variables"}
//
// JSON-RPC errors are reserved for protocol problems: unparseable lines
// (-32700), unknown methods (-32601) and malformed tools/call params (-32602).
package server
