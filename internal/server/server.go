package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "imagegen-mcp"

	// maxLineBytes bounds one JSON-RPC request line.
	maxLineBytes = 4 * 1024 * 1024
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
)

// Server handles MCP protocol communication
type Server struct {
	dispatcher *Dispatcher
	logger     zerolog.Logger
	workers    int
	version    string
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// New creates a server that runs at most workers tool calls at once.
func New(d *Dispatcher, logger zerolog.Logger, workers int, version string) *Server {
	if workers < 1 {
		workers = 1
	}
	return &Server{
		dispatcher: d,
		logger:     logger,
		workers:    workers,
		version:    version,
	}
}

// Run serves MCP on stdin/stdout until stdin closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads line-delimited JSON-RPC requests from in and writes responses
// to out. tools/call requests run concurrently on the worker pool; all other
// methods are answered inline. Serve returns after in-flight calls finish.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLineBytes)

	w := &responseWriter{enc: json.NewEncoder(out), logger: s.logger}
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn().Err(err).Msg("failed to parse request")
			w.write(errorResponse(nil, codeParseError, "Parse error", err.Error()))
			continue
		}

		if req.Method != "tools/call" {
			w.write(s.handleRequest(&req))
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		wg.Add(1)
		go func(req MCPRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			w.write(s.handleToolsCall(ctx, &req))
		}(req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// responseWriter serializes responses from concurrent handlers.
type responseWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger zerolog.Logger
}

func (w *responseWriter) write(resp *MCPResponse) {
	if resp == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(resp); err != nil {
		w.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// handleRequest routes non-tool requests.
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	switch {
	case req.Method == "initialize":
		return s.handleInitialize(req)
	case strings.HasPrefix(req.Method, "notifications/"):
		// Notifications get no response.
		return nil
	case req.Method == "tools/list":
		return s.handleToolsList(req)
	case req.Method == "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), "")
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": s.version,
			},
		},
	}
}

func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": s.dispatcher.Tools(),
		},
	}
}

// handleToolsCall runs one tool through the dispatcher.
//
// Both outcomes use MCP's content format; failures set isError and carry the
// error envelope as the text:
//
//	{
//	  "content": [{"type": "text", "text": "{\"message\":\"...\"}"}],
//	  "isError": true
//	}
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params", err.Error())
	}

	res := s.dispatcher.Dispatch(ctx, params.Name, params.Arguments)

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": string(res.JSON()),
				},
			},
			"isError": !res.OK(),
		},
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	resp := &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}
	if data != "" {
		resp.Error.Data = data
	}
	return resp
}
