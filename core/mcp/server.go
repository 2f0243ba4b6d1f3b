// Package mcp serves the model-context protocol over newline-framed
// JSON-RPC on a byte stream, normally stdin/stdout.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/brasildados/localidades-mcp/core/errors"
	"github.com/brasildados/localidades-mcp/core/tool"
)

const (
	protocolVersion = "2024-11-05"
	maxFrameSize    = 10 << 20
)

type Server struct {
	name    string
	version string
	tools   *tool.Registry
	logger  logr.Logger
	writeMu sync.Mutex
	out     *bufio.Writer
}

func NewServer(name, version string, tools *tool.Registry, logger logr.Logger) *Server {
	return &Server{
		name:    name,
		version: version,
		tools:   tools,
		logger:  logger.WithName("mcp"),
	}
}

// Serve reads frames until EOF or context cancellation. One goroutine reads
// and parses; a bounded worker pool dispatches, so a slow report cannot
// stall unrelated calls. Responses are written whole lines under a lock, in
// completion order.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = bufio.NewWriter(out)

	workers := 4 * runtime.NumCPU()
	if workers < 32 {
		workers = 32
	}
	jobs := make(chan Request)
	var pool sync.WaitGroup
	for i := 0; i < workers; i++ {
		pool.Add(1)
		go func() {
			defer pool.Done()
			for request := range jobs {
				s.handle(ctx, request)
			}
		}()
	}

	// The reader goroutine owns the scanner; it stays blocked on a pending
	// read after cancellation, which is fine because the process is about
	// to exit anyway.
	lines := make(chan []byte)
	readDone := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				readDone <- ctx.Err()
				return
			}
		}
		readDone <- scanner.Err()
	}()

	var readErr error
loop:
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			break loop
		case err := <-readDone:
			readErr = err
			break loop
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var request Request
			if err := json.Unmarshal(line, &request); err != nil {
				s.logger.V(1).Info("unparseable frame", "error", err)
				s.write(Response{
					JSONRPC: jsonrpcVersion,
					ID:      json.RawMessage("null"),
					Error:   &Error{Code: codeParseError, Message: "parse error"},
				})
				continue
			}
			select {
			case jobs <- request:
			case <-ctx.Done():
				readErr = ctx.Err()
				break loop
			}
		}
	}

	close(jobs)
	pool.Wait()
	s.writeMu.Lock()
	flushErr := s.out.Flush()
	s.writeMu.Unlock()
	if readErr != nil {
		return readErr
	}
	return flushErr
}

func (s *Server) handle(ctx context.Context, request Request) {
	if request.JSONRPC != jsonrpcVersion {
		if !request.notification() {
			s.respondError(request.ID, codeInvalidRequest, "unsupported jsonrpc version")
		}
		return
	}

	// The request id doubles as the correlation id: every log line written
	// while serving this frame can be tied back to it.
	ctx = tool.WithCorrelation(ctx, correlationID(request.ID))
	result, rpcError := s.dispatch(ctx, request)
	if request.notification() {
		return
	}
	if rpcError != nil {
		s.write(Response{JSONRPC: jsonrpcVersion, ID: request.ID, Error: rpcError})
		return
	}
	s.write(Response{JSONRPC: jsonrpcVersion, ID: request.ID, Result: result})
}

// dispatch maps a method to its handler. The snake_case aliases mirror the
// slash forms for clients that predate the current protocol naming.
func (s *Server) dispatch(ctx context.Context, request Request) (any, *Error) {
	switch request.Method {
	case "initialize":
		return s.initialize(), nil
	case "notifications/initialized", "initialized":
		return nil, nil
	case "tools/list", "list_tools":
		return map[string]any{"tools": s.tools.Tools()}, nil
	case "tools/call", "call_tool":
		return s.callTool(ctx, request.Params)
	case "resources/list", "list_resources":
		return map[string]any{"resources": s.tools.Resources()}, nil
	case "resources/read", "read_resource":
		return s.readResource(ctx, request.Params)
	case "ping":
		return map[string]any{}, nil
	default:
		return nil, &Error{Code: codeMethodNotFound, Message: "method not found: " + request.Method}
	}
}

func (s *Server) initialize() any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
	}
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil || params.Name == "" {
		return nil, &Error{Code: codeInvalidParams, Message: "tools/call needs a tool name"}
	}
	result, err := s.tools.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (s *Server) readResource(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params readParams
	if err := json.Unmarshal(raw, &params); err != nil || params.URI == "" {
		return nil, &Error{Code: codeInvalidParams, Message: "resources/read needs a uri"}
	}
	resource, data, err := s.tools.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, classify(err)
	}
	return map[string]any{
		"contents": []map[string]any{{
			"uri":      resource.URI,
			"mimeType": resource.MimeType,
			"text":     string(data),
		}},
	}, nil
}

// correlationID renders a raw JSON-RPC id as a flat string. String ids drop
// their quotes; numbers pass through; notifications have none.
func correlationID(id json.RawMessage) string {
	return strings.Trim(string(id), `"`)
}

// classify maps classified errors onto the protocol: bad inputs and unknown
// names are parameter errors, everything else lands in the application
// range.
func classify(err error) *Error {
	switch errors.KindOf(err) {
	case errors.KindInvalidParams, errors.KindNotFound:
		return &Error{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: codeApplication, Message: err.Error()}
	}
}

func (s *Server) respondError(id json.RawMessage, code int, message string) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	s.write(Response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: message}})
}

func (s *Server) write(response Response) {
	encoded, err := json.Marshal(response)
	if err != nil {
		s.logger.Error(err, "response marshal failed")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(encoded); err != nil {
		s.logger.Error(err, "response write failed")
		return
	}
	if err := s.out.WriteByte('\n'); err != nil {
		s.logger.Error(err, "response write failed")
		return
	}
	if err := s.out.Flush(); err != nil {
		s.logger.Error(err, "response flush failed")
	}
}
