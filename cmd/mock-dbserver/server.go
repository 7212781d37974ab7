package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skanga/dbchat-protocol-tests/mcp"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const protocolVersion = "2025-11-25"

type server struct {
	db *database
}

func newServer(db *database) *server {
	return &server{db: db}
}

// serveStdio answers one JSON-RPC message per line until stdin closes.
// Notifications produce no output at all.
func (s *server) serveStdio(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	w := bufio.NewWriter(out)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp := s.dispatch([]byte(line))
		if resp == nil {
			continue
		}
		data, err := resp.Encode()
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

// serveHTTP exposes the liveness endpoint and the protocol endpoint, and
// drains in-flight calls on SIGINT/SIGTERM before exiting.
func (s *server) serveHTTP(port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.httpHandler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "healthy",
			"server": "mock-dbserver",
		})
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			http.Error(w, "read request", http.StatusBadRequest)
			return
		}
		resp := s.dispatch(body)
		if resp == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		data, err := resp.Encode()
		if err != nil {
			http.Error(w, "encode response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
	return mux
}

func (s *server) dispatch(data []byte) mcp.Message {
	req, err := mcp.Decode(data)
	if err != nil {
		return errorResponse(mcp.Message{"id": nil}, codeParseError, "Parse error: "+err.Error())
	}
	return s.handle(req)
}

// handle runs one request and builds its response. Notifications return
// nil, even when the handler panics.
func (s *server) handle(req mcp.Message) (resp mcp.Message) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			if !req.IsNotification() {
				resp = errorResponse(req, codeInternalError, fmt.Sprintf("Internal error: %v", r))
			}
		}
	}()

	if req.IsNotification() {
		return nil
	}

	switch req.Method() {
	case "initialize":
		return resultResponse(req, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "mock-dbserver",
				"version": "1.0.0",
			},
		})
	case "ping":
		return resultResponse(req, map[string]any{})
	case "tools/list":
		return resultResponse(req, map[string]any{"tools": toolCatalog()})
	case "tools/call":
		return s.callTool(req)
	case "resources/list":
		return resultResponse(req, map[string]any{"resources": []any{
			map[string]any{
				"uri":      "database://info",
				"name":     "Database Information",
				"mimeType": "application/json",
			},
		}})
	case "resources/read":
		return s.readResource(req)
	default:
		return errorResponse(req, codeMethodNotFound, "Method not found: "+req.Method())
	}
}

func (s *server) callTool(req mcp.Message) mcp.Message {
	params, _ := req["params"].(map[string]any)
	name, _ := params["name"].(string)
	args, _ := params["arguments"].(map[string]any)

	var (
		text string
		err  error
	)
	switch name {
	case "run_sql":
		text, err = s.db.runSQL(args)
	case "describe_table":
		text, err = s.db.describeTable(args)
	default:
		return errorResponse(req, codeInvalidParams, "Unknown tool: "+name)
	}
	if err != nil {
		var ip *invalidParams
		if errors.As(err, &ip) {
			return errorResponse(req, codeInvalidParams, ip.Error())
		}
		return errorResponse(req, codeInternalError, err.Error())
	}
	return resultResponse(req, map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
	})
}

func (s *server) readResource(req mcp.Message) mcp.Message {
	params, _ := req["params"].(map[string]any)
	uri, _ := params["uri"].(string)
	if uri != "database://info" {
		return errorResponse(req, codeInvalidParams, "Unknown resource: "+uri)
	}
	info, err := s.db.info()
	if err != nil {
		return errorResponse(req, codeInternalError, err.Error())
	}
	return resultResponse(req, map[string]any{
		"contents": []any{
			map[string]any{
				"uri":      uri,
				"mimeType": "application/json",
				"text":     info,
			},
		},
	})
}

// resultResponse echoes the request id exactly: a null id comes back as
// null, an absent id stays absent.
func resultResponse(req mcp.Message, result any) mcp.Message {
	resp := mcp.Message{"jsonrpc": "2.0", "result": result}
	if req.HasID() {
		resp["id"] = req.ID()
	}
	return resp
}

func errorResponse(req mcp.Message, code int, message string) mcp.Message {
	resp := mcp.Message{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	if req.HasID() {
		resp["id"] = req.ID()
	}
	return resp
}

func toolCatalog() []any {
	return []any{
		map[string]any{
			"name":        "run_sql",
			"description": "Execute a SQL statement against the connected database",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"sql": map[string]any{
						"type":        "string",
						"description": "SQL statement to execute",
					},
					"maxRows": map[string]any{
						"type":        "integer",
						"description": "Maximum number of rows to return",
						"default":     defaultMaxRows,
					},
					"params": map[string]any{
						"type":        "array",
						"description": "Positional values bound to ? placeholders",
					},
				},
				"required": []any{"sql"},
			},
		},
		map[string]any{
			"name":        "describe_table",
			"description": "Show the columns of a table",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"table_name": map[string]any{
						"type":        "string",
						"description": "Name of the table to describe",
					},
				},
				"required": []any{"table_name"},
			},
		},
	}
}
