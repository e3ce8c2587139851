// Package mcp exposes the analysis tools over a stdio JSON-RPC loop so agent
// clients can drive the same core the HTTP transport does.
package mcp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"driftwatch/internal/baseline"
	"driftwatch/internal/config"
	"driftwatch/internal/drift"
	"driftwatch/internal/logfiles"
	"driftwatch/internal/store"
)

// JSONRPCRequest represents a standard MCP/JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a standard MCP/JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// Server holds the state for the MCP server.
type Server struct {
	cfg      *config.AppConfig
	store    *store.Store
	models   *baseline.Manager
	detector *drift.Detector
	catalog  *logfiles.Catalog
}

// NewServer creates a new MCP server over the shared core components.
func NewServer(cfg *config.AppConfig, st *store.Store, models *baseline.Manager, detector *drift.Detector, catalog *logfiles.Catalog) *Server {
	return &Server{cfg: cfg, store: st, models: models, detector: detector, catalog: catalog}
}

// Serve starts the JSON-RPC loop over Stdio.
func (s *Server) Serve() error {
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			log.Error().Err(err).Msg("Failed to unmarshal request")
			continue
		}

		s.handleRequest(req)
	}
}

func (s *Server) handleRequest(req JSONRPCRequest) {
	var result any
	var errRes any

	switch req.Method {
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{},
			"serverInfo": map[string]any{
				"name":    "driftwatch",
				"version": "0.1.0",
			},
		}
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, errRes = s.callTool(req.Params)
	default:
		errRes = map[string]any{
			"code":    -32601,
			"message": fmt.Sprintf("Method %s not found", req.Method),
		}
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
		Error:   errRes,
	}

	out, _ := json.Marshal(resp)
	fmt.Fprintf(os.Stdout, "%s\n", out)
}

func (s *Server) callTool(params json.RawMessage) (any, any) {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, map[string]any{"code": -32602, "message": "Invalid params"}
	}

	var data any
	var err error

	switch call.Name {
	case "analyze_pipeline":
		logPayload, _ := call.Arguments["log"].(string)
		pipeline, _ := call.Arguments["pipeline"].(string)
		data, err = s.handleAnalyze(logPayload, pipeline)
	case "train_baseline":
		var filenames []string
		if raw, ok := call.Arguments["filenames"].([]any); ok {
			for _, v := range raw {
				if name, ok := v.(string); ok {
					filenames = append(filenames, name)
				}
			}
		}
		modelName, _ := call.Arguments["model_name"].(string)
		data, err = s.handleTrain(filenames, modelName)
	case "get_drift_history":
		pipeline, _ := call.Arguments["pipeline"].(string)
		limit := 0
		if n, ok := call.Arguments["limit"].(float64); ok {
			limit = int(n)
		}
		data, err = s.handleHistory(pipeline, limit)
	case "diff_pipeline":
		pipeline, _ := call.Arguments["pipeline"].(string)
		data, err = s.handleDiff(pipeline)
	default:
		return nil, map[string]any{"code": -32601, "message": "Tool not found"}
	}

	if err != nil {
		return nil, map[string]any{"code": -32000, "message": err.Error()}
	}

	return map[string]any{
		"content": []any{
			map[string]any{
				"type": "text",
				"text": s.formatResult(data),
			},
		},
	}, nil
}

func (s *Server) formatResult(data any) string {
	out, _ := json.MarshalIndent(data, "", "  ")
	return string(out)
}
