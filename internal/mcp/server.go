package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Tool names.
const (
	ToolRetrieve = "retrieve"
	ToolStatus   = "retrieval_status"
)

// Server is the MCP server for amanrag. It answers tool calls from the same
// hot-reloading backend the daemon serves over its socket.
type Server struct {
	mcp     *mcp.Server
	backend daemon.RequestHandler
	logger  *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: ToolRetrieve,
		Description: "Find documentation for statistics and data science library functions (scipy, numpy, pandas, statsmodels, scikit-learn). " +
			"Ranks chunks by metadata match, keyword relevance and meaning. Library and category are inferred from the question unless given explicitly.",
	},
	{
		Name:        ToolStatus,
		Description: "Report whether a corpus is loaded, how many chunks it has and whether semantic ranking is available.",
	},
}

// NewServer creates an MCP server backed by backend.
func NewServer(backend daemon.RequestHandler, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New("retrieval backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		backend: backend,
		logger:  logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "amanrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// registerTools binds each tool to a typed handler; the SDK derives the input
// schema from the handler's argument struct tags.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpRetrieveHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpStatusHandler)
	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// CallTool dispatches a tool call without going through a transport.
// Unknown tools return ErrCodeMethodNotFound; bad arguments return
// ErrCodeInvalidParams.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolRetrieve:
		var in RetrieveInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		out, err := s.retrieve(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	case ToolStatus:
		return toStatusOutput(s.backend.Status(ctx)), nil
	default:
		return nil, &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown tool: %s", name)}
	}
}

// decodeArgs round-trips args through JSON so CallTool accepts the same
// shapes a client would send.
func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

// retrieve validates the input and runs it through the backend, which owns
// the runtime and its reloads.
func (s *Server) retrieve(ctx context.Context, in RetrieveInput) (RetrieveOutput, error) {
	reqID := generateRequestID()
	start := time.Now()
	logger := s.logger.With(slog.String("request_id", reqID), slog.String("tool", ToolRetrieve))

	if strings.TrimSpace(in.Query) == "" {
		return RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if in.TopK != nil && *in.TopK < 0 {
		return RetrieveOutput{}, NewInvalidParamsError("top_k must not be negative")
	}

	res, err := s.backend.HandleQuery(ctx, daemon.QueryParams{
		Query:        in.Query,
		Library:      in.Library,
		Category:     in.Category,
		FunctionName: in.FunctionName,
		TopK:         in.TopK,
	})
	if err != nil {
		logger.Warn("retrieve failed", slog.String("error", err.Error()))
		return RetrieveOutput{}, MapError(err)
	}

	out := RetrieveOutput{
		Results:    make([]RetrieveResult, 0, len(res.Results)),
		Generation: res.Generation,
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, toRetrieveResult(r))
	}

	logger.Debug("retrieve completed",
		slog.Int("results", len(out.Results)),
		slog.Int64("generation", out.Generation),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

// mcpRetrieveHandler returns the results twice: as text for the model and
// as structured content for clients that read it.
func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	out, err := s.retrieve(ctx, input)
	if err != nil {
		return nil, RetrieveOutput{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatResults(input.Query, out)}},
	}, out, nil
}

func (s *Server) mcpStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (
	*mcp.CallToolResult,
	StatusOutput,
	error,
) {
	return nil, toStatusOutput(s.backend.Status(ctx)), nil
}

// Serve runs the server on the given transport until ctx is cancelled or
// the client disconnects. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
