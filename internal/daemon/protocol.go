package daemon

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/runtime"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
)

// JSON-RPC 2.0 method names.
const (
	MethodQuery  = "query"
	MethodStatus = "status"
	MethodPing   = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeNotLoaded   = -32001
	ErrCodeQueryFailed = -32002
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the amanrag error code
// (e.g. ERR_206_METADATA_UNAVAILABLE) when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Data)
	}
	return e.Message
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// QueryParams are the parameters for the query method.
type QueryParams struct {
	// Query is the query text (required).
	Query string `json:"query"`

	Library      string `json:"library,omitempty"`
	Category     string `json:"category,omitempty"`
	FunctionName string `json:"function_name,omitempty"`

	// TopK nil means the configured default. 0 is a valid, empty request.
	TopK *int `json:"top_k,omitempty"`

	// Explain returns the per-stage trace instead of bare results.
	Explain bool `json:"explain,omitempty"`
}

// Validate checks that required fields are present.
func (p *QueryParams) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if p.TopK != nil && *p.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", *p.TopK)
	}
	return nil
}

// Filters returns the explicit filters of p.
func (p *QueryParams) Filters() search.Filters {
	return search.Filters{
		Library:      p.Library,
		Category:     p.Category,
		FunctionName: p.FunctionName,
	}
}

// QueryResult is the query method result. Explanation is set in explain mode
// and then holds the results too.
type QueryResult struct {
	Results     []*search.ScoredResult `json:"results"`
	Explanation *search.Explanation    `json:"explanation,omitempty"`
	Generation  int64                  `json:"generation"`
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running bool                `json:"running"`
	PID     int                 `json:"pid"`
	Uptime  string              `json:"uptime"`
	Reloads int64               `json:"reloads"`
	Runtime *runtime.Status     `json:"runtime,omitempty"`
	Queries *telemetry.Snapshot `json:"queries,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
