package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// RequestHandler answers query and status requests.
type RequestHandler interface {
	HandleQuery(ctx context.Context, params QueryParams) (*QueryResult, error)
	Status(ctx context.Context) StatusResult
}

// Server listens on a Unix socket and serves one JSON-RPC request per connection.
type Server struct {
	socketPath string
	timeout    time.Duration
	handler    RequestHandler
	logger     *slog.Logger
	ready      chan struct{}

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for socketPath. timeout bounds each connection.
func NewServer(socketPath string, timeout time.Duration, handler RequestHandler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
		handler:    handler,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// ListenAndServe serves until ctx is cancelled or Close is called, then waits
// for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A previous daemon that crashed leaves its socket behind.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	closed := s.shutdown
	s.mu.Unlock()
	if closed {
		_ = listener.Close()
		return nil
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("server listening", slog.String("socket", s.socketPath))
	close(s.ready)

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			s.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.logger.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	encoder := json.NewEncoder(conn)
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if req.JSONRPC != "2.0" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	_ = encoder.Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})
	case MethodStatus:
		return NewSuccessResponse(req.ID, s.handler.Status(ctx))
	case MethodQuery:
		return s.handleQuery(ctx, req)
	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// handleQuery runs one query. A panic in the pipeline fails this request
// with ERR_501_INTERNAL instead of taking the daemon down.
func (s *Server) handleQuery(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			err := amerrors.InternalError("query panicked", fmt.Errorf("%v", r))
			s.logger.Error("query panicked",
				slog.String("request_id", req.ID),
				amerrors.LogAttr(err))
			resp = errorResponse(req.ID, err)
		}
	}()

	// Params arrive as a generic map; round-trip them into QueryParams.
	data, err := json.Marshal(req.Params)
	if err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to encode params")
	}
	var params QueryParams
	if err := json.Unmarshal(data, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	result, err := s.handler.HandleQuery(ctx, params)
	if err != nil {
		s.logger.Warn("query failed",
			slog.String("request_id", req.ID),
			amerrors.LogAttr(err))
		return errorResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

// errorResponse maps an error onto a JSON-RPC code, keeping the amanrag code in Data.
func errorResponse(id string, err error) Response {
	code := ErrCodeQueryFailed
	switch {
	case amerrors.GetCode(err) == amerrors.ErrCodeIndexNotLoaded:
		code = ErrCodeNotLoaded
	case amerrors.GetCategory(err) == amerrors.CategoryValidation:
		code = ErrCodeInvalidParams
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = ErrCodeInternalError
	}
	resp := NewErrorResponse(id, code, err.Error())
	resp.Error.Data = amerrors.GetCode(err)
	return resp
}

// Close stops accepting connections. Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
