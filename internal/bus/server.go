package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Request is one decoded portal request as the adapter hands it over.
type Request struct {
	Portal    string          `json:"portal"`
	Operation string          `json:"operation"`
	Options   json.RawMessage `json:"options,omitempty"`
	Entries   []string        `json:"entries,omitempty"`
	Title     string          `json:"title,omitempty"`
}

// Response carries the result back to the adapter. Cancelled requests set
// Cancelled instead of Error so the adapter can map them to the protocol's
// cancel code rather than a failure.
type Response struct {
	Entries   []string `json:"entries,omitempty"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// IsCancelled tells the adapter socket a cancellation apart from a hard
// failure. Wired to the session core's cancellation sentinel by the daemon.
type IsCancelled func(error) bool

// Server accepts adapter connections on a unix socket, one JSON request per
// connection, and drives the Handler. It exists so the bus-protocol process
// can live outside this daemon.
type Server struct {
	path      string
	handler   Handler
	cancelled IsCancelled
	log       *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(path string, handler Handler, cancelled IsCancelled, log *zap.Logger) *Server {
	if cancelled == nil {
		cancelled = func(error) bool { return false }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{path: path, handler: handler, cancelled: cancelled, log: log}
}

// Serve listens until ctx ends. Each connection gets its own goroutine so a
// long interactive session never blocks other requests.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale request socket: %w", err)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen request socket: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("chmod request socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept request: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	var req Request
	dec := json.NewDecoder(conn)
	if err := dec.Decode(&req); err != nil {
		s.reply(conn, Response{Error: "invalid request body"})
		return
	}
	if req.Portal == "" || req.Operation == "" {
		s.reply(conn, Response{Error: "portal and operation are required"})
		return
	}
	entries, err := s.handler.RunSession(ctx, req.Portal, req.Operation, req.Options, req.Entries, req.Title)
	if err != nil {
		if s.cancelled(err) {
			s.reply(conn, Response{Cancelled: true})
			return
		}
		s.reply(conn, Response{Error: err.Error()})
		return
	}
	s.reply(conn, Response{Entries: entries})
}

func (s *Server) reply(conn net.Conn, resp Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("write request response", zap.Error(err))
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		ln.Close() //nolint:errcheck
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Debug("remove request socket", zap.Error(err))
	}
}
