package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/portty/portty/internal/config"
)

// Server exposes the control protocol on a bidirectional unix socket and a
// write-only fire-and-forget pipe. Both feed the same line handler.
type Server struct {
	cfg   config.Config
	state *State
	log   *zap.Logger

	mu          sync.Mutex
	listener    net.Listener
	ctlFile     *os.File
	lockFile    *os.File
	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, state *State) *Server {
	return &Server{cfg: cfg, state: state, log: state.log}
}

// Start binds the socket and pipe and serves until ctx ends. Failure to
// bind either surface is fatal.
func (s *Server) Start(ctx context.Context) error {
	if err := s.state.layout.Ensure(); err != nil {
		return err
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	ln, err := s.bindSocket()
	if err != nil {
		s.releaseLock() //nolint:errcheck
		return err
	}
	ctl, err := s.bindPipe()
	if err != nil {
		ln.Close()      //nolint:errcheck
		s.releaseLock() //nolint:errcheck
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.ctlFile = ctl
	s.mu.Unlock()
	s.log.Info("control surfaces bound",
		zap.String("socket", s.cfg.SocketPath),
		zap.String("ctl", s.cfg.CtlPath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return s.pipeLoop(ctl) })
	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) bindSocket() (net.Listener, error) {
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// bindPipe creates the control FIFO and opens it read-write so readers never
// see EOF between writers.
func (s *Server) bindPipe() (*os.File, error) {
	if st, err := os.Lstat(s.cfg.CtlPath); err == nil {
		if st.Mode()&os.ModeNamedPipe == 0 {
			return nil, fmt.Errorf("ctl path exists and is not a fifo: %s", s.cfg.CtlPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := syscall.Mkfifo(s.cfg.CtlPath, 0o600); err != nil {
			return nil, fmt.Errorf("mkfifo ctl: %w", err)
		}
	} else {
		return nil, fmt.Errorf("stat ctl path: %w", err)
	}
	f, err := os.OpenFile(s.cfg.CtlPath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open ctl: %w", err)
	}
	return f, nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Minute))
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		resp := s.state.HandleLine(scanner.Text(), OriginSocket)
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

// pipeLoop drains the FIFO. Responses are computed like on the socket and
// dropped, per the fire-and-forget contract.
func (s *Server) pipeLoop(ctl *os.File) error {
	scanner := bufio.NewScanner(ctl)
	for scanner.Scan() {
		_ = s.state.HandleLine(scanner.Text(), OriginPipe)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.log.Warn("ctl pipe read", zap.Error(err))
	}
	return nil
}

func (s *Server) Shutdown() error {
	s.shutdown.Do(func() {
		var errs []error
		s.mu.Lock()
		listener := s.listener
		ctl := s.ctlFile
		s.listener = nil
		s.ctlFile = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if ctl != nil {
			if err := ctl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.state.Shutdown()
		for _, p := range []string{s.cfg.SocketPath, s.cfg.CtlPath} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) acquireLock() error {
	f, err := os.OpenFile(s.state.layout.LockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
