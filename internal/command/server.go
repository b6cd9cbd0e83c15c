package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ServerConfig describes where the control API listens.
type ServerConfig struct {
	// SocketPath is the unix socket every installation gets.
	SocketPath string
	// Listen optionally exposes the API over TCP, guarded by bearer
	// auth.
	Listen string
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server runs the control API on a unix socket and, optionally, a TCP
// listener. Its lifetime is tied to the running service: the
// supervisor starts it while starting and closes it before reporting
// stopped.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	logger  *slog.Logger

	mu         sync.Mutex
	unixServer *http.Server
	tcpServer  *http.Server
	unixLn     net.Listener
	tcpLn      net.Listener
	running    bool
}

func NewServer(cfg ServerConfig, handler *Handler, logger *slog.Logger) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "command"),
	}, nil
}

// Start binds the listeners synchronously, so a failure surfaces to
// the caller, then serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := s.removeStaleSocket(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	unixLn, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		unixLn.Close()
		os.Remove(s.cfg.SocketPath)
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	s.unixLn = unixLn
	s.unixServer = &http.Server{
		Handler:      s.handler.Routes(false),
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	go s.serve(s.unixServer, unixLn, "unix", s.cfg.SocketPath)

	if s.cfg.Listen != "" {
		tcpLn, err := net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
		}
		s.tcpLn = tcpLn
		s.tcpServer = &http.Server{
			Handler:     s.handler.Routes(true),
			IdleTimeout: 60 * time.Second,
		}
		go s.serve(s.tcpServer, tcpLn, "tcp", s.cfg.Listen)
	}

	s.running = true
	return nil
}

func (s *Server) serve(srv *http.Server, ln net.Listener, network, addr string) {
	s.logger.Info("control api listening", "network", network, "addr", addr)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("control api serve", "network", network, "error", err)
	}
}

// Close shuts both listeners down and removes the socket file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Server) closeLocked() error {
	var firstErr error
	shutdown := func(srv *http.Server) {
		if srv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	shutdown(s.unixServer)
	shutdown(s.tcpServer)
	s.unixServer = nil
	s.tcpServer = nil
	s.unixLn = nil
	s.tcpLn = nil
	s.running = false

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// removeStaleSocket clears a socket file left behind by a crashed
// daemon. A socket that still accepts connections means another
// instance owns it.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.cfg.SocketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket: %w", err)
	}
	conn, err := net.DialTimeout("unix", s.cfg.SocketPath, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use by another instance", s.cfg.SocketPath)
	}
	s.logger.Warn("removing stale control socket", "path", s.cfg.SocketPath)
	if err := os.Remove(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}
