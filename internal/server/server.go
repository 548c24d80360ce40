// Package server hosts the viewer endpoint, the status API and the optional dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/bridge"
	"golang.org/x/sys/unix"
)

const (
	DefaultPortAttempts = 20
	readHeaderTimeout   = 10 * time.Second
)

// Snapshotter provides the data behind GET /api/status.
type Snapshotter interface {
	Snapshot() bridge.Snapshot
}

// Config configures the listener and routes.
type Config struct {
	Host string
	Port int
	// PortAttempts is how many consecutive ports are tried when the port is taken.
	PortAttempts int
	// StaticDir, when set, is served at /.
	StaticDir string
}

// Server is an HTTP server bound to the first free port at or above Config.Port.
type Server struct {
	cfg    Config
	logger *logrus.Logger
	http   *http.Server
	ln     net.Listener
}

// New builds the route table. viewers serves /ws.
func New(cfg Config, viewers http.Handler, snap Snapshotter, logger *logrus.Logger) *Server {
	if cfg.PortAttempts <= 0 {
		cfg.PortAttempts = DefaultPortAttempts
	}
	if logger == nil {
		logger = logrus.New()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", viewers)
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap.Snapshot()); err != nil {
			logger.WithField("error", err).Warn("Failed to write status response")
		}
	})
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Listen binds the listening socket, moving to the next port while the
// current one is already in use.
func (s *Server) Listen() error {
	ln, err := listen(s.cfg.Host, s.cfg.Port, s.cfg.PortAttempts, s.logger)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

func listen(host string, port, attempts int, logger *logrus.Logger) (net.Listener, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port+i))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		if !errors.Is(err, unix.EADDRINUSE) {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		logger.WithField("port", port+i).Warn("Port is already in use, trying next port")
		lastErr = err
		// port 0 asks the kernel, so it can never be in use
		if port == 0 {
			break
		}
	}
	return nil, fmt.Errorf("no free port in %d..%d: %w", port, port+attempts-1, lastErr)
}

// Addr is the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.ln == nil {
		return fmt.Errorf("server is not listening")
	}
	s.logger.WithField("address", s.ln.Addr().String()).Info("Server listening")
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
