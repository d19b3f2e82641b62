// Package preview serves a distribution directory over HTTP for local
// viewing. It is a static file server with request logging and graceful
// shutdown, nothing more.
package preview

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/colrdavidson/spall-web/errors"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownTimeout bounds how long in-flight requests may run after the
// context is canceled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// Server serves one directory.
type Server struct {
	logger          *zap.Logger
	dir             string
	address         string
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// New creates a Server for dir listening on address, e.g. ":8000".
func New(dir, address string, opts ...Option) *Server {
	s := &Server{
		dir:             dir,
		address:         address,
		shutdownTimeout: 5 * time.Second,
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Handler returns the file server wrapped with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.logger, http.FileServer(http.Dir(s.dir)))
}

// Serve blocks until ctx is canceled, then stops accepting connections and
// waits up to the shutdown timeout for active requests.
func (s *Server) Serve(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound(errors.PhaseServe, s.dir, "distribution directory")
		}
		return errors.FileError(errors.PhaseServe, s.dir, err)
	}
	if !info.IsDir() {
		return errors.New(errors.PhaseServe, errors.KindInvalidInput).
			Path(s.dir).
			Detail("not a directory").
			Build()
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.New(errors.PhaseServe, errors.KindIO).
			Detail("listen on %s", s.address).
			Cause(err).
			Build()
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("preview server listening", zap.String("address", s.addr.String()), zap.String("dir", s.dir))

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("preview server shutting down")
	case err := <-serveDone:
		if err != nil {
			return errors.New(errors.PhaseServe, errors.KindIO).Detail("serve").Cause(err).Build()
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.New(errors.PhaseServe, errors.KindIO).Detail("shutdown").Cause(err).Build()
	}
	s.logger.Info("preview server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

func logRequests(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		level := zap.InfoLevel
		if rec.status >= http.StatusBadRequest {
			level = zap.WarnLevel
		}
		logger.Log(level, "request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("size", rec.size),
			zap.String("remote", req.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}
