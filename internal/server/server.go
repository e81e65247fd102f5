// Package server exposes playlist conversion over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/agleyzer/hlsaudio/internal/convert"
	"github.com/agleyzer/hlsaudio/internal/logging"
	"github.com/agleyzer/hlsaudio/internal/source"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MaxPlaylistSize bounds POSTed playlist bodies.
const MaxPlaylistSize = 10 << 20

// Options configures the HTTP server.
type Options struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string
	// ContentType is sent with converted audio
	ContentType string
	// AllowLocal lets requests read local paths and file:// URLs
	AllowLocal bool
}

// Server serves conversions of HLS playlists.
type Server struct {
	converter  *convert.Converter
	opts       Options
	logger     hclog.Logger
	httpServer *http.Server

	requests  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	bytesOut  atomic.Int64
}

// New creates a new HTTP server
func New(converter *convert.Converter, opts Options, logger hclog.Logger) *Server {
	if opts.ContentType == "" {
		opts.ContentType = "audio/mpeg"
	}
	if !opts.AllowLocal {
		converter = converter.WrapSource(source.DenyLocal)
	}
	return &Server{
		converter: converter,
		opts:      opts,
		logger:    logger,
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/convert", s.handleConvertLocation).Methods(http.MethodGet)
	router.HandleFunc("/convert", s.handleConvertBody).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return s.loggingMiddleware(router)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.Std(s.logger),
	}

	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	<-ctx.Done()

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// handleConvertLocation converts the playlist named by the url query parameter.
func (s *Server) handleConvertLocation(w http.ResponseWriter, r *http.Request) {
	location := r.URL.Query().Get("url")
	if location == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	s.convert(w, r, func(ctx context.Context, c *convert.Converter) ([]byte, error) {
		return c.ConvertLocation(ctx, location)
	})
}

// handleConvertBody converts the playlist text in the request body.
func (s *Server) handleConvertBody(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxPlaylistSize)

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		http.Error(w, "failed to read playlist: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.convert(w, r, func(ctx context.Context, c *convert.Converter) ([]byte, error) {
		return c.Convert(ctx, &buf)
	})
}

func (s *Server) convert(w http.ResponseWriter, r *http.Request, run func(context.Context, *convert.Converter) ([]byte, error)) {
	s.requests.Add(1)

	id := uuid.NewString()
	w.Header().Set("X-Conversion-ID", id)

	c := s.converter
	if base := r.URL.Query().Get("base"); base != "" {
		c = c.WithBase(base)
	}

	out, err := run(convert.WithID(r.Context(), id), c)
	if err != nil {
		s.failed.Add(1)
		status := statusFor(err)
		s.logger.Warn("conversion failed",
			"conversion", id,
			"kind", convert.Kind(err),
			"status", status,
			"error", err,
		)
		http.Error(w, err.Error(), status)
		return
	}

	s.succeeded.Add(1)
	s.bytesOut.Add(int64(len(out)))

	w.Header().Set("Content-Type", s.opts.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		s.logger.Debug("failed to write response", "conversion", id, "error", err)
	}
}

// statusFor maps a conversion error to an HTTP status code.
func statusFor(err error) int {
	switch convert.Kind(err) {
	case convert.KindParse, convert.KindConfig, convert.KindValue:
		return http.StatusUnprocessableEntity
	case convert.KindDenied:
		return http.StatusForbidden
	case convert.KindRetrieval, convert.KindDecryption:
		return http.StatusBadGateway
	case convert.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Stats returns request counters for the health endpoint.
func (s *Server) Stats() map[string]interface{} {
	return map[string]interface{}{
		"requests":  s.requests.Load(),
		"succeeded": s.succeeded.Load(),
		"failed":    s.failed.Load(),
		"bytes_out": s.bytesOut.Load(),
	}
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"stats":  s.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"bytes", wrapped.written,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(p)
	rw.written += n
	return n, err
}
