// Package transport carries router messages over HTTP: the daemon's chi
// server and the client the CLI uses to talk to it.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
	"github.com/octobridge/octobridge/internal/version"
)

// MessagesPath is the single message endpoint.
const MessagesPath = "/v1/messages"

// RequestIDHeader carries the per-message id in both directions.
const RequestIDHeader = "X-Request-ID"

// MaxMessageBytes bounds an inbound message body.
const MaxMessageBytes = 1 << 20

// Dispatcher handles one decoded message.
type Dispatcher interface {
	Dispatch(ctx context.Context, req router.Request) *output.Envelope
}

// Server exposes a Dispatcher over HTTP.
type Server struct {
	addr       string
	dispatcher Dispatcher
	gatherer   prometheus.Gatherer
	logger     *slog.Logger

	listener net.Listener
	ready    chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server for addr. Nothing listens until Run.
func NewServer(addr string, d Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		addr:       addr,
		dispatcher: d,
		gatherer:   prometheus.DefaultGatherer,
		logger:     slog.New(slog.DiscardHandler),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog(s.logger))

	r.Post(MessagesPath, s.handleMessage)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	close(s.ready)

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("daemon listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() string {
	<-s.ready
	return s.listener.Addr().String()
}

// Ready is closed once the server listens.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// handleMessage always answers 200: the envelope carries the outcome.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := RequestIDFrom(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageBytes+1))
	var env *output.Envelope
	switch {
	case err != nil:
		env = output.Failure(output.ErrUsage("could not read message body"))
	case len(body) > MaxMessageBytes:
		env = output.Failure(output.ErrUsage("message too large"))
	default:
		req, decodeErr := router.DecodeRequest(body)
		if decodeErr != nil {
			env = output.Failure(output.ErrUsage("malformed message: " + decodeErr.Error()))
		} else {
			env = s.dispatcher.Dispatch(router.WithRequestID(ctx, id), req)
		}
	}
	env.RequestID = id

	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

// RequestIDFrom returns the id assigned by the request id middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID keeps a well-formed inbound id or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", RequestIDFrom(r.Context()),
			)
		})
	}
}
