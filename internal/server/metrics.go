package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default address for the metrics server.
	DefaultMetricsAddr = ":9090"

	DefaultMetricsReadTimeout  = 10 * time.Second
	DefaultMetricsWriteTimeout = 10 * time.Second
	DefaultMetricsIdleTimeout  = 60 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// MetricsServerConfig holds configuration for the metrics server.
type MetricsServerConfig struct {
	// Addr is the address to bind the metrics server to (e.g., ":9090").
	Addr string

	// InstrumentationProvider provides the Prometheus metrics handler.
	InstrumentationProvider *instrumentation.Provider

	Logger *slog.Logger
}

// MetricsServer serves Prometheus metrics on a dedicated port, away from
// the public API.
type MetricsServer struct {
	httpServer *http.Server
	handler    http.Handler
	addr       string
	logger     *slog.Logger
}

// NewMetricsServer creates a new metrics server with the given configuration.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}

	if config.InstrumentationProvider == nil {
		return nil, fmt.Errorf("instrumentation provider is required for metrics server")
	}

	if !config.InstrumentationProvider.Enabled() {
		return nil, fmt.Errorf("instrumentation provider is not enabled")
	}

	handler := config.InstrumentationProvider.PrometheusHandler()
	if handler == nil {
		return nil, fmt.Errorf("instrumentation provider does not export prometheus metrics")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MetricsServer{
		handler: handler,
		addr:    config.Addr,
		logger:  logger,
	}, nil
}

func (s *MetricsServer) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start starts the metrics server in a blocking manner.
func (s *MetricsServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, closes ready once bound and then
// serves until Shutdown. Bind errors are returned before ready is closed.
func (s *MetricsServer) StartWithReadySignal(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: DefaultMetricsReadTimeout,
		WriteTimeout:      DefaultMetricsWriteTimeout,
		IdleTimeout:       DefaultMetricsIdleTimeout,
	}

	s.logger.Info("starting metrics server", "addr", s.addr)
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		s.logger.Info("shutting down metrics server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the metrics server address. After start it is the bound address.
func (s *MetricsServer) Addr() string {
	return s.addr
}
