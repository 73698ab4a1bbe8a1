package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teemow/inboxdigest/internal/digest"
	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/session"
)

// Authenticator runs the Google sign-in flow and refreshes stored tokens.
type Authenticator interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) (*google.Identity, error)
	session.TokenRefresher
}

// BreakerReporter exposes the state of a circuit breaker for health checks.
type BreakerReporter interface {
	BreakerState() string
}

// ServerContextConfig holds the dependencies of a ServerContext.
type ServerContextConfig struct {
	Digest        *digest.Service
	Sessions      *session.Manager
	Authenticator Authenticator

	// Generator is reported on /healthz/detailed when set.
	Generator BreakerReporter

	Logger      *slog.Logger
	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
}

// ServerContext holds the shared, user-independent state of the server.
// Per-user state lives in the session carried by each request's context.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	digest    *digest.Service
	sessions  *session.Manager
	auth      Authenticator
	generator BreakerReporter

	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context.
func NewServerContext(ctx context.Context, cfg ServerContextConfig) (*ServerContext, error) {
	if cfg.Digest == nil {
		return nil, errors.New("digest service is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		digest:      cfg.Digest,
		sessions:    cfg.Sessions,
		auth:        cfg.Authenticator,
		generator:   cfg.Generator,
		logger:      logger,
		metrics:     cfg.Metrics,
		auditLogger: cfg.AuditLogger,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Digest returns the summarization service.
func (sc *ServerContext) Digest() *digest.Service {
	return sc.digest
}

// Sessions returns the session manager.
func (sc *ServerContext) Sessions() *session.Manager {
	return sc.sessions
}

// Authenticator returns the Google authenticator.
func (sc *ServerContext) Authenticator() Authenticator {
	return sc.auth
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Metrics returns the metrics recorder. It may be nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger. It may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and closes the session store.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return sc.sessions.Store().Close()
}
