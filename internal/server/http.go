package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/cors"
)

// HTTP server timeouts. Writes allow for a full batch of model calls.
const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Minute
	DefaultIdleTimeout       = 120 * time.Second
)

// HTTPConfig configures an HTTPServer.
type HTTPConfig struct {
	// BaseURL is the public origin of the server, derived from the OAuth
	// redirect URI. HTTP is only accepted for loopback hosts.
	BaseURL string

	// AllowedOrigins lists CORS origins. Empty allows any origin without
	// credentials.
	AllowedOrigins []string

	// MCPServer, when set, is exposed on /mcp behind session authentication.
	MCPServer *mcpserver.MCPServer
}

// HTTPServer serves the JSON API, health endpoints and optionally MCP.
type HTTPServer struct {
	sc         *ServerContext
	config     HTTPConfig
	health     *HealthChecker
	httpServer *http.Server
}

// NewHTTPServer creates an HTTPServer.
func NewHTTPServer(sc *ServerContext, config HTTPConfig) (*HTTPServer, error) {
	if sc == nil {
		return nil, errors.New("server context is required")
	}
	if err := validateHTTPSRequirement(config.BaseURL); err != nil {
		return nil, err
	}

	return &HTTPServer{
		sc:     sc,
		config: config,
		health: NewHealthChecker(sc),
	}, nil
}

// HealthChecker returns the health checker backing the health endpoints.
func (s *HTTPServer) HealthChecker() *HealthChecker {
	return s.health
}

// Handler returns the fully wrapped request handler.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	routes := []struct {
		method  string
		path    string
		handler http.Handler
	}{
		{http.MethodGet, "/api/auth/google", http.HandlerFunc(s.handleLogin)},
		{http.MethodGet, "/api/auth/google/callback", http.HandlerFunc(s.handleCallback)},
		{http.MethodGet, "/api/auth/logout", http.HandlerFunc(s.handleLogout)},
		{http.MethodGet, "/api/user", http.HandlerFunc(s.handleUser)},
		{http.MethodGet, "/api/gmail/emails", s.requireAuth(http.HandlerFunc(s.handleListEmails))},
		{http.MethodPost, "/api/gmail/summarize", s.requireAuth(http.HandlerFunc(s.handleSummarize))},
		{http.MethodPost, "/api/gmail/summarize-batch", s.requireAuth(http.HandlerFunc(s.handleSummarizeBatch))},
	}
	for _, route := range routes {
		mux.Handle(route.method+" "+route.path, route.handler)
		// Any other method on a known path.
		mux.HandleFunc(route.path, s.handleMethodNotAllowed(route.method))
	}

	mux.HandleFunc("/api/", s.handleNotFound)

	s.health.RegisterHealthEndpoints(mux)

	if s.config.MCPServer != nil {
		streamable := mcpserver.NewStreamableHTTPServer(s.config.MCPServer,
			mcpserver.WithEndpointPath("/mcp"),
		)
		mux.Handle("/mcp", s.requireAuth(streamable))
	}

	return s.instrumentationMiddleware(s.corsHandler().Handler(mux))
}

func (s *HTTPServer) corsHandler() *cors.Cors {
	if len(s.config.AllowedOrigins) == 0 {
		return cors.AllowAll()
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Mcp-Session-Id"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	})
}

// Start serves on addr until Shutdown is called.
func (s *HTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return s.sc.Context()
		},
	}

	s.sc.Logger().Info("starting HTTP server", "addr", addr, "mcp", s.config.MCPServer != nil)
	return s.httpServer.ListenAndServe()
}

// Shutdown marks the server as not ready and drains connections.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// SecureCookies reports whether the public origin is HTTPS.
func SecureCookies(baseURL string) bool {
	u, err := url.Parse(baseURL)
	return err == nil && u.Scheme == "https"
}

// BaseURLFromRedirect returns the origin of an OAuth redirect URI.
func BaseURLFromRedirect(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid redirect URI: %s", redirectURI)
	}
	return u.Scheme + "://" + u.Host, nil
}

// validateHTTPSRequirement ensures cookies and OAuth redirects travel over
// HTTPS. HTTP is allowed only for loopback addresses (localhost, 127.0.0.1, ::1).
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("HTTPS is required outside local development (got: %s). Use HTTPS or localhost", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
