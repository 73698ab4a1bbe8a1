package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxdigest/internal/digest"
	"github.com/teemow/inboxdigest/internal/gemini"
	"github.com/teemow/inboxdigest/internal/gmail"
	"github.com/teemow/inboxdigest/internal/google"
	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
	"github.com/teemow/inboxdigest/internal/server"
	"github.com/teemow/inboxdigest/internal/session"
	"github.com/teemow/inboxdigest/internal/tools/digest_tools"
)

const (
	defaultPort        = 9002
	defaultRedirectURI = "http://localhost:9002/api/auth/google/callback"

	sessionStoreMemory = "memory"
	sessionStoreValkey = "valkey"
)

// ServeConfig holds everything the serve command needs to start.
type ServeConfig struct {
	Port      int
	Debug     bool
	LogFormat string

	GoogleClientID     string
	GoogleClientSecret string
	RedirectURI        string

	GeminiAPIKey      string
	GeminiModel       string
	GenerationTimeout time.Duration
	BatchConcurrency  int

	SessionSecret string
	SessionStore  SessionStoreConfig

	// CORSAllowedOrigins restricts cross-origin callers. Empty allows all.
	CORSAllowedOrigins []string

	// EnableMCP mounts the MCP tools at /mcp.
	EnableMCP bool

	Metrics MetricsConfig
}

// SessionStoreConfig selects and configures the session backend.
type SessionStoreConfig struct {
	// Type is "memory" or "valkey" (default: "memory")
	Type string

	// EncryptionKey is a base64 encoded AES-256 key for sessions at rest.
	EncryptionKey string

	Valkey ValkeyStorageConfig
}

// ValkeyStorageConfig holds configuration for Valkey storage backend
type ValkeyStorageConfig struct {
	// URL is the Valkey server address (e.g., "valkey.namespace.svc:6379")
	URL string

	// Password is the optional password for Valkey authentication
	Password string

	// TLSEnabled enables TLS for Valkey connections
	TLSEnabled bool

	// KeyPrefix is the prefix for all Valkey keys
	KeyPrefix string

	// DB is the Valkey database number (default: 0)
	DB int
}

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	var (
		cfg        ServeConfig
		corsOrigin string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inboxdigest HTTP server",
		Long: `Start the HTTP server that backs the inboxdigest frontend.

Routes:
  GET  /api/auth/google             Start Google sign-in
  GET  /api/auth/google/callback    OAuth redirect target
  GET  /api/auth/logout             End the session
  GET  /api/user                    Current sign-in state
  GET  /api/gmail/emails            List recent messages
  POST /api/gmail/summarize         Summarize one message
  POST /api/gmail/summarize-batch   Summarize several messages
  GET  /healthz, /readyz            Health checks
  *    /mcp                         MCP tools (with --enable-mcp)

Required configuration:
  --google-client-id / GOOGLE_CLIENT_ID
  --google-client-secret / GOOGLE_CLIENT_SECRET
  --gemini-api-key / GEMINI_API_KEY
  --session-secret / SESSION_SECRET

Every flag can also be set through the environment variable named in its
help text. A .env file in the working directory is loaded first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load .env file: %w", err)
			}

			if err := loadServeEnvVars(cmd, &cfg, &corsOrigin); err != nil {
				return err
			}
			cfg.CORSAllowedOrigins = parseCommaSeparatedList(corsOrigin)

			if err := cfg.validate(); err != nil {
				return err
			}

			return runServe(cfg)
		},
	}

	bindServeFlags(cmd, &cfg, &corsOrigin)

	return cmd
}

// bindServeFlags registers the serve flags on cmd, writing into cfg.
func bindServeFlags(cmd *cobra.Command, cfg *ServeConfig, corsOrigins *string) {
	flags := cmd.Flags()

	flags.IntVar(&cfg.Port, "port", defaultPort, "HTTP listen port. Can also use PORT env var.")
	flags.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flags.StringVar(&cfg.LogFormat, "log-format", logging.FormatText, "Log format: text or json. Can also use LOG_FORMAT env var.")

	flags.StringVar(&cfg.GoogleClientID, "google-client-id", "", "Google OAuth Client ID. Can also use GOOGLE_CLIENT_ID env var.")
	flags.StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "Google OAuth Client Secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	flags.StringVar(&cfg.RedirectURI, "redirect-uri", defaultRedirectURI, "OAuth redirect URI registered with Google. Its origin is the public base URL. Can also use GOOGLE_REDIRECT_URI env var.")

	flags.StringVar(&cfg.GeminiAPIKey, "gemini-api-key", "", "Gemini API key. Can also use GEMINI_API_KEY env var.")
	flags.StringVar(&cfg.GeminiModel, "gemini-model", gemini.DefaultModel, "Gemini model name. Can also use GEMINI_MODEL env var.")
	flags.DurationVar(&cfg.GenerationTimeout, "generation-timeout", 60*time.Second, "Timeout for a single Gemini call (0 disables). Can also use GENERATION_TIMEOUT env var.")
	flags.IntVar(&cfg.BatchConcurrency, "batch-concurrency", 1, "Messages processed in parallel per batch request (1 is sequential). Can also use BATCH_CONCURRENCY env var.")

	flags.StringVar(&cfg.SessionSecret, "session-secret", "", "Secret used to sign session cookies. Can also use SESSION_SECRET env var.")
	flags.StringVar(&cfg.SessionStore.Type, "session-store", sessionStoreMemory, "Session storage type: memory or valkey. Can also use SESSION_STORE env var.")
	flags.StringVar(&cfg.SessionStore.EncryptionKey, "session-encryption-key", "", "AES-256 key for sessions at rest (32 bytes, base64 encoded). Can also use SESSION_ENCRYPTION_KEY env var. Generate with: inboxdigest generate-key")
	flags.StringVar(&cfg.SessionStore.Valkey.URL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	flags.StringVar(&cfg.SessionStore.Valkey.Password, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	flags.BoolVar(&cfg.SessionStore.Valkey.TLSEnabled, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	flags.StringVar(&cfg.SessionStore.Valkey.KeyPrefix, "valkey-key-prefix", session.DefaultKeyPrefix, "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	flags.IntVar(&cfg.SessionStore.Valkey.DB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")

	flags.StringVar(corsOrigins, "cors-allowed-origins", "", "Comma-separated list of allowed CORS origins. Empty allows any origin. Can also use CORS_ALLOWED_ORIGINS env var.")
	flags.BoolVar(&cfg.EnableMCP, "enable-mcp", false, "Expose the digest operations as MCP tools at /mcp. Can also use ENABLE_MCP env var.")

	// Metrics server flags
	flags.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	flags.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// loadServeEnvVars fills cfg from the environment.
// Environment variables only override flag values when the flag was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig, corsOrigins *string) error {
	flags := cmd.Flags()

	envString := func(flag, env string, dst *string) {
		if flags.Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	envBool := func(flag, env string, dst *bool) error {
		if flags.Changed(flag) {
			return nil
		}
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = b
		return nil
	}
	envInt := func(flag, env string, dst *int) error {
		if flags.Changed(flag) {
			return nil
		}
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = n
		return nil
	}

	envString("log-format", "LOG_FORMAT", &cfg.LogFormat)
	envString("google-client-id", "GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	envString("google-client-secret", "GOOGLE_CLIENT_SECRET", &cfg.GoogleClientSecret)
	envString("redirect-uri", "GOOGLE_REDIRECT_URI", &cfg.RedirectURI)
	envString("gemini-api-key", "GEMINI_API_KEY", &cfg.GeminiAPIKey)
	envString("gemini-model", "GEMINI_MODEL", &cfg.GeminiModel)
	envString("session-secret", "SESSION_SECRET", &cfg.SessionSecret)
	envString("session-store", "SESSION_STORE", &cfg.SessionStore.Type)
	envString("session-encryption-key", "SESSION_ENCRYPTION_KEY", &cfg.SessionStore.EncryptionKey)
	envString("valkey-url", "VALKEY_URL", &cfg.SessionStore.Valkey.URL)
	envString("valkey-password", "VALKEY_PASSWORD", &cfg.SessionStore.Valkey.Password)
	envString("valkey-key-prefix", "VALKEY_KEY_PREFIX", &cfg.SessionStore.Valkey.KeyPrefix)
	envString("cors-allowed-origins", "CORS_ALLOWED_ORIGINS", corsOrigins)
	envString("metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)

	if !flags.Changed("generation-timeout") {
		if v := os.Getenv("GENERATION_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid GENERATION_TIMEOUT %q: %w", v, err)
			}
			cfg.GenerationTimeout = d
		}
	}

	return errors.Join(
		envInt("port", "PORT", &cfg.Port),
		envInt("batch-concurrency", "BATCH_CONCURRENCY", &cfg.BatchConcurrency),
		envInt("valkey-db", "VALKEY_DB", &cfg.SessionStore.Valkey.DB),
		envBool("valkey-tls", "VALKEY_TLS_ENABLED", &cfg.SessionStore.Valkey.TLSEnabled),
		envBool("enable-mcp", "ENABLE_MCP", &cfg.EnableMCP),
		envBool("metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled),
	)
}

func (c *ServeConfig) validate() error {
	var errs []error
	require := func(value, flag, env string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("--%s or %s is required", flag, env))
		}
	}
	require(c.GoogleClientID, "google-client-id", "GOOGLE_CLIENT_ID")
	require(c.GoogleClientSecret, "google-client-secret", "GOOGLE_CLIENT_SECRET")
	require(c.GeminiAPIKey, "gemini-api-key", "GEMINI_API_KEY")
	require(c.SessionSecret, "session-secret", "SESSION_SECRET")

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	switch c.SessionStore.Type {
	case sessionStoreMemory:
	case sessionStoreValkey:
		require(c.SessionStore.Valkey.URL, "valkey-url", "VALKEY_URL")
	default:
		errs = append(errs, fmt.Errorf("unsupported session store %q (supported: memory, valkey)", c.SessionStore.Type))
	}

	if _, err := session.KeyFromBase64(c.SessionStore.EncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("invalid session encryption key: %w", err))
	}

	return errors.Join(errs...)
}

func runServe(cfg ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	if err := instrConfig.Validate(); err != nil {
		return fmt.Errorf("invalid instrumentation config: %w", err)
	}

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		// shutdownCtx is already cancelled at this point
		flushCtx, flushCancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer flushCancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Error("Error during instrumentation shutdown", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		metricsServer, err = startMetricsServer(cfg.Metrics.Addr, provider, logger)
		if err != nil {
			return err
		}
	}

	baseURL, err := server.BaseURLFromRedirect(cfg.RedirectURI)
	if err != nil {
		return err
	}

	authenticator, err := google.NewAuthenticator(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Metrics:      metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create Google authenticator: %w", err)
	}

	geminiClient, err := gemini.NewClient(shutdownCtx, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GenerationTimeout,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	digestService, err := digest.NewService(digest.Config{
		Mailboxes: func(ctx context.Context, ts oauth2.TokenSource) (digest.Mailbox, error) {
			client, err := gmail.NewClient(ctx, ts, metrics)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Generator:        geminiClient,
		BatchConcurrency: cfg.BatchConcurrency,
		Logger:           logger,
		Metrics:          metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create digest service: %w", err)
	}

	store, err := newSessionStore(cfg.SessionStore, logger, metrics)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.ManagerConfig{
		Store:   store,
		Secret:  cfg.SessionSecret,
		Secure:  server.SecureCookies(baseURL),
		TTL:     session.DefaultTTL,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	serverContext, err := server.NewServerContext(shutdownCtx, server.ServerContextConfig{
		Digest:        digestService,
		Sessions:      sessions,
		Authenticator: authenticator,
		Generator:     geminiClient,
		Logger:        logger,
		Metrics:       metrics,
		AuditLogger:   instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create server context: %w", err)
	}

	var mcpSrv *mcpserver.MCPServer
	if cfg.EnableMCP {
		mcpSrv = mcpserver.NewMCPServer("inboxdigest", version,
			mcpserver.WithToolCapabilities(true),
		)
		if err := digest_tools.RegisterDigestTools(mcpSrv, serverContext); err != nil {
			_ = serverContext.Shutdown()
			return fmt.Errorf("failed to register digest tools: %w", err)
		}
	}

	httpServer, err := server.NewHTTPServer(serverContext, server.HTTPConfig{
		BaseURL:        baseURL,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MCPServer:      mcpSrv,
	})
	if err != nil {
		_ = serverContext.Shutdown()
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("inboxdigest starting",
		"version", version,
		"addr", addr,
		"base_url", baseURL,
		"session_store", cfg.SessionStore.Type,
		"gemini_model", geminiClient.Model(),
		"batch_concurrency", cfg.BatchConcurrency,
		"mcp", cfg.EnableMCP)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	var runErr error
	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received, stopping HTTP server")
	case err := <-serverDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()

	var shutdownErrs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("error shutting down HTTP server: %w", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			shutdownErrs = append(shutdownErrs, fmt.Errorf("error shutting down metrics server: %w", err))
		}
	}
	if err := serverContext.Shutdown(); err != nil {
		shutdownErrs = append(shutdownErrs, fmt.Errorf("error shutting down server context: %w", err))
	}

	if err := errors.Join(append([]error{runErr}, shutdownErrs...)...); err != nil {
		return err
	}
	logger.Info("HTTP server gracefully stopped")
	return nil
}

func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    addr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	// Use ready channel to confirm metrics server started successfully
	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	// Wait for metrics server to be ready or fail
	select {
	case <-metricsReady:
		logger.Info("Metrics server started", "addr", metricsServer.Addr())
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}

// newSessionStore builds the configured session backend.
func newSessionStore(cfg SessionStoreConfig, logger *slog.Logger, metrics *instrumentation.Metrics) (session.Store, error) {
	key, err := session.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid session encryption key: %w", err)
	}

	onExpire := func(n int) {
		for range n {
			metrics.DecrementActiveSessions(context.Background())
		}
	}

	switch cfg.Type {
	case sessionStoreValkey:
		if key == nil {
			logger.Warn("Valkey session store without encryption key; tokens are stored in plaintext")
		}
		store, err := session.NewValkeyStore(session.ValkeyConfig{
			URL:           cfg.Valkey.URL,
			Password:      cfg.Valkey.Password,
			DB:            cfg.Valkey.DB,
			TLSEnabled:    cfg.Valkey.TLSEnabled,
			KeyPrefix:     cfg.Valkey.KeyPrefix,
			TTL:           session.DefaultTTL,
			EncryptionKey: key,
			OnExpire:      onExpire,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey session store: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(session.DefaultTTL, logger, onExpire), nil
	}
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
