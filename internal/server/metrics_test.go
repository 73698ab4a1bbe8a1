package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

func TestNewMetricsServer(t *testing.T) {
	tests := []struct {
		name        string
		config      MetricsServerConfig
		expectError bool
		errContains string
	}{
		{
			name: "valid config",
			config: MetricsServerConfig{
				Addr:                    ":9090",
				InstrumentationProvider: createTestProvider(t),
			},
		},
		{
			name: "default addr",
			config: MetricsServerConfig{
				InstrumentationProvider: createTestProvider(t),
			},
		},
		{
			name: "nil provider",
			config: MetricsServerConfig{
				Addr: ":9090",
			},
			expectError: true,
			errContains: "instrumentation provider is required",
		},
		{
			name: "disabled provider",
			config: MetricsServerConfig{
				Addr:                    ":9090",
				InstrumentationProvider: createDisabledProvider(t),
			},
			expectError: true,
			errContains: "instrumentation provider is not enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewMetricsServer(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("NewMetricsServer() expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("NewMetricsServer() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("NewMetricsServer() unexpected error: %v", err)
			}
			if server == nil {
				t.Error("NewMetricsServer() returned nil server")
			}
		})
	}
}

func TestNewMetricsServer_DefaultAddr(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{InstrumentationProvider: createTestProvider(t)})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}
	if server.Addr() != DefaultMetricsAddr {
		t.Errorf("Addr() = %q, want %q", server.Addr(), DefaultMetricsAddr)
	}
}

func TestMetricsServer_StartWithReadySignal(t *testing.T) {
	provider := createTestProvider(t)
	provider.Metrics().RecordSummary(context.Background(), instrumentation.SummaryKindSingle, instrumentation.StatusSuccess, "")

	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "127.0.0.1:0",
		InstrumentationProvider: provider,
	})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}

	ready := make(chan struct{})
	serverErr := make(chan error, 1)
	go func() {
		if err := server.StartWithReadySignal(ready); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ready:
	case err := <-serverErr:
		t.Fatalf("metrics server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not become ready")
	}

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Get("http://" + server.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "summaries_total") {
		t.Errorf("GET /metrics body does not contain summaries_total")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	if err := <-serverErr; err != nil {
		t.Errorf("Server error: %v", err)
	}
}

func TestMetricsServer_StartWithReadySignal_BindError(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    "256.0.0.1:0",
		InstrumentationProvider: createTestProvider(t),
	})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}

	ready := make(chan struct{})
	if err := server.StartWithReadySignal(ready); err == nil {
		t.Fatal("StartWithReadySignal() expected bind error")
	}
	select {
	case <-ready:
		t.Error("ready must not be closed when binding fails")
	default:
	}
}

func TestMetricsServer_ShutdownWithoutStart(t *testing.T) {
	server, err := NewMetricsServer(MetricsServerConfig{
		Addr:                    ":9090",
		InstrumentationProvider: createTestProvider(t),
	})
	if err != nil {
		t.Fatalf("NewMetricsServer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() without Start() error = %v", err)
	}
}

func createTestProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	ctx := context.Background()
	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	if err != nil {
		t.Fatalf("failed to create test provider: %v", err)
	}
	t.Cleanup(func() {
		_ = provider.Shutdown(ctx)
	})
	return provider
}

func createDisabledProvider(t *testing.T) *instrumentation.Provider {
	t.Helper()
	ctx := context.Background()
	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Enabled:        false,
	})
	if err != nil {
		t.Fatalf("failed to create disabled provider: %v", err)
	}
	return provider
}
