package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

type fakeInstrumentation struct {
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
}

func (f fakeInstrumentation) Metrics() *instrumentation.Metrics         { return f.metrics }
func (f fakeInstrumentation) AuditLogger() *instrumentation.AuditLogger { return f.audit }

func newAuditBuffer() (*instrumentation.AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return instrumentation.NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestInstrumentedToolHandler_Success(t *testing.T) {
	called := false
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("success"), nil
	}

	wrapped := InstrumentedToolHandler("test_tool", fakeInstrumentation{}, handler)
	result, err := wrapped(context.Background(), mcp.CallToolRequest{})

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
	if result == nil {
		t.Error("expected result, got nil")
	}
}

func TestInstrumentedToolHandler_Error(t *testing.T) {
	expectedErr := errors.New("test error")
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, expectedErr
	}

	audit, buf := newAuditBuffer()
	wrapped := InstrumentedToolHandler("test_tool", fakeInstrumentation{audit: audit}, handler)
	_, err := wrapped(context.Background(), mcp.CallToolRequest{})

	if err != expectedErr {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if !strings.Contains(buf.String(), "success=false") {
		t.Errorf("audit log should record failure, got %q", buf.String())
	}
}

func TestInstrumentedToolHandler_ToolResultError(t *testing.T) {
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("emailId is required"), nil
	}

	audit, buf := newAuditBuffer()
	wrapped := InstrumentedToolHandler("test_tool", fakeInstrumentation{audit: audit}, handler)
	result, err := wrapped(context.Background(), mcp.CallToolRequest{})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.IsError {
		t.Error("expected error result to pass through")
	}
	if !strings.Contains(buf.String(), "success=false") {
		t.Errorf("audit log should record failure, got %q", buf.String())
	}
}

func TestInstrumentedToolHandlerWithService_AuditRecord(t *testing.T) {
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}

	audit, buf := newAuditBuffer()
	wrapped := InstrumentedToolHandlerWithService("gmail_summarize_batch", "gemini", "generate",
		fakeInstrumentation{audit: audit}, handler)

	ctx := instrumentation.WithUserEmail(context.Background(), "ada@example.com")
	if _, err := wrapped(ctx, callRequest(map[string]any{"emailIds": []any{"a", "b", "c"}})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"tool=gmail_summarize_batch", "service=gemini", "operation=generate", "items=3", "user_domain=example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %q: %s", want, out)
		}
	}
	if strings.Contains(out, "ada@example.com") {
		t.Errorf("audit log must not contain the raw email: %s", out)
	}
}

func TestInstrumentedToolHandler_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: instrumentation.ExporterPrometheus,
		TracingExporter: instrumentation.ExporterNone,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}
	wrapped := InstrumentedToolHandler("gmail_list_emails", fakeInstrumentation{metrics: provider.Metrics()}, handler)

	if _, err := wrapped(ctx, mcp.CallToolRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCountEmailIDs(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{name: "nil args", args: nil, want: 0},
		{name: "single id", args: map[string]any{"emailId": "a"}, want: 1},
		{name: "empty single id", args: map[string]any{"emailId": ""}, want: 0},
		{name: "array", args: map[string]any{"emailIds": []any{"a", "b"}}, want: 2},
		{name: "json string array", args: map[string]any{"emailIds": `["a","b","c"]`}, want: 3},
		{name: "comma-free string", args: map[string]any{"emailIds": "a"}, want: 1},
		{name: "invalid array", args: map[string]any{"emailIds": []any{1}}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountEmailIDs(tt.args); got != tt.want {
				t.Errorf("CountEmailIDs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInstrumentedToolHandler_RegistersWithServer(t *testing.T) {
	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	}

	s := mcpserver.NewMCPServer("test", "1.0.0")
	s.AddTool(mcp.NewTool("test_tool"), InstrumentedToolHandler("test_tool", fakeInstrumentation{}, handler))

	registered := s.GetTool("test_tool")
	if registered == nil {
		t.Fatal("expected tool to be registered")
	}
	result, err := registered.Handler(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result == nil || result.IsError {
		t.Errorf("expected successful result, got %+v", result)
	}
}
