package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/inboxdigest/internal/instrumentation"
)

// ToolHandler is the signature of an MCP tool handler. It is an alias so
// wrapped handlers can be passed straight to server.MCPServer.AddTool.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Instrumentation supplies the optional metrics and audit sinks.
// *server.ServerContext implements it.
type Instrumentation interface {
	Metrics() *instrumentation.Metrics
	AuditLogger() *instrumentation.AuditLogger
}

// InstrumentedToolHandler wraps a tool handler with a span, metrics and
// audit logging.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", sc, handler))
func InstrumentedToolHandler(toolName string, inst Instrumentation, handler ToolHandler) ToolHandler {
	return InstrumentedToolHandlerWithService(toolName, "", "", inst, handler)
}

// InstrumentedToolHandlerWithService is like InstrumentedToolHandler but also
// records the upstream service and operation in the audit record.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandlerWithService("my_tool", "gmail", "list", sc, handler))
func InstrumentedToolHandlerWithService(toolName, serviceName, operation string, inst Instrumentation, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		metrics := inst.Metrics()
		auditLogger := inst.AuditLogger()

		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		defer span.End()

		start := time.Now()
		invocation := instrumentation.NewToolInvocation(toolName).
			WithSpanContext(ctx).
			WithUser(instrumentation.UserEmailFromContext(ctx))
		if serviceName != "" {
			invocation.WithService(serviceName, operation)
		}
		if n := CountEmailIDs(request.GetArguments()); n > 0 {
			invocation.WithItems(n)
		}

		result, err := handler(ctx, request)
		duration := time.Since(start)

		switch {
		case err != nil:
			invocation.CompleteWithError(err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			invocation.Complete(false, nil)
		default:
			invocation.CompleteSuccess()
			instrumentation.SetSpanSuccess(span)
		}

		metrics.RecordToolInvocation(ctx, toolName, invocation.Status(), duration)
		auditLogger.LogToolInvocation(invocation)

		return result, err
	}
}
