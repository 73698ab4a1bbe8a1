// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for the inboxdigest server.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route pattern and status
//   - http_request_duration_seconds: request latency histogram
//   - active_sessions: signed-in browser sessions
//
// Upstream calls (Gmail, Gemini, userinfo):
//   - google_api_operations_total: calls by service, operation and status
//   - google_api_operation_duration_seconds: call latency histogram
//
// OAuth:
//   - oauth_auth_total: sign-in attempts by result
//   - oauth_token_refresh_total: access token refreshes by result
//
// Summaries:
//   - summaries_total: summarize requests by kind (single, batch) and status
//   - batch_items_total: per-email outcomes inside batch requests
//
// MCP tools:
//   - mcp_tool_invocations_total: tool calls by tool name and status
//   - mcp_tool_duration_seconds: tool latency histogram
//
// # Tracing
//
// Spans are created for MCP tool invocations (tool.<name>) and for upstream
// calls (google.<service>.<operation>).
//
// # Configuration
//
// DefaultConfig reads:
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: inboxdigest)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	metrics := provider.Metrics()
//	metrics.RecordSummary(ctx, instrumentation.SummaryKindSingle, instrumentation.StatusSuccess, "")
package instrumentation
