package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod     = "method"
	attrPath       = "path"
	attrStatus     = "status"
	attrOperation  = "operation"
	attrService    = "service"
	attrResult     = "result"
	attrTool       = "tool"
	attrKind       = "kind"
	attrUserDomain = "user_domain"
)

// Metrics provides methods for recording observability metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Upstream API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthAuthTotal         metric.Int64Counter
	oauthTokenRefreshTotal metric.Int64Counter

	// Summarization metrics
	summariesTotal  metric.Int64Counter
	batchItemsTotal metric.Int64Counter

	// MCP Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.oauthAuthTotal, err = meter.Int64Counter(
		"oauth_auth_total",
		metric.WithDescription("Total number of OAuth authentication attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_auth_total counter: %w", err)
	}

	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.summariesTotal, err = meter.Int64Counter(
		"summaries_total",
		metric.WithDescription("Total number of summarization requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create summaries_total counter: %w", err)
	}

	m.batchItemsTotal, err = meter.Int64Counter(
		"batch_items_total",
		metric.WithDescription("Total number of emails processed by batch summarization"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch_items_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
// path should be the route pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordGoogleAPIOperation records an upstream API call.
//
// Parameters:
//   - service: upstream service name (gmail, gemini, userinfo)
//   - operation: operation type (list, get, generate)
//   - status: "success" or "error"
//   - duration: time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthAuth records an OAuth authentication attempt with result.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordOAuthAuth(ctx context.Context, result string) {
	if m == nil || m.oauthAuthTotal == nil {
		return
	}

	m.oauthAuthTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure", "expired"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordSummary records a summarization request of the given kind ("single" or "batch").
// The user's email domain is attached only when detailed labels are enabled.
func (m *Metrics) RecordSummary(ctx context.Context, kind, status, userEmail string) {
	if m == nil || m.summariesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrKind, kind),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && userEmail != "" {
		attrs = append(attrs, attribute.String(attrUserDomain, ExtractUserDomain(userEmail)))
	}

	m.summariesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBatchItem records the outcome of one email inside a batch.
func (m *Metrics) RecordBatchItem(ctx context.Context, status string) {
	if m == nil || m.batchItemsTotal == nil {
		return
	}

	m.batchItemsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordToolInvocation records an MCP tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}

	m.activeSessions.Add(ctx, -1)
}
