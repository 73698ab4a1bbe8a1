package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/inboxdigest/internal/logging"
)

// Authentication events recorded by AuditLogger.LogAuthEvent.
const (
	AuthEventLogin       = "login"
	AuthEventLoginFailed = "login_failed"
	AuthEventLogout      = "logout"
)

// ToolInvocation captures a single MCP tool call for audit logging.
//
// UserEmail is PII. LogAttrs only emits the domain; LogAuditAttrs emits the
// full address and must be routed to an access-controlled log stream.
type ToolInvocation struct {
	Tool      string
	UserEmail string

	ServiceName string // upstream service (gmail, gemini)
	Operation   string // list, get, generate

	// Items is the number of emails the call touched, if known.
	Items int

	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	TraceID string
	SpanID  string
}

// UserDomain returns the domain portion of the user's email for lower-cardinality logging.
func (ti *ToolInvocation) UserDomain() string {
	return ExtractUserDomain(ti.UserEmail)
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

func (ti *ToolInvocation) optionalAttrs(attrs []slog.Attr) []slog.Attr {
	if ti.ServiceName != "" {
		attrs = append(attrs, logging.Service(ti.ServiceName))
	}
	if ti.Operation != "" {
		attrs = append(attrs, logging.Operation(ti.Operation))
	}
	if ti.Items > 0 {
		attrs = append(attrs, slog.Int("items", ti.Items))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	return attrs
}

// LogAttrs returns slog attributes with cardinality-controlled values
// (user_domain instead of the address).
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.Tool(ti.Tool),
		slog.String("user_domain", ti.UserDomain()),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}

	attrs = ti.optionalAttrs(attrs)
	if ti.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ti.Error))
	}
	return attrs
}

// LogAuditAttrs returns slog attributes for full audit logging,
// including the full user email.
func (ti *ToolInvocation) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		logging.Tool(ti.Tool),
		slog.String("user", ti.UserEmail),
		slog.Duration(logging.KeyDuration, ti.Duration),
		slog.Bool("success", ti.Success),
	}

	attrs = ti.optionalAttrs(attrs)
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, ti.Error))
	}
	return attrs
}

// NewToolInvocation creates a new ToolInvocation with timing started.
// Call Complete() when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity information.
func (ti *ToolInvocation) WithUser(email string) *ToolInvocation {
	ti.UserEmail = email
	return ti
}

// WithService sets the upstream service and operation.
func (ti *ToolInvocation) WithService(serviceName, operation string) *ToolInvocation {
	ti.ServiceName = serviceName
	ti.Operation = operation
	return ti
}

// WithItems sets the number of emails touched by the call.
func (ti *ToolInvocation) WithItems(n int) *ToolInvocation {
	ti.Items = n
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = GetTraceID(ctx)
	ti.SpanID = GetSpanID(ctx)
	return ti
}

// Complete marks the invocation as completed and calculates duration.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// AuditLogger writes audit records for tool invocations and sign-in events.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with PII excluded.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

func toArgs(attrs []slog.Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}

// LogToolInvocation logs a tool invocation. Full user emails are only
// included when the logger is configured with IncludePII.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = ti.LogAuditAttrs()
	} else {
		attrs = ti.LogAttrs()
	}

	if ti.Success {
		al.logger.Info("tool_executed", toArgs(attrs)...)
	} else {
		al.logger.Warn("tool_failed", toArgs(attrs)...)
	}
}

// LogAuthEvent records a sign-in, failed sign-in or sign-out. The user is
// identified by a hash unless PII logging is enabled.
func (al *AuditLogger) LogAuthEvent(ctx context.Context, event, email string, err error) {
	if al == nil || !al.enabled {
		return
	}

	attrs := []slog.Attr{slog.String("event", event)}
	if email != "" {
		if al.includePII {
			attrs = append(attrs, slog.String("user", email))
		} else {
			attrs = append(attrs, logging.UserHash(email), logging.Domain(email))
		}
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID), slog.String("span_id", GetSpanID(ctx)))
	}
	if err != nil {
		attrs = append(attrs, logging.Err(err))
		al.logger.Warn("auth_audit", toArgs(attrs)...)
		return
	}
	al.logger.Info("auth_audit", toArgs(attrs)...)
}
