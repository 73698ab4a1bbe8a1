package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation = "operation"
	KeyService   = "service"
	KeyEmailID   = "email_id"
	KeyUserHash  = "user_hash"
	KeyDuration  = "duration"
	KeyError     = "error"
	KeyTool      = "tool"
)

// Status values for consistent logging.
// Note: These are intentionally duplicated from instrumentation package
// to avoid circular dependencies (instrumentation imports logging).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Log output formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger builds the process logger. Unknown formats fall back to text.
func NewLogger(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithOperation returns a logger with the operation attribute set.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(Operation(operation))
}

// WithTool returns a logger with the tool attribute set.
func WithTool(logger *slog.Logger, tool string) *slog.Logger {
	return logger.With(Tool(tool))
}

// WithService returns a logger with the service attribute set.
func WithService(logger *slog.Logger, service string) *slog.Logger {
	return logger.With(Service(service))
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Service returns a slog attribute for the service name.
func Service(svc string) slog.Attr {
	return slog.String(KeyService, svc)
}

// EmailID returns a slog attribute for a provider message ID.
func EmailID(id string) slog.Attr {
	return slog.String(KeyEmailID, id)
}

// Tool returns a slog attribute for the tool name.
func Tool(tool string) slog.Attr {
	return slog.String(KeyTool, tool)
}

// Err returns a slog attribute for an error.
// If err is nil, returns an empty Group attribute that will be omitted from output.
//
// Usage:
//
//	logger.Info("operation", logging.Err(err))  // Safe even if err is nil
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail returns a hashed representation of an email for logging purposes.
// This allows correlation of log entries without exposing PII.
func AnonymizeEmail(email string) string {
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns a slog attribute with the anonymized user email.
//
// Usage:
//
//	logger.Info("signed in", logging.UserHash(profile.PrimaryEmail()))
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}

// SanitizeToken returns a masked version of a token for logging.
// It returns a length indicator without exposing any token content.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}

// ExtractDomain extracts the domain part from an email address.
func ExtractDomain(email string) string {
	if email == "" {
		return ""
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// Domain returns a slog attribute for the email domain (lower cardinality than full email).
func Domain(email string) slog.Attr {
	return slog.String("user_domain", ExtractDomain(email))
}
