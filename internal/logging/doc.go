// Package logging provides structured logging utilities for the inboxdigest service.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "digest.summarize_batch")
//	logger.Warn("item failed",
//	    logging.EmailID(id),
//	    logging.Err(err))
//
// Sanitize sensitive data before logging:
//
//	logger.Info("user signed in",
//	    logging.UserHash(email))
//
// # Security Considerations
//
//   - User emails are hashed to prevent PII leakage while allowing correlation
//   - Tokens are never logged directly
package logging
