package instrumentation

import "strings"

// ExtractUserDomain extracts the domain part from an email address.
// Metrics and non-audit logs use the domain instead of the full address.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}

// Operation types for upstream API metrics.
const (
	OperationList     = "list"
	OperationGet      = "get"
	OperationGenerate = "generate"
	OperationExchange = "exchange"
)
