// Package server exposes inboxdigest over HTTP.
//
// # Key Components
//
// ServerContext holds the shared dependencies: the digest service, the
// session manager and the Google authenticator. It keeps no per-user state;
// each authenticated request carries its session and token source in its
// context.
//
// HTTPServer serves:
//   - the OAuth sign-in flow under /api/auth
//   - the JSON email API under /api/gmail, behind session authentication
//   - health probes (/healthz, /readyz, /healthz/detailed)
//   - an optional MCP streamable HTTP endpoint on /mcp
//
// MetricsServer exposes Prometheus metrics on a separate listener.
//
// # Security
//
//   - HTTPS required outside local development (localhost exempt)
//   - signed HttpOnly session cookies and a signed OAuth state cookie
//   - upstream error detail is logged, never returned to clients
//   - audit log lines for sign-in, failed sign-in and sign-out
package server
