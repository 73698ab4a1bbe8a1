// Package session keeps signed-in users' state on the server.
//
// The browser holds only a signed session ID cookie. The session itself,
// including the Google OAuth tokens, lives in a Store: MemoryStore for a
// single replica or ValkeyStore (optionally AES-256-GCM encrypted) when
// sessions must survive restarts or be shared.
//
// Manager also issues and checks the OAuth state cookie that protects the
// callback against CSRF, and wraps stored tokens in a token source that
// persists refreshed access tokens.
package session
