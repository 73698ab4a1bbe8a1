// Package gemini wraps the Gemini generateContent API as a plain
// prompt-in, text-out client.
//
// Each call is traced, counted in the upstream API metrics, optionally bounded
// by a per-call timeout, and executed through a circuit breaker. Client-side
// API errors (400, 401, 403, 404) and caller cancellation do not count
// against the breaker.
package gemini
