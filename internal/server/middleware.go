package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/teemow/inboxdigest/internal/instrumentation"
	"github.com/teemow/inboxdigest/internal/logging"
	"github.com/teemow/inboxdigest/internal/session"
)

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Flush supports streaming MCP responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// instrumentationMiddleware records request count and latency per route
// pattern. Unmatched paths share one label.
func (s *HTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	metrics := s.sc.Metrics()
	if metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := newResponseWriter(w)

		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Context(), r.Method, route, rw.statusCode, time.Since(start))
	})
}

// requireAuth rejects requests without a valid session before any upstream
// call. Authenticated requests carry the session, a refreshing token source
// and the user's email in their context.
func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sc.Sessions().Load(r)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				s.sc.Logger().Warn("failed to load session", logging.Err(err))
			}
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}

		ctx := r.Context()
		ts := s.sc.Sessions().TokenSource(ctx, s.sc.Authenticator(), sess)
		ctx = session.NewContext(ctx, sess)
		ctx = session.WithTokenSource(ctx, ts)
		ctx = instrumentation.WithUserEmail(ctx, sess.Email())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
