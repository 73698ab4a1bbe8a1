package session

import (
	"context"

	"golang.org/x/oauth2"
)

type sessionKey struct{}

type tokenSourceKey struct{}

// NewContext returns a context carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// WithTokenSource returns a context carrying the user's token source.
func WithTokenSource(ctx context.Context, ts oauth2.TokenSource) context.Context {
	return context.WithValue(ctx, tokenSourceKey{}, ts)
}

// TokenSourceFromContext returns the token source stored by WithTokenSource.
func TokenSourceFromContext(ctx context.Context) (oauth2.TokenSource, bool) {
	ts, ok := ctx.Value(tokenSourceKey{}).(oauth2.TokenSource)
	return ts, ok && ts != nil
}
