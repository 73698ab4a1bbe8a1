package instrumentation

import "context"

type userEmailKey struct{}

// WithUserEmail returns a context carrying the signed-in user's email for
// metric labels and audit records.
func WithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey{}, email)
}

// UserEmailFromContext returns the email stored by WithUserEmail, or "".
func UserEmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(userEmailKey{}).(string)
	return email
}
