package dashauth

import "context"

type ctxKey string

const (
	ctxKeyToken     ctxKey = "dashauth_token"
	ctxKeyRequestID ctxKey = "dashauth_request_id"
	ctxKeyUser      ctxKey = "dashauth_user"
)

// WithToken pins the bearer token used for backend calls made with ctx.
// It takes precedence over the token store.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyToken, token)
}

// TokenFromContext returns the token pinned by WithToken.
func TokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyToken).(string)
	return v
}

// WithRequestID stores the request ID propagated to the backend.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithUser stores the session user in the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// UserFromContext extracts the session user from the context.
func UserFromContext(ctx context.Context) *User {
	v, _ := ctx.Value(ctxKeyUser).(*User)
	return v
}
