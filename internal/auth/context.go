package auth

import "context"

type principalKey struct{}

// WithClaims stores the verified caller on the context.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, principalKey{}, claims)
}

// ClaimsFromContext returns the verified caller, if any.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	claims, ok := ctx.Value(principalKey{}).(Claims)
	return claims, ok && claims.UserID != ""
}

// UserIDFromContext returns the verified caller's user id or "".
func UserIDFromContext(ctx context.Context) string {
	claims, _ := ClaimsFromContext(ctx)
	return claims.UserID
}
