package gate

import "context"

type contextKey struct{}

// NewContext returns a copy of ctx carrying the token claims.
func NewContext(ctx context.Context, claims map[string]interface{}) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the claims of the authenticated caller. Claims
// from fallback mode are NOT cryptographically verified.
func ClaimsFromContext(ctx context.Context) (map[string]interface{}, bool) {
	claims, ok := ctx.Value(contextKey{}).(map[string]interface{})
	return claims, ok
}
