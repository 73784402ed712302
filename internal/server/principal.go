package server

import (
	"context"
	"net/http"
)

// principalKey is the context key for the caller's opaque principal ID.
type principalKey struct{}

// PrincipalHeader names the header carrying the caller's identity. The engine
// treats it as an opaque owner tag; authenticating it is the deployment's
// concern.
const PrincipalHeader = "X-Principal-ID"

// PrincipalMiddleware lifts the principal header into the request context.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := r.Header.Get(PrincipalHeader); p != "" {
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			AddLogField(ctx, "principal", p)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal returns the caller's principal ID, or empty when anonymous.
func GetPrincipal(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok {
		return p
	}
	return ""
}
