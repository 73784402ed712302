package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds each API request with a deadline. Cancellation is
// cooperative: handlers see it through the request context, which is how a
// stalled store or adapter call gets cut short. The SSE stream route is
// mounted outside this middleware since its connections outlive any API
// deadline.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
