// Package requesttime pins a single "now" per request so a record's updatedAt,
// its verifiedAt, and the audit entry written alongside carry the same instant.
package requesttime

import (
	"net/http"
	"time"

	"kycvault/pkg/requestcontext"
)

// Middleware captures the current UTC time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
