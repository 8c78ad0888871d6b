package testutil

import (
	"context"
	"net/http"
	"time"

	"kycvault/pkg/requestcontext"
)

// FixedNow is the instant most service tests pin their clock to.
var FixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// AdminContext returns a context acting as the given admin at FixedNow.
func AdminContext(adminID string) context.Context {
	ctx := requestcontext.WithActor(context.Background(), adminID, "admin")
	return requestcontext.WithTime(ctx, FixedNow)
}

// AtTime pins the request clock of ctx.
func AtTime(ctx context.Context, t time.Time) context.Context {
	return requestcontext.WithTime(ctx, t)
}

// WithActor attaches an authenticated actor to the request, as the auth middleware would.
func WithActor(req *http.Request, actor, role string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor, role))
}
