package verification

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/requestcontext"
)

// Service is the verification operation the handler exposes.
type Service interface {
	VerifyTransaction(ctx context.Context, req Request) (*CheckResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public lookup route. Callers wrap r with rate limiting.
func (h *Handler) Register(r chi.Router) {
	r.Get("/kyc/verify/{ref}", h.handleVerify)
}

// handleVerify serves GET /kyc/verify/{ref}?gov_id=&hashes=h1,h2.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := Request{
		Reference:    chi.URLParam(r, "ref"),
		GovernmentID: r.URL.Query().Get("gov_id"),
	}
	if raw := r.URL.Query().Get("hashes"); raw != "" {
		req.ExpectedHashes = strings.Split(raw, ",")
	}

	res, err := h.service.VerifyTransaction(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
