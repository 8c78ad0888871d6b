// Package handler exposes the KYC lifecycle over HTTP. Public routes accept
// submissions and resubmissions; /admin routes require an admin bearer token whose
// subject becomes performedBy.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	"kycvault/internal/kyc/service"
	"kycvault/internal/kyc/validation"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/httputil"
	"kycvault/pkg/platform/middleware/auth"
	"kycvault/pkg/requestcontext"
)

const (
	// MaxBulkRecords caps one bulk decision request. Keep in step with the max tag on
	// bulkDecisionRequest.RecordIDs.
	MaxBulkRecords = 500

	defaultMaxBodyBytes int64 = 32 << 20
	smallBodyBytes      int64 = 64 << 10
)

// Service defines the lifecycle operations the handler exposes.
type Service interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Record, error)
	Get(ctx context.Context, id models.RecordID) (*models.Record, error)
	List(ctx context.Context, filter models.ListFilter) (*models.Page, error)
	History(ctx context.Context, id models.RecordID, action audit.Action) ([]*audit.Entry, error)
	Decide(ctx context.Context, id models.RecordID, decision models.Decision, performedBy, remarks string) (*models.Record, error)
	BulkDecide(ctx context.Context, ids []models.RecordID, decision models.Decision, performedBy, remarks string) map[models.RecordID]service.BulkResult
	Amend(ctx context.Context, id models.RecordID, patch models.FieldPatch, performedBy string) (*models.Record, error)
	Resubmit(ctx context.Context, id models.RecordID, uploads []models.DocumentUpload) (*models.Record, error)
	Reconcile(ctx context.Context, id models.RecordID) (*models.Record, bool, error)
}

type Handler struct {
	service      Service
	validator    *auth.Validator
	logger       *slog.Logger
	maxBodyBytes int64
}

// New creates a KYC handler. maxBodyBytes bounds submission bodies, which carry
// base64 document content; zero selects 32 MiB.
func New(svc Service, validator *auth.Validator, logger *slog.Logger, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{service: svc, validator: validator, logger: logger, maxBodyBytes: maxBodyBytes}
}

// Register registers the KYC routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(h.validator))
		r.Post("/kyc/records", h.handleSubmit)
		r.Post("/kyc/records/{id}/resubmit", h.handleResubmit)
	})

	r.Route("/admin/kyc/records", func(r chi.Router) {
		r.Use(auth.RequireAdmin(h.validator, h.logger))
		r.Get("/", h.handleList)
		r.Post("/bulk-decision", h.handleBulkDecision)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}", h.handleAmend)
		r.Get("/{id}/history", h.handleHistory)
		r.Post("/{id}/decision", h.handleDecision)
		r.Post("/{id}/reconcile", h.handleReconcile)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req submitRequest
	if err := httputil.DecodeJSON(r, &req, h.maxBodyBytes); err != nil {
		h.fail(ctx, w, "submit", err)
		return
	}
	owner := requestcontext.Actor(ctx)
	record, err := h.service.Submit(ctx, req.toService(owner))
	if err != nil {
		h.fail(ctx, w, "submit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRecordResponse(record))
}

func (h *Handler) handleResubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resubmitRequest
	if err := httputil.DecodeJSON(r, &req, h.maxBodyBytes); err != nil {
		h.fail(ctx, w, "resubmit", err)
		return
	}
	record, err := h.service.Resubmit(ctx, recordID(r), toUploads(req.Documents))
	if err != nil {
		h.fail(ctx, w, "resubmit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseListFilter(r)
	if err != nil {
		h.fail(ctx, w, "list", err)
		return
	}
	page, err := h.service.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "list", err)
		return
	}
	resp := pageResponse{
		Records:  make([]recordResponse, 0, len(page.Records)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, rec := range page.Records {
		resp.Records = append(resp.Records, toRecordResponse(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, err := h.service.Get(ctx, recordID(r))
	if err != nil {
		h.fail(ctx, w, "get", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := audit.Action(r.URL.Query().Get("action"))
	entries, err := h.service.History(ctx, recordID(r), action)
	if err != nil {
		h.fail(ctx, w, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": toEntryResponses(entries)})
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req decisionRequest
	if err := httputil.DecodeJSON(r, &req, smallBodyBytes); err != nil {
		h.fail(ctx, w, "decide", err)
		return
	}
	record, err := h.service.Decide(ctx, recordID(r), models.Decision(req.Decision), requestcontext.Actor(ctx), req.Remarks)
	if err != nil {
		h.fail(ctx, w, "decide", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleBulkDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bulkDecisionRequest
	if err := httputil.DecodeJSON(r, &req, smallBodyBytes); err != nil {
		h.fail(ctx, w, "bulk_decide", err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.fail(ctx, w, "bulk_decide", err)
		return
	}
	ids := make([]models.RecordID, 0, len(req.RecordIDs))
	for _, id := range req.RecordIDs {
		ids = append(ids, models.RecordID(id))
	}
	results := h.service.BulkDecide(ctx, ids, models.Decision(req.Decision), requestcontext.Actor(ctx), req.Remarks)
	httputil.WriteJSON(w, http.StatusOK, toBulkResponse(results))
}

func (h *Handler) handleAmend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req amendRequest
	if err := httputil.DecodeJSON(r, &req, smallBodyBytes); err != nil {
		h.fail(ctx, w, "amend", err)
		return
	}
	record, err := h.service.Amend(ctx, recordID(r), req.toPatch(), requestcontext.Actor(ctx))
	if err != nil {
		h.fail(ctx, w, "amend", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	record, changed, err := h.service.Reconcile(ctx, recordID(r))
	if err != nil {
		h.fail(ctx, w, "reconcile", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reconcileResponse{Changed: changed, Record: toRecordResponse(record)})
}

// fail logs at warn for caller mistakes and at error for everything else, then
// writes the error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := httputil.StatusFor(dErrors.CodeOf(err))
	attrs := []any{
		"operation", op,
		"code", dErrors.CodeOf(err),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "kyc request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "kyc request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}

func recordID(r *http.Request) models.RecordID {
	return models.RecordID(chi.URLParam(r, "id"))
}

func parseListFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	filter := models.ListFilter{
		Status:     models.Status(q.Get("status")),
		SearchText: q.Get("search"),
		SortBy:     models.SortField(q.Get("sortBy")),
		SortOrder:  models.SortOrder(q.Get("sortOrder")),
	}
	var err error
	if filter.Page, err = intParam(q.Get("page")); err != nil {
		return filter, dErrors.New(dErrors.CodeBadRequest, "page must be an integer")
	}
	if filter.PageSize, err = intParam(q.Get("pageSize")); err != nil {
		return filter, dErrors.New(dErrors.CodeBadRequest, "pageSize must be an integer")
	}
	return filter, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
