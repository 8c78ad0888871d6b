// Package audit is the append-only trail of record lifecycle events: who did what,
// when, and with which proof.
package audit

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/requestcontext"
)

// Store persists entries. Append takes part in the caller's transaction when one is
// active in ctx.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByRecord(ctx context.Context, recordID models.RecordID, filter Filter) ([]*Entry, error)
}

// Sink receives committed entries for fan-out beyond the store.
type Sink interface {
	Publish(ctx context.Context, entries ...*Entry) error
}

// AppendRequest carries the caller-supplied fields of a new entry.
type AppendRequest struct {
	RecordID    models.RecordID
	Action      Action
	PerformedBy string
	Remarks     string
	ProofRef    string
	Details     map[string]any
}

// Recorder appends and lists audit entries. It never retries a failed append.
type Recorder struct {
	store  Store
	sink   Sink
	logger *slog.Logger
}

type Option func(*Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithSink publishes entries after their transaction commits.
func WithSink(sink Sink) Option {
	return func(r *Recorder) {
		r.sink = sink
	}
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append assigns an id and timestamp and stores the entry. The only failure is
// storage_unavailable.
func (r *Recorder) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if !req.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeInternal, "unknown audit action "+string(req.Action))
	}
	entry := &Entry{
		ID:          uuid.NewString(),
		RecordID:    req.RecordID,
		Action:      req.Action,
		PerformedBy: req.PerformedBy,
		PerformedAt: requestcontext.Now(ctx),
		Remarks:     req.Remarks,
		ProofRef:    req.ProofRef,
		Details:     req.Details,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to append audit entry")
	}
	return entry, nil
}

// ListFor returns a record's entries in commit order. Stores keep entry times
// non-decreasing along that order, so it is also chronological. An empty slice is a
// valid result.
func (r *Recorder) ListFor(ctx context.Context, recordID models.RecordID, filter Filter) ([]*Entry, error) {
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown action filter "+string(filter.Action))
	}
	entries, err := r.store.ListByRecord(ctx, recordID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "failed to list audit entries")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Sequence != 0 && b.Sequence != 0 {
			return a.Sequence < b.Sequence
		}
		return a.PerformedAt.Before(b.PerformedAt)
	})
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, nil
}

// Notify logs committed entries and hands them to the sink. Sink failures are
// logged and never reach the caller; the entries are already durable.
func (r *Recorder) Notify(ctx context.Context, entries ...*Entry) {
	for _, e := range entries {
		r.logger.InfoContext(ctx, "kyc_"+string(e.Action),
			"event", "kyc_record_"+string(e.Action),
			"log_type", "audit",
			"record_id", e.RecordID,
			"performed_by", e.PerformedBy,
			"proof_ref", e.ProofRef,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	if r.sink == nil || len(entries) == 0 {
		return
	}
	if err := r.sink.Publish(ctx, entries...); err != nil {
		r.logger.WarnContext(ctx, "audit fan-out failed",
			"error", err,
			"entries", len(entries),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}
