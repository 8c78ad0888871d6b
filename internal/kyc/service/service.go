// Package service is the KYC lifecycle: intake, admin decisions, resubmission,
// amendment, queries and proof reconciliation. Every mutation runs in one store
// transaction holding the record's lock, so a record and its audit entry commit
// together or not at all.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/metrics"
	"kycvault/internal/kyc/models"
	"kycvault/internal/kyc/validation"
	"kycvault/internal/proof"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/sentinel"
)

const (
	defaultBulkConcurrency = 8
	defaultFinalityDepth   = 64
)

// Store persists records. Reads and writes made with a ctx inside RunInTx take part
// in that transaction; RunInTx holds the given lock keys until it returns.
type Store interface {
	RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
	FindByID(ctx context.Context, id models.RecordID) (*models.Record, error)
	Save(ctx context.Context, record *models.Record) error
	HasActiveGovernmentID(ctx context.Context, governmentID string, excluding models.RecordID) (bool, error)
	List(ctx context.Context, filter models.ListFilter) (*models.Page, error)
}

// AuditTrail is the recorder the service writes lifecycle entries through.
type AuditTrail interface {
	Append(ctx context.Context, req audit.AppendRequest) (*audit.Entry, error)
	ListFor(ctx context.Context, recordID models.RecordID, filter audit.Filter) ([]*audit.Entry, error)
	Notify(ctx context.Context, entries ...*audit.Entry)
}

type Service struct {
	store           Store
	ledger          proof.Ledger
	blobs           proof.BlobStore
	audit           AuditTrail
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	maxDocBytes     int64
	bulkConcurrency int
	finalityDepth   uint64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithMaxDocumentBytes sets the per-file size ceiling at intake.
func WithMaxDocumentBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDocBytes = n
		}
	}
}

// WithBulkConcurrency bounds how many records a bulk decision works on at once.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

// WithFinalityDepth sets the confirmations a verified record's anchor needs to
// reach level L3.
func WithFinalityDepth(n uint64) Option {
	return func(s *Service) {
		if n > 0 {
			s.finalityDepth = n
		}
	}
}

func New(store Store, ledger proof.Ledger, blobs proof.BlobStore, trail AuditTrail, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if trail == nil {
		return nil, errors.New("audit trail is required")
	}
	s := &Service{
		store:           store,
		ledger:          ledger,
		blobs:           blobs,
		audit:           trail,
		logger:          slog.Default(),
		tracer:          otel.Tracer("kycvault/kyc"),
		maxDocBytes:     validation.DefaultMaxDocumentBytes,
		bulkConcurrency: defaultBulkConcurrency,
		finalityDepth:   defaultFinalityDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// begin opens a span for op and returns a finish func recording latency, failures
// by code and the span status.
func (s *Service) begin(ctx context.Context, op string, id models.RecordID) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "kyc."+op)
	if id != "" {
		span.SetAttributes(attribute.String("kyc.record_id", string(id)))
	}
	start := time.Now()
	return ctx, func(err error) {
		s.metrics.ObserveLatency(op, time.Since(start))
		if err != nil {
			code := dErrors.CodeOf(err)
			s.metrics.IncrementFailure(op, string(code))
			span.SetStatus(codes.Error, string(code))
			span.RecordError(err)
		}
		span.End()
	}
}

// inTx runs fn in a store transaction holding keys. Failures of the transaction
// itself (begin, lock, commit) come back as storage_unavailable naming op and id.
func (s *Service) inTx(ctx context.Context, op string, id models.RecordID, keys []string, fn func(ctx context.Context) error) error {
	if err := s.store.RunInTx(ctx, keys, fn); err != nil {
		return infraError(op, id, err)
	}
	return nil
}

// load reads a record, translating a missing row to not_found.
func (s *Service) load(ctx context.Context, op string, id models.RecordID) (*models.Record, error) {
	record, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, infraError(op, id, err)
	}
	return record, nil
}

func (s *Service) ensureUniqueIdentity(ctx context.Context, op string, govID string, excluding models.RecordID) error {
	taken, err := s.store.HasActiveGovernmentID(ctx, govID, excluding)
	if err != nil {
		return infraError(op, excluding, err)
	}
	if taken {
		return dErrors.New(dErrors.CodeDuplicateIdentity, "an active record already exists for this government id")
	}
	return nil
}

// save writes the record; a uniqueness conflict means another active record holds
// the government id.
func (s *Service) save(ctx context.Context, op string, record *models.Record) error {
	err := s.store.Save(ctx, record)
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeDuplicateIdentity, "an active record already exists for this government id")
	}
	if err != nil {
		return infraError(op, record.ID, err)
	}
	return nil
}

// infraError attaches the operation and record id to an uncoded store failure.
// Coded errors pass through unchanged.
func infraError(op string, id models.RecordID, err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(fmt.Errorf("%s %s: %w", op, id, err), dErrors.CodeStorageUnavailable, "storage unavailable")
}

// ledgerError classifies a ledger failure. A deadline or cancellation on ctx is a
// timeout; anything else is the ledger being unavailable.
func ledgerError(ctx context.Context, op string, id models.RecordID, err error) error {
	wrapped := fmt.Errorf("%s %s: ledger: %w", op, id, err)
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(wrapped, dErrors.CodeTimeout, "ledger call timed out")
	}
	return dErrors.Wrap(wrapped, dErrors.CodeLedgerUnavailable, "ledger unavailable")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
