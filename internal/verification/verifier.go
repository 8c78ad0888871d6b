// Package verification answers "does this proof reference vouch for these
// documents?" without touching record state.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kycvault/internal/kyc/metrics"
	"kycvault/internal/kyc/models"
	"kycvault/internal/proof"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/sentinel"
	pstrings "kycvault/pkg/platform/strings"
)

// RecordFinder resolves a record by its current proof reference.
type RecordFinder interface {
	FindByProofRef(ctx context.Context, ref string) (*models.Record, error)
}

// HashVerification compares the hash set captured at submission with the one
// supplied for comparison.
type HashVerification struct {
	HashesMatch     bool `json:"hashesMatch"`
	StoredHashCount int  `json:"storedHashCount"`
	ActualHashCount int  `json:"actualHashCount"`
}

// CheckResult is the outcome of one lookup. It is never persisted.
type CheckResult struct {
	Found            bool              `json:"found"`
	IsValid          bool              `json:"isValid"`
	Durable          bool              `json:"durable"`
	Confirmations    *uint64           `json:"confirmations,omitempty"`
	BlockNumber      *uint64           `json:"blockNumber,omitempty"`
	HashVerification *HashVerification `json:"hashVerification,omitempty"`
}

// Request is a verification lookup. GovernmentID and ExpectedHashes are optional;
// without ExpectedHashes the ledger's copy of the hashes is the comparison side.
type Request struct {
	Reference      string
	GovernmentID   string
	ExpectedHashes []string
}

type Verifier struct {
	records RecordFinder
	ledger  proof.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

func New(records RecordFinder, ledger proof.Ledger, opts ...Option) (*Verifier, error) {
	if records == nil {
		return nil, errors.New("record finder is required")
	}
	if ledger == nil {
		return nil, errors.New("ledger is required")
	}
	v := &Verifier{
		records: records,
		ledger:  ledger,
		logger:  slog.Default(),
		tracer:  otel.Tracer("kycvault/verification"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifyTransaction resolves the reference and compares hash sets. A supplied
// government id that does not match the resolved record yields the same result as
// an unknown reference. Only ledger or storage faults return an error.
func (v *Verifier) VerifyTransaction(ctx context.Context, req Request) (*CheckResult, error) {
	ctx, span := v.tracer.Start(ctx, "verification.VerifyTransaction",
		trace.WithAttributes(attribute.String("proof.reference", req.Reference)))
	defer span.End()

	notFound := &CheckResult{}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" {
		v.metrics.IncrementVerification("not_found")
		return notFound, nil
	}

	record, err := v.records.FindByProofRef(ctx, ref)
	if errors.Is(err, sentinel.ErrNotFound) {
		v.metrics.IncrementVerification("not_found")
		return notFound, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageUnavailable, fmt.Sprintf("verify %s: load record", ref))
	}
	if req.GovernmentID != "" && !strings.EqualFold(strings.TrimSpace(req.GovernmentID), record.Fields.GovernmentID) {
		v.metrics.IncrementVerification("not_found")
		return notFound, nil
	}

	st, err := v.ledger.Status(ctx, ref)
	if err != nil {
		return nil, dErrors.Wrap(fmt.Errorf("verify %s: ledger status: %w", ref, err), dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}

	stored := pstrings.HashSet(record.Proof.DocumentHashes)
	actual := st.DocumentHashes
	if len(req.ExpectedHashes) > 0 {
		actual = req.ExpectedHashes
	}
	actualSet := pstrings.HashSet(actual)
	match := len(stored) > 0 && slices.Equal(stored, actualSet)
	if len(req.ExpectedHashes) == 0 && st.Found {
		match = match && strings.EqualFold(st.SubmissionHash, record.Proof.SubmissionHash)
	}

	res := &CheckResult{
		Found:       true,
		Durable:     st.Durable,
		BlockNumber: st.BlockNumber,
		HashVerification: &HashVerification{
			HashesMatch:     match,
			StoredHashCount: len(stored),
			ActualHashCount: len(actualSet),
		},
	}
	if st.Found {
		c := st.Confirmations
		res.Confirmations = &c
	}
	if res.BlockNumber == nil && record.Proof.BlockNumber != nil {
		bn := *record.Proof.BlockNumber
		res.BlockNumber = &bn
	}
	res.IsValid = match && st.Durable

	outcome := "invalid"
	if res.IsValid {
		outcome = "valid"
	}
	v.metrics.IncrementVerification(outcome)
	v.logger.DebugContext(ctx, "proof verified",
		"record_id", record.ID,
		"proof_ref", ref,
		"is_valid", res.IsValid,
		"hashes_match", match,
		"durable", st.Durable,
	)
	span.SetAttributes(attribute.Bool("verification.valid", res.IsValid))
	return res, nil
}
