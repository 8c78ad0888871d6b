package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kycvault/internal/kyc/models"
	"kycvault/internal/proof"
	"kycvault/internal/proof/mocks"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/sentinel"
	"kycvault/pkg/testutil"
)

type fakeFinder struct {
	records map[string]*models.Record
	err     error
	calls   int
}

func (f *fakeFinder) FindByProofRef(_ context.Context, ref string) (*models.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.records[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

type VerifierSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	ledger   *mocks.MockLedger
	finder   *fakeFinder
	verifier *Verifier
	record   *models.Record
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	now := testutil.FixedNow
	s.record = &models.Record{
		ID:     "rec-1",
		Fields: models.PersonalFields{Name: "Asha Rao", GovernmentID: "ABCDE1234F"},
		Documents: []models.Document{
			{ID: "doc-1", ContentHash: "aa11", FileName: "passport.pdf", MediaType: "application/pdf"},
		},
		Status:    models.StatusPending,
		Proof:     models.Proof{Reference: "0xref", SubmissionHash: "sub-1", DocumentHashes: []string{"aa11"}, Storage: models.StorageTemporary},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.finder = &fakeFinder{records: map[string]*models.Record{"0xref": s.record}}
	var err error
	s.verifier, err = New(s.finder, s.ledger, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
}

func (s *VerifierSuite) TearDownTest() {
	s.ctrl.Finish()
}

func durable(block uint64, hashes ...string) proof.Status {
	return proof.Status{Found: true, Durable: true, Confirmations: 1, BlockNumber: &block, SubmissionHash: "sub-1", DocumentHashes: hashes}
}

func (s *VerifierSuite) TestNew() {
	_, err := New(nil, s.ledger)
	s.Error(err)
	_, err = New(s.finder, nil)
	s.Error(err)
}

func (s *VerifierSuite) TestUnknownReference() {
	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xnope"})
	s.Require().NoError(err)
	s.Equal(&CheckResult{}, res)
}

func (s *VerifierSuite) TestEmptyReferenceSkipsLookup() {
	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "  "})
	s.Require().NoError(err)
	s.False(res.Found)
	s.Equal(0, s.finder.calls)
}

func (s *VerifierSuite) TestGovernmentIDMismatchLooksNotFound() {
	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref", GovernmentID: "ZZZZZ9999Z"})
	s.Require().NoError(err)
	s.Equal(&CheckResult{}, res)
}

func (s *VerifierSuite) TestValidAgainstLedgerHashes() {
	s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(durable(7, "AA11"), nil)

	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref", GovernmentID: "abcde1234f"})
	s.Require().NoError(err)
	s.True(res.Found)
	s.True(res.IsValid)
	s.Require().NotNil(res.HashVerification)
	s.True(res.HashVerification.HashesMatch)
	s.Equal(1, res.HashVerification.StoredHashCount)
	s.Equal(1, res.HashVerification.ActualHashCount)
	s.Require().NotNil(res.BlockNumber)
	s.Equal(uint64(7), *res.BlockNumber)
}

func (s *VerifierSuite) TestCallerHashesTakePrecedence() {
	s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(durable(7, "aa11"), nil).Times(2)

	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref", ExpectedHashes: []string{"bb22"}})
	s.Require().NoError(err)
	s.True(res.Found)
	s.False(res.IsValid)
	s.False(res.HashVerification.HashesMatch)

	res, err = s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref", ExpectedHashes: []string{"0xAA11", "aa11"}})
	s.Require().NoError(err)
	s.True(res.IsValid)
	s.Equal(1, res.HashVerification.ActualHashCount)
}

func (s *VerifierSuite) TestNotDurableIsNotValid() {
	st := durable(7, "aa11")
	st.Durable = false
	s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(st, nil)

	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
	s.Require().NoError(err)
	s.True(res.Found)
	s.True(res.HashVerification.HashesMatch)
	s.False(res.IsValid)
}

func (s *VerifierSuite) TestSubmissionHashMismatchFailsLedgerComparison() {
	st := durable(7, "aa11")
	st.SubmissionHash = "tampered"
	s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(st, nil)

	res, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
	s.Require().NoError(err)
	s.False(res.HashVerification.HashesMatch)
	s.False(res.IsValid)
}

func (s *VerifierSuite) TestIdempotentAndReadOnly() {
	s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(durable(7, "aa11"), nil).Times(2)
	before := s.record.Clone()

	first, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
	s.Require().NoError(err)
	second, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(before, s.record)
}

func (s *VerifierSuite) TestInfrastructureFaults() {
	s.Run("store failure is storage_unavailable", func() {
		s.finder.err = errors.New("connection reset")
		_, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
		s.True(dErrors.HasCode(err, dErrors.CodeStorageUnavailable))
		s.finder.err = nil
	})

	s.Run("ledger failure propagates with context", func() {
		s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(proof.Status{}, errors.New("rpc timeout"))
		_, err := s.verifier.VerifyTransaction(context.Background(), Request{Reference: "0xref"})
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerUnavailable))
		s.ErrorContains(err, "verify 0xref")
		s.ErrorContains(err, "rpc timeout")
	})
}

func (s *VerifierSuite) TestHandler() {
	router := chi.NewRouter()
	NewHandler(s.verifier, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(router)

	s.Run("valid lookup", func() {
		s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(durable(7, "aa11"), nil)
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/kyc/verify/0xref?gov_id=ABCDE1234F&hashes=aa11", nil)
		rr := testutil.DoRequest(router, req)
		s.Equal(http.StatusOK, rr.Code)
		res := testutil.UnmarshalResponse[CheckResult](s.T(), rr)
		s.True(res.Found)
		s.True(res.IsValid)
	})

	s.Run("ledger outage maps to 502", func() {
		s.ledger.EXPECT().Status(gomock.Any(), "0xref").Return(proof.Status{}, errors.New("rpc down"))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/kyc/verify/0xref", nil).WithContext(ctx)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadGateway, "ledger_unavailable")
	})
}
