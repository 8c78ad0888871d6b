package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "kycvault/pkg/domain-errors"
)

var now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func pendingRecord() *Record {
	return &Record{
		ID:      "rec-1",
		OwnerID: AnonymousOwner,
		Fields: PersonalFields{
			Name:         "Asha Rao",
			Email:        "asha@example.com",
			GovernmentID: "ABCDE1234F",
		},
		Documents: []Document{{ID: "doc-1", ContentHash: "h1", FileName: "passport.pdf"}},
		Status:    StatusPending,
		Level:     LevelL0,
		Proof: Proof{
			Reference:      "0xabc",
			SubmissionHash: "sub",
			DocumentHashes: []string{"h1"},
			Storage:        StorageTemporary,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusVerified))
	assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
	assert.True(t, StatusPending.CanTransitionTo(StatusPending))
	assert.True(t, StatusRejected.CanTransitionTo(StatusResubmitted))
	assert.True(t, StatusResubmitted.CanTransitionTo(StatusPending))

	assert.False(t, StatusVerified.CanTransitionTo(StatusRejected))
	assert.False(t, StatusRejected.CanTransitionTo(StatusPending))
	assert.False(t, StatusRejected.CanTransitionTo(StatusVerified))
	assert.False(t, StatusPending.CanTransitionTo(StatusResubmitted))
	assert.False(t, Status("DRAFT").CanTransitionTo(StatusPending))
}

func TestApplyDecision(t *testing.T) {
	t.Run("verified promotes to permanent storage", func(t *testing.T) {
		r := pendingRecord()
		bn := uint64(42)
		require.NoError(t, r.ApplyDecision(DecisionVerified, "ok", &bn, now))

		assert.Equal(t, StatusVerified, r.Status)
		assert.True(t, r.Proof.Storage.PermanentStorage())
		assert.False(t, r.Proof.Storage.TemporaryRecord())
		assert.Equal(t, LevelL2, r.Level)
		require.NotNil(t, r.VerifiedAt)
		assert.Equal(t, now, *r.VerifiedAt)
		assert.Equal(t, uint64(42), *r.Proof.BlockNumber)
		assert.Equal(t, "ok", r.AdminRemarks)
		assert.Equal(t, int64(1), r.Version)
	})

	t.Run("rejected discards storage but keeps reference", func(t *testing.T) {
		r := pendingRecord()
		require.NoError(t, r.ApplyDecision(DecisionRejected, "blurry scan", nil, now))

		assert.Equal(t, StatusRejected, r.Status)
		assert.Equal(t, StorageNone, r.Proof.Storage)
		assert.Equal(t, "0xabc", r.Proof.Reference)
		assert.NotNil(t, r.VerifiedAt)
	})

	t.Run("second decision is already decided", func(t *testing.T) {
		r := pendingRecord()
		require.NoError(t, r.ApplyDecision(DecisionVerified, "", nil, now))

		err := r.ApplyDecision(DecisionRejected, "", nil, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyDecided))
		assert.Equal(t, StatusVerified, r.Status)
	})

	t.Run("unknown decision is a validation error", func(t *testing.T) {
		r := pendingRecord()
		err := r.ApplyDecision(Decision("MAYBE"), "", nil, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestApplyResubmission(t *testing.T) {
	t.Run("rejected record returns to pending with new proof", func(t *testing.T) {
		r := pendingRecord()
		require.NoError(t, r.ApplyDecision(DecisionRejected, "expired id", nil, now))

		later := now.Add(time.Hour)
		docs := []Document{{ID: "doc-2", ContentHash: "h2"}}
		proof := Proof{Reference: "0xdef", SubmissionHash: "sub2", DocumentHashes: []string{"h2"}}
		require.NoError(t, r.ApplyResubmission(docs, proof, later))

		assert.Equal(t, StatusPending, r.Status)
		assert.Equal(t, LevelL0, r.Level)
		assert.Equal(t, StorageTemporary, r.Proof.Storage)
		assert.Equal(t, "0xdef", r.Proof.Reference)
		assert.Nil(t, r.VerifiedAt)
		assert.Equal(t, 1, r.Resubmissions)
		assert.Equal(t, later, r.UpdatedAt)
	})

	t.Run("pending record cannot be resubmitted", func(t *testing.T) {
		r := pendingRecord()
		err := r.ApplyResubmission(r.Documents, r.Proof, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
	})
}

func TestApplyAmendment(t *testing.T) {
	t.Run("reports changed fields only", func(t *testing.T) {
		r := pendingRecord()
		name := "Asha R. Rao"
		email := r.Fields.Email
		changed, err := r.ApplyAmendment(FieldPatch{Name: &name, Email: &email}, now)

		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, changed)
		assert.Equal(t, name, r.Fields.Name)
		assert.Equal(t, int64(1), r.Version)
	})

	t.Run("no-op patch leaves version untouched", func(t *testing.T) {
		r := pendingRecord()
		changed, err := r.ApplyAmendment(FieldPatch{}, now)
		require.NoError(t, err)
		assert.Empty(t, changed)
		assert.Equal(t, int64(0), r.Version)
	})

	t.Run("decided record cannot be amended", func(t *testing.T) {
		r := pendingRecord()
		require.NoError(t, r.ApplyDecision(DecisionVerified, "", nil, now))
		name := "x"
		_, err := r.ApplyAmendment(FieldPatch{Name: &name}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIllegalTransition))
	})
}

func TestCheckInvariants(t *testing.T) {
	r := pendingRecord()
	require.NoError(t, r.CheckInvariants())

	r.Proof.Reference = ""
	r.Proof.Storage = StoragePermanent
	assert.True(t, dErrors.HasCode(r.CheckInvariants(), dErrors.CodeInvariantViolation))

	r = pendingRecord()
	r.Documents = nil
	assert.True(t, dErrors.HasCode(r.CheckInvariants(), dErrors.CodeInvariantViolation))
}

func TestComputeSubmissionHash(t *testing.T) {
	fields := pendingRecord().Fields
	a := ComputeSubmissionHash(fields, []string{"h1", "h2"})
	b := ComputeSubmissionHash(fields, []string{"h1", "h2"})
	c := ComputeSubmissionHash(fields, []string{"h2", "h1"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestCloneIsDeep(t *testing.T) {
	r := pendingRecord()
	bn := uint64(7)
	r.Proof.BlockNumber = &bn

	c := r.Clone()
	c.Documents[0].ContentHash = "changed"
	c.Proof.DocumentHashes[0] = "changed"
	*c.Proof.BlockNumber = 8

	assert.Equal(t, "h1", r.Documents[0].ContentHash)
	assert.Equal(t, "h1", r.Proof.DocumentHashes[0])
	assert.Equal(t, uint64(7), *r.Proof.BlockNumber)
}

func TestInferDocumentType(t *testing.T) {
	assert.Equal(t, DocumentIDPrimary, InferDocumentType("Passport_scan.pdf"))
	assert.Equal(t, DocumentIDPrimary, InferDocumentType("driving-licence.jpg"))
	assert.Equal(t, DocumentIDSecondary, InferDocumentType("utility_bill_march.pdf"))
	assert.Equal(t, DocumentOther, InferDocumentType("selfie.png"))
}
