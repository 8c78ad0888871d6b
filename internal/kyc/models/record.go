package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	dErrors "kycvault/pkg/domain-errors"
)

// RecordID is the opaque identifier of a KYC record.
type RecordID string

func (id RecordID) String() string { return string(id) }

// AnonymousOwner is the owner of records submitted without an authenticated user.
const AnonymousOwner = "anonymous"

type Address struct {
	Street     string `validate:"notblank"`
	City       string `validate:"notblank"`
	State      string `validate:"notblank"`
	PostalCode string `validate:"notblank"`
	Country    string
}

type PersonalFields struct {
	Name         string `validate:"notblank"`
	Email        string `validate:"required,email"`
	Phone        string
	GovernmentID string `validate:"govid"`
	DateOfBirth  string
	Address      Address
}

// Proof is the metadata returned by the ledger collaborator for a submission.
// SubmissionHash and DocumentHashes are captured at anchoring time and never
// recomputed from current documents.
type Proof struct {
	Reference      string
	BlockNumber    *uint64
	SubmissionHash string
	DocumentHashes []string
	Storage        StorageState
}

// Record is one identity submission and its lifecycle state.
type Record struct {
	ID            RecordID
	OwnerID       string
	Fields        PersonalFields
	Documents     []Document
	Status        Status
	Level         VerificationLevel
	Proof         Proof
	CreatedAt     time.Time
	UpdatedAt     time.Time
	VerifiedAt    *time.Time
	AdminRemarks  string
	Resubmissions int
	// Version increments on every committed mutation.
	Version int64
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Documents = append([]Document(nil), r.Documents...)
	c.Proof.DocumentHashes = append([]string(nil), r.Proof.DocumentHashes...)
	if r.Proof.BlockNumber != nil {
		bn := *r.Proof.BlockNumber
		c.Proof.BlockNumber = &bn
	}
	if r.VerifiedAt != nil {
		v := *r.VerifiedAt
		c.VerifiedAt = &v
	}
	return &c
}

// CanDecide reports whether an admin decision may be applied.
func (r *Record) CanDecide(d Decision) error {
	if !d.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "decision must be VERIFIED or REJECTED")
	}
	if r.Status.IsDecided() {
		return dErrors.New(dErrors.CodeAlreadyDecided, "record already decided as "+string(r.Status))
	}
	if !r.Status.CanTransitionTo(d.Status()) {
		return dErrors.New(dErrors.CodeIllegalTransition, "cannot decide a record in status "+string(r.Status))
	}
	return nil
}

// ApplyDecision moves a PENDING record into its decided status. VERIFIED promotes
// the proof to permanent storage; REJECTED discards temporary storage but keeps the
// reference and hashes so verification lookups still resolve.
func (r *Record) ApplyDecision(d Decision, remarks string, blockNumber *uint64, now time.Time) error {
	if err := r.CanDecide(d); err != nil {
		return err
	}
	r.Status = d.Status()
	r.AdminRemarks = remarks
	r.VerifiedAt = &now
	r.UpdatedAt = now
	switch d {
	case DecisionVerified:
		r.Proof.Storage = StoragePermanent
		if blockNumber != nil {
			bn := *blockNumber
			r.Proof.BlockNumber = &bn
		}
		if r.Level < LevelL2 {
			r.Level = LevelL2
		}
	case DecisionRejected:
		r.Proof.Storage = StorageNone
	}
	r.Version++
	return r.CheckInvariants()
}

// CanResubmit reports whether new documents may replace a rejected submission.
func (r *Record) CanResubmit() error {
	if !r.Status.CanTransitionTo(StatusResubmitted) {
		return dErrors.New(dErrors.CodeIllegalTransition, "only rejected records can be resubmitted, status is "+string(r.Status))
	}
	return nil
}

// ApplyResubmission passes REJECTED→RESUBMITTED→PENDING, replacing the document set
// and proof. The decision timestamp is cleared; the last remarks stay.
func (r *Record) ApplyResubmission(docs []Document, proof Proof, now time.Time) error {
	if err := r.CanResubmit(); err != nil {
		return err
	}
	r.Status = StatusResubmitted
	if !r.Status.CanTransitionTo(StatusPending) {
		return dErrors.New(dErrors.CodeIllegalTransition, "resubmitted record cannot return to pending")
	}
	r.Status = StatusPending
	r.Documents = append([]Document(nil), docs...)
	r.Proof = proof
	r.Proof.Storage = StorageTemporary
	r.Level = LevelL0
	r.VerifiedAt = nil
	r.UpdatedAt = now
	r.Resubmissions++
	r.Version++
	return r.CheckInvariants()
}

// CanAmend reports whether field corrections are allowed.
func (r *Record) CanAmend() error {
	if r.Status != StatusPending {
		return dErrors.New(dErrors.CodeIllegalTransition, "only pending records can be amended, status is "+string(r.Status))
	}
	return nil
}

// ApplyAmendment applies a field patch and returns the names of fields that changed.
// An empty result leaves the record untouched.
func (r *Record) ApplyAmendment(patch FieldPatch, now time.Time) ([]string, error) {
	if err := r.CanAmend(); err != nil {
		return nil, err
	}
	changed := patch.apply(&r.Fields)
	if len(changed) == 0 {
		return nil, nil
	}
	r.UpdatedAt = now
	r.Version++
	return changed, r.CheckInvariants()
}

// RaiseLevel lifts the verification level; it never lowers it.
func (r *Record) RaiseLevel(level VerificationLevel, blockNumber *uint64, now time.Time) bool {
	changed := false
	if level > r.Level {
		r.Level = level
		changed = true
	}
	if blockNumber != nil && (r.Proof.BlockNumber == nil || *r.Proof.BlockNumber != *blockNumber) {
		bn := *blockNumber
		r.Proof.BlockNumber = &bn
		changed = true
	}
	if changed {
		r.UpdatedAt = now
		r.Version++
	}
	return changed
}

// CheckInvariants validates the aggregate's structural rules.
func (r *Record) CheckInvariants() error {
	if !r.Status.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown status "+string(r.Status))
	}
	if len(r.Documents) == 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "record must have at least one document")
	}
	if r.Proof.Storage.PermanentStorage() && r.Proof.Reference == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "permanent storage requires a proof reference")
	}
	if r.Proof.Storage.TemporaryRecord() && r.Status != StatusPending && r.Status != StatusResubmitted {
		return dErrors.New(dErrors.CodeInvariantViolation, "temporary storage is only valid before a decision")
	}
	if r.Status.IsDecided() && r.VerifiedAt == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "decided record must carry verifiedAt")
	}
	return nil
}

// ComputeSubmissionHash hashes the full submitted payload: personal fields and the
// ordered document hashes. The encoding is canonical JSON of fixed struct shapes.
func ComputeSubmissionHash(fields PersonalFields, documentHashes []string) string {
	payload := struct {
		Fields    PersonalFields `json:"fields"`
		Documents []string       `json:"documents"`
	}{Fields: fields, Documents: documentHashes}
	// Marshaling fixed structs of strings cannot fail.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FieldPatch is a partial update of personal fields. Nil means unchanged.
type FieldPatch struct {
	Name         *string `validate:"omitnil,notblank"`
	Email        *string `validate:"omitnil,email"`
	Phone        *string
	GovernmentID *string `validate:"omitnil,govid"`
	DateOfBirth  *string
	Address      *Address
}

// IsEmpty reports whether the patch names no fields.
func (p FieldPatch) IsEmpty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil &&
		p.GovernmentID == nil && p.DateOfBirth == nil && p.Address == nil
}

func (p FieldPatch) apply(f *PersonalFields) []string {
	var changed []string
	set := func(name string, dst *string, v *string) {
		if v != nil && *v != *dst {
			*dst = *v
			changed = append(changed, name)
		}
	}
	set("name", &f.Name, p.Name)
	set("email", &f.Email, p.Email)
	set("phone", &f.Phone, p.Phone)
	set("governmentId", &f.GovernmentID, p.GovernmentID)
	set("dateOfBirth", &f.DateOfBirth, p.DateOfBirth)
	if p.Address != nil && *p.Address != f.Address {
		f.Address = *p.Address
		changed = append(changed, "address")
	}
	return changed
}
