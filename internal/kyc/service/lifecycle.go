package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	"kycvault/internal/kyc/validation"
	"kycvault/internal/proof"
	"kycvault/internal/storage"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/requestcontext"
)

// SubmitRequest is a new identity submission.
type SubmitRequest struct {
	OwnerID   string
	Fields    models.PersonalFields
	Documents []models.DocumentUpload
}

// Submit validates the submission, stores the documents, anchors the submission
// hash on the ledger and creates a PENDING record with its CREATED entry. A
// government id held by another non-rejected record fails with duplicate_identity.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (_ *models.Record, err error) {
	ctx, finish := s.begin(ctx, "submit", "")
	defer func() { finish(err) }()

	fields, err := validation.ValidatePersonalFields(req.Fields)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateDocumentSet(req.Documents, s.maxDocBytes); err != nil {
		return nil, err
	}
	owner := req.OwnerID
	if owner == "" {
		owner = models.AnonymousOwner
	}

	id := models.RecordID(uuid.NewString())
	docs, err := s.storeDocuments(ctx, id, req.Documents)
	if err != nil {
		return nil, err
	}
	docHashes := models.DocumentHashes(docs)
	submissionHash := models.ComputeSubmissionHash(fields, docHashes)

	var record *models.Record
	var entry *audit.Entry
	keys := []string{storage.RecordKey(id), storage.IdentityKey(fields.GovernmentID)}
	err = s.inTx(ctx, "submit", id, keys, func(ctx context.Context) error {
		if err := s.ensureUniqueIdentity(ctx, "submit", fields.GovernmentID, ""); err != nil {
			return err
		}
		anchor, err := s.ledger.Anchor(ctx, submissionHash, docHashes)
		if err != nil {
			return ledgerError(ctx, "submit", id, err)
		}

		now := requestcontext.Now(ctx)
		record = &models.Record{
			ID:        id,
			OwnerID:   owner,
			Fields:    fields,
			Documents: docs,
			Status:    models.StatusPending,
			Level:     models.LevelL0,
			Proof: models.Proof{
				Reference:      anchor.Reference,
				SubmissionHash: submissionHash,
				DocumentHashes: docHashes,
				Storage:        models.StorageTemporary,
			},
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if err := record.CheckInvariants(); err != nil {
			return err
		}
		if err := s.save(ctx, "submit", record); err != nil {
			return err
		}
		entry, err = s.audit.Append(ctx, audit.AppendRequest{
			RecordID:    id,
			Action:      audit.ActionCreated,
			PerformedBy: owner,
			ProofRef:    anchor.Reference,
			Details: map[string]any{
				"submissionHash": submissionHash,
				"documentHashes": docHashes,
				"documentCount":  len(docs),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Notify(ctx, entry)
	s.metrics.IncrementSubmissions()
	return record, nil
}

// Decide applies an admin decision to a PENDING record. VERIFIED requires the ledger
// to report the proof as durable and promotes it to permanent storage; REJECTED
// discards temporary storage.
func (s *Service) Decide(ctx context.Context, id models.RecordID, decision models.Decision, performedBy, remarks string) (_ *models.Record, err error) {
	ctx, finish := s.begin(ctx, "decide", id)
	defer func() { finish(err) }()

	performedBy = firstNonEmpty(performedBy, requestcontext.Actor(ctx))
	if performedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "performedBy is required")
	}
	if !decision.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "decision must be VERIFIED or REJECTED")
	}

	var record *models.Record
	var entry *audit.Entry
	err = s.inTx(ctx, "decide", id, []string{storage.RecordKey(id)}, func(ctx context.Context) error {
		var err error
		record, err = s.load(ctx, "decide", id)
		if err != nil {
			return err
		}
		if err := record.CanDecide(decision); err != nil {
			return err
		}

		details := map[string]any{"decision": string(decision)}
		var block *uint64
		var st proof.Status
		if decision == models.DecisionVerified {
			st, err = s.ledger.Status(ctx, record.Proof.Reference)
			if err != nil {
				return ledgerError(ctx, "decide", id, err)
			}
			if !st.Found || !st.Durable {
				return dErrors.New(dErrors.CodeProofNotDurable,
					fmt.Sprintf("proof %s is not yet durable on the ledger", record.Proof.Reference))
			}
			block = st.BlockNumber
			details["confirmations"] = st.Confirmations
		}

		if err := record.ApplyDecision(decision, remarks, block, requestcontext.Now(ctx)); err != nil {
			return err
		}
		if decision == models.DecisionVerified && st.Confirmations >= s.finalityDepth {
			record.Level = models.LevelL3
		}
		details["level"] = record.Level.String()
		details["storage"] = string(record.Proof.Storage)
		if record.Proof.BlockNumber != nil {
			details["blockNumber"] = *record.Proof.BlockNumber
		}

		if err := s.save(ctx, "decide", record); err != nil {
			return err
		}
		entry, err = s.audit.Append(ctx, audit.AppendRequest{
			RecordID:    id,
			Action:      audit.ActionForDecision(decision),
			PerformedBy: performedBy,
			Remarks:     remarks,
			ProofRef:    record.Proof.Reference,
			Details:     details,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Notify(ctx, entry)
	s.metrics.IncrementDecision(string(decision))
	return record, nil
}

// Resubmit replaces the documents of a REJECTED record, anchors a new proof and
// returns the record to PENDING at level L0. The single RESUBMITTED entry carries
// the update details, including the superseded proof reference.
func (s *Service) Resubmit(ctx context.Context, id models.RecordID, uploads []models.DocumentUpload) (_ *models.Record, err error) {
	ctx, finish := s.begin(ctx, "resubmit", id)
	defer func() { finish(err) }()

	if err := validation.ValidateDocumentSet(uploads, s.maxDocBytes); err != nil {
		return nil, err
	}
	current, err := s.load(ctx, "resubmit", id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeOwner(ctx, current); err != nil {
		return nil, err
	}
	if err := current.CanResubmit(); err != nil {
		return nil, err
	}
	docs, err := s.storeDocuments(ctx, id, uploads)
	if err != nil {
		return nil, err
	}

	var record *models.Record
	var entry *audit.Entry
	keys := []string{storage.RecordKey(id), storage.IdentityKey(current.Fields.GovernmentID)}
	err = s.inTx(ctx, "resubmit", id, keys, func(ctx context.Context) error {
		var err error
		record, err = s.load(ctx, "resubmit", id)
		if err != nil {
			return err
		}
		if err := record.CanResubmit(); err != nil {
			return err
		}
		// The identity was released by the rejection; another record may hold it now.
		if err := s.ensureUniqueIdentity(ctx, "resubmit", record.Fields.GovernmentID, id); err != nil {
			return err
		}

		docHashes := models.DocumentHashes(docs)
		submissionHash := models.ComputeSubmissionHash(record.Fields, docHashes)
		anchor, err := s.ledger.Anchor(ctx, submissionHash, docHashes)
		if err != nil {
			return ledgerError(ctx, "resubmit", id, err)
		}

		previousRef := record.Proof.Reference
		previousDocs := make([]string, 0, len(record.Documents))
		for _, d := range record.Documents {
			previousDocs = append(previousDocs, d.ID)
		}
		err = record.ApplyResubmission(docs, models.Proof{
			Reference:      anchor.Reference,
			SubmissionHash: submissionHash,
			DocumentHashes: docHashes,
		}, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.save(ctx, "resubmit", record); err != nil {
			return err
		}
		entry, err = s.audit.Append(ctx, audit.AppendRequest{
			RecordID:    id,
			Action:      audit.ActionResubmitted,
			PerformedBy: firstNonEmpty(requestcontext.Actor(ctx), record.OwnerID),
			ProofRef:    anchor.Reference,
			Details: map[string]any{
				"previousProofRef":    previousRef,
				"previousDocumentIds": previousDocs,
				"submissionHash":      submissionHash,
				"documentHashes":      docHashes,
				"updated": map[string]any{
					"documents": len(docs),
					"status":    string(record.Status),
					"level":     record.Level.String(),
				},
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.Notify(ctx, entry)
	return record, nil
}

// Amend corrects personal fields of a PENDING record. A patch that changes nothing
// leaves the record untouched and writes no entry.
func (s *Service) Amend(ctx context.Context, id models.RecordID, patch models.FieldPatch, performedBy string) (_ *models.Record, err error) {
	ctx, finish := s.begin(ctx, "amend", id)
	defer func() { finish(err) }()

	performedBy = firstNonEmpty(performedBy, requestcontext.Actor(ctx))
	if performedBy == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "performedBy is required")
	}
	if err := validation.ValidatePatch(&patch); err != nil {
		return nil, err
	}

	keys := []string{storage.RecordKey(id)}
	if patch.GovernmentID != nil {
		keys = append(keys, storage.IdentityKey(*patch.GovernmentID))
	}

	var record *models.Record
	var entry *audit.Entry
	err = s.inTx(ctx, "amend", id, keys, func(ctx context.Context) error {
		var err error
		record, err = s.load(ctx, "amend", id)
		if err != nil {
			return err
		}
		if err := record.CanAmend(); err != nil {
			return err
		}
		if patch.GovernmentID != nil && *patch.GovernmentID != record.Fields.GovernmentID {
			if err := s.ensureUniqueIdentity(ctx, "amend", *patch.GovernmentID, id); err != nil {
				return err
			}
		}
		changed, err := record.ApplyAmendment(patch, requestcontext.Now(ctx))
		if err != nil || len(changed) == 0 {
			return err
		}
		if err := s.save(ctx, "amend", record); err != nil {
			return err
		}
		entry, err = s.audit.Append(ctx, audit.AppendRequest{
			RecordID:    id,
			Action:      audit.ActionUpdated,
			PerformedBy: performedBy,
			ProofRef:    record.Proof.Reference,
			Details:     map[string]any{"changedFields": changed},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if entry != nil {
		s.audit.Notify(ctx, entry)
	}
	return record, nil
}

// authorizeOwner lets anyone resubmit an anonymous record; an owned record may only
// be resubmitted by its owner.
func (s *Service) authorizeOwner(ctx context.Context, record *models.Record) error {
	if record.OwnerID == models.AnonymousOwner {
		return nil
	}
	if requestcontext.Actor(ctx) != record.OwnerID {
		return dErrors.New(dErrors.CodeForbidden, "only the record owner may resubmit")
	}
	return nil
}

func (s *Service) storeDocuments(ctx context.Context, id models.RecordID, uploads []models.DocumentUpload) ([]models.Document, error) {
	now := requestcontext.Now(ctx)
	docs := make([]models.Document, 0, len(uploads))
	for _, u := range uploads {
		blob, err := s.blobs.Put(ctx, u.FileName, u.MediaType, u.Content)
		if err != nil {
			return nil, dErrors.Wrap(fmt.Errorf("store document %s for %s: %w", u.FileName, id, err),
				dErrors.CodeStorageUnavailable, "document storage unavailable")
		}
		docs = append(docs, models.Document{
			ID:          uuid.NewString(),
			Type:        models.InferDocumentType(u.FileName),
			ContentHash: blob.Hash,
			Locator:     blob.Locator,
			FileName:    u.FileName,
			MediaType:   u.MediaType,
			Size:        blob.Size,
			UploadedAt:  now,
		})
	}
	return docs, nil
}
