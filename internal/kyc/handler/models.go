package handler

import (
	"time"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	"kycvault/internal/kyc/service"
)

type addressDTO struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a addressDTO) toModel() models.Address {
	return models.Address{Street: a.Street, City: a.City, State: a.State, PostalCode: a.PostalCode, Country: a.Country}
}

// documentUpload carries file bytes base64-encoded in JSON.
type documentUpload struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Content   []byte `json:"content"`
}

func toUploads(in []documentUpload) []models.DocumentUpload {
	out := make([]models.DocumentUpload, 0, len(in))
	for _, d := range in {
		out = append(out, models.DocumentUpload{FileName: d.FileName, MediaType: d.MediaType, Content: d.Content})
	}
	return out
}

type submitRequest struct {
	Name         string           `json:"name"`
	Email        string           `json:"email"`
	Phone        string           `json:"phone"`
	GovernmentID string           `json:"governmentId"`
	DateOfBirth  string           `json:"dateOfBirth"`
	Address      addressDTO       `json:"address"`
	Documents    []documentUpload `json:"documents"`
}

func (r submitRequest) toService(owner string) service.SubmitRequest {
	return service.SubmitRequest{
		OwnerID: owner,
		Fields: models.PersonalFields{
			Name:         r.Name,
			Email:        r.Email,
			Phone:        r.Phone,
			GovernmentID: r.GovernmentID,
			DateOfBirth:  r.DateOfBirth,
			Address:      r.Address.toModel(),
		},
		Documents: toUploads(r.Documents),
	}
}

type resubmitRequest struct {
	Documents []documentUpload `json:"documents"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Remarks  string `json:"remarks"`
}

type bulkDecisionRequest struct {
	RecordIDs []string `json:"recordIds" validate:"min=1,max=500"`
	Decision  string   `json:"decision"`
	Remarks   string   `json:"remarks"`
}

type amendRequest struct {
	Name         *string     `json:"name"`
	Email        *string     `json:"email"`
	Phone        *string     `json:"phone"`
	GovernmentID *string     `json:"governmentId"`
	DateOfBirth  *string     `json:"dateOfBirth"`
	Address      *addressDTO `json:"address"`
}

func (r amendRequest) toPatch() models.FieldPatch {
	p := models.FieldPatch{
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		GovernmentID: r.GovernmentID,
		DateOfBirth:  r.DateOfBirth,
	}
	if r.Address != nil {
		a := r.Address.toModel()
		p.Address = &a
	}
	return p
}

type documentResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ContentHash string    `json:"contentHash"`
	Locator     string    `json:"locator,omitempty"`
	FileName    string    `json:"fileName"`
	MediaType   string    `json:"mediaType"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

type proofResponse struct {
	Reference        string   `json:"reference"`
	BlockNumber      *uint64  `json:"blockNumber,omitempty"`
	SubmissionHash   string   `json:"submissionHash"`
	DocumentHashes   []string `json:"documentHashes"`
	TemporaryRecord  bool     `json:"temporaryRecord"`
	PermanentStorage bool     `json:"permanentStorage"`
}

type recordResponse struct {
	ID                string             `json:"id"`
	OwnerID           string             `json:"ownerId"`
	Name              string             `json:"name"`
	Email             string             `json:"email"`
	Phone             string             `json:"phone,omitempty"`
	GovernmentID      string             `json:"governmentId"`
	DateOfBirth       string             `json:"dateOfBirth,omitempty"`
	Address           addressDTO         `json:"address"`
	Documents         []documentResponse `json:"documents"`
	Status            string             `json:"status"`
	VerificationLevel string             `json:"verificationLevel"`
	Proof             proofResponse      `json:"proof"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	VerifiedAt        *time.Time         `json:"verifiedAt,omitempty"`
	AdminRemarks      string             `json:"adminRemarks,omitempty"`
	Resubmissions     int                `json:"resubmissions"`
}

func toRecordResponse(r *models.Record) recordResponse {
	docs := make([]documentResponse, 0, len(r.Documents))
	for _, d := range r.Documents {
		docs = append(docs, documentResponse{
			ID:          d.ID,
			Type:        string(d.Type),
			ContentHash: d.ContentHash,
			Locator:     d.Locator,
			FileName:    d.FileName,
			MediaType:   d.MediaType,
			Size:        d.Size,
			UploadedAt:  d.UploadedAt,
		})
	}
	a := r.Fields.Address
	return recordResponse{
		ID:           string(r.ID),
		OwnerID:      r.OwnerID,
		Name:         r.Fields.Name,
		Email:        r.Fields.Email,
		Phone:        r.Fields.Phone,
		GovernmentID: r.Fields.GovernmentID,
		DateOfBirth:  r.Fields.DateOfBirth,
		Address: addressDTO{
			Street: a.Street, City: a.City, State: a.State, PostalCode: a.PostalCode, Country: a.Country,
		},
		Documents:         docs,
		Status:            string(r.Status),
		VerificationLevel: r.Level.String(),
		Proof: proofResponse{
			Reference:        r.Proof.Reference,
			BlockNumber:      r.Proof.BlockNumber,
			SubmissionHash:   r.Proof.SubmissionHash,
			DocumentHashes:   r.Proof.DocumentHashes,
			TemporaryRecord:  r.Proof.Storage.TemporaryRecord(),
			PermanentStorage: r.Proof.Storage.PermanentStorage(),
		},
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		VerifiedAt:    r.VerifiedAt,
		AdminRemarks:  r.AdminRemarks,
		Resubmissions: r.Resubmissions,
	}
}

type pageResponse struct {
	Records  []recordResponse `json:"records"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

type entryResponse struct {
	ID          string         `json:"id"`
	RecordID    string         `json:"recordId"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performedBy"`
	PerformedAt time.Time      `json:"performedAt"`
	Remarks     string         `json:"remarks,omitempty"`
	ProofRef    string         `json:"proofRef,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func toEntryResponses(entries []*audit.Entry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:          e.ID,
			RecordID:    string(e.RecordID),
			Action:      string(e.Action),
			PerformedBy: e.PerformedBy,
			PerformedAt: e.PerformedAt,
			Remarks:     e.Remarks,
			ProofRef:    e.ProofRef,
			Details:     e.Details,
		})
	}
	return out
}

type bulkItemResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type bulkResponse struct {
	Results map[string]bulkItemResponse `json:"results"`
}

func toBulkResponse(results map[models.RecordID]service.BulkResult) bulkResponse {
	out := bulkResponse{Results: make(map[string]bulkItemResponse, len(results))}
	for id, r := range results {
		out.Results[string(id)] = bulkItemResponse{Success: r.Success, Error: string(r.Code), Message: r.Message}
	}
	return out
}

type reconcileResponse struct {
	Changed bool           `json:"changed"`
	Record  recordResponse `json:"record"`
}
