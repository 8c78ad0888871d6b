package service

import (
	"context"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
)

// Get returns one record.
func (s *Service) Get(ctx context.Context, id models.RecordID) (*models.Record, error) {
	return s.load(ctx, "get", id)
}

// List filters, sorts and pages records. Ties on the sort key are broken by record
// id so a page is stable while no mutation happens between calls.
func (s *Service) List(ctx context.Context, filter models.ListFilter) (_ *models.Page, err error) {
	ctx, finish := s.begin(ctx, "list", "")
	defer func() { finish(err) }()

	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	page, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, infraError("list", "", err)
	}
	return page, nil
}

// History returns the audit entries of an existing record in chronological order,
// optionally narrowed to one action.
func (s *Service) History(ctx context.Context, id models.RecordID, action audit.Action) ([]*audit.Entry, error) {
	if action != "" && !action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown action filter "+string(action))
	}
	if _, err := s.load(ctx, "history", id); err != nil {
		return nil, err
	}
	return s.audit.ListFor(ctx, id, audit.Filter{Action: action})
}
