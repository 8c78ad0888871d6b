package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
	pkgstrings "kycvault/pkg/platform/strings"
	"kycvault/pkg/requestcontext"
)

// BulkResult is the outcome of one record in a bulk decision.
type BulkResult struct {
	Success bool
	Code    dErrors.Code
	Message string
}

// BulkDecide runs Decide for every id independently. One record's failure never
// affects another, and the call itself never fails: callers read per-id outcomes.
// Records are processed concurrently up to the configured bound; each record's
// mutation and audit entry still commit atomically.
func (s *Service) BulkDecide(ctx context.Context, ids []models.RecordID, decision models.Decision, performedBy, remarks string) map[models.RecordID]BulkResult {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, string(id))
	}
	unique := pkgstrings.DedupeAndTrim(raw)
	s.metrics.ObserveBulkSize(len(unique))

	// One clock for the whole batch.
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))

	var mu sync.Mutex
	results := make(map[models.RecordID]BulkResult, len(unique))
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for _, raw := range unique {
		id := models.RecordID(raw)
		g.Go(func() error {
			_, err := s.Decide(ctx, id, decision, performedBy, remarks)
			res := BulkResult{Success: err == nil}
			if err != nil {
				res.Code = dErrors.CodeOf(err)
				res.Message = dErrors.Message(err)
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "bulk decision completed",
		"decision", decision,
		"records", len(unique),
		"performed_by", performedBy,
		"request_id", requestcontext.RequestID(ctx),
	)
	return results
}
