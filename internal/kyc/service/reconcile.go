package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	"kycvault/internal/storage"
	"kycvault/pkg/requestcontext"
)

// Reconcile asks the ledger about a record's proof and records what it learned:
// the anchoring block, L1 once a pending proof is durable, L3 once a verified
// proof reaches finality depth. Each change writes one UPDATED entry performed by
// the system. Rejected records are left alone.
func (s *Service) Reconcile(ctx context.Context, id models.RecordID) (_ *models.Record, changed bool, err error) {
	ctx, finish := s.begin(ctx, "reconcile", id)
	defer func() { finish(err) }()

	var record *models.Record
	var entry *audit.Entry
	err = s.inTx(ctx, "reconcile", id, []string{storage.RecordKey(id)}, func(ctx context.Context) error {
		var err error
		record, err = s.load(ctx, "reconcile", id)
		if err != nil {
			return err
		}
		if record.Status == models.StatusRejected || record.Proof.Reference == "" {
			return nil
		}
		st, err := s.ledger.Status(ctx, record.Proof.Reference)
		if err != nil {
			return ledgerError(ctx, "reconcile", id, err)
		}
		if !st.Found {
			return nil
		}

		target := record.Level
		if st.Durable {
			switch record.Status {
			case models.StatusPending:
				target = max(target, models.LevelL1)
			case models.StatusVerified:
				if st.Confirmations >= s.finalityDepth {
					target = models.LevelL3
				}
			}
		}
		previous := record.Level
		if !record.RaiseLevel(target, st.BlockNumber, requestcontext.Now(ctx)) {
			return nil
		}
		changed = true
		if err := s.save(ctx, "reconcile", record); err != nil {
			return err
		}
		details := map[string]any{
			"previousLevel": previous.String(),
			"level":         record.Level.String(),
			"confirmations": st.Confirmations,
			"durable":       st.Durable,
		}
		if record.Proof.BlockNumber != nil {
			details["blockNumber"] = *record.Proof.BlockNumber
		}
		entry, err = s.audit.Append(ctx, audit.AppendRequest{
			RecordID:    id,
			Action:      audit.ActionUpdated,
			PerformedBy: audit.SystemActor,
			ProofRef:    record.Proof.Reference,
			Details:     details,
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		s.audit.Notify(ctx, entry)
		if record.Level > models.LevelL0 {
			s.metrics.IncrementLevelRaise(record.Level.String())
		}
	}
	return record, changed, nil
}

// ReconcileOutstanding sweeps pending records and verified records below L3. A
// failure on one record is logged and the sweep continues; only a listing failure
// aborts it.
func (s *Service) ReconcileOutstanding(ctx context.Context) (int, error) {
	raised := 0
	for _, status := range []models.Status{models.StatusPending, models.StatusVerified} {
		filter := models.ListFilter{
			Status:    status,
			SortBy:    models.SortByCreatedAt,
			SortOrder: models.SortAsc,
			PageSize:  models.MaxPageSize,
		}
		for page := 1; ; page++ {
			filter.Page = page
			result, err := s.List(ctx, filter)
			if err != nil {
				return raised, err
			}
			for _, r := range result.Records {
				if r.Level == models.LevelL3 || (status == models.StatusPending && r.Level >= models.LevelL1) {
					continue
				}
				_, changed, err := s.Reconcile(ctx, r.ID)
				if err != nil {
					if ctx.Err() != nil {
						return raised, ctx.Err()
					}
					s.logger.WarnContext(ctx, "reconcile failed", "record_id", r.ID, "error", err)
					continue
				}
				if changed {
					raised++
				}
			}
			if page*filter.PageSize >= result.Total {
				break
			}
		}
	}
	return raised, nil
}

// Reconciler runs ReconcileOutstanding on an interval.
type Reconciler struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(service *Service, interval time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{service: service, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := r.service.ReconcileOutstanding(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.ErrorContext(ctx, "reconciliation sweep failed", "error", err)
			}
			if n > 0 {
				r.logger.InfoContext(ctx, "reconciliation sweep raised records", "records", n)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
