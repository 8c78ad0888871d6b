// Package postgres persists records and audit entries in PostgreSQL. Mutations run
// in one SQL transaction carried through context; per-key serialization uses
// transaction-scoped advisory locks so it holds across service instances.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
	pkgstrings "kycvault/pkg/platform/strings"
	"kycvault/pkg/platform/sentinel"
	txcontext "kycvault/pkg/platform/tx"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store implements the record store, the audit store and the transaction runner.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies pending migrations from the embedded migrations directory.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) execer(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

// RunInTx opens a transaction, takes an advisory lock per key in sorted order, and
// commits when fn returns nil. A nested call joins the outer transaction.
func (s *Store) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) (err error) {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(fmt.Errorf("begin tx for %s: %w", strings.Join(keys, ","), err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range pkgstrings.SortedUnique(keys) {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			if ctx.Err() != nil {
				return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: waiting for record lock")
			}
			return unavailable(fmt.Errorf("advisory lock %s: %w", key, err))
		}
	}

	if err = fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return unavailable(fmt.Errorf("commit tx for %s: %w", strings.Join(keys, ","), err))
	}
	return nil
}

func unavailable(err error) error {
	return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "storage unavailable")
}

const recordColumns = `
	id, owner_id, name, email, phone, government_id, date_of_birth,
	street, city, state, postal_code, country,
	status, level, proof_ref, block_number, submission_hash, document_hashes, storage_state,
	created_at, updated_at, verified_at, admin_remarks, resubmissions, version`

// Save upserts the record and replaces its document rows.
func (s *Store) Save(ctx context.Context, r *models.Record) error {
	q := s.execer(ctx)
	var blockNumber *int64
	if r.Proof.BlockNumber != nil {
		bn := int64(*r.Proof.BlockNumber)
		blockNumber = &bn
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO kyc_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id, name = EXCLUDED.name, email = EXCLUDED.email,
			phone = EXCLUDED.phone, government_id = EXCLUDED.government_id,
			date_of_birth = EXCLUDED.date_of_birth, street = EXCLUDED.street, city = EXCLUDED.city,
			state = EXCLUDED.state, postal_code = EXCLUDED.postal_code, country = EXCLUDED.country,
			status = EXCLUDED.status, level = EXCLUDED.level, proof_ref = EXCLUDED.proof_ref,
			block_number = EXCLUDED.block_number, submission_hash = EXCLUDED.submission_hash,
			document_hashes = EXCLUDED.document_hashes, storage_state = EXCLUDED.storage_state,
			updated_at = EXCLUDED.updated_at, verified_at = EXCLUDED.verified_at,
			admin_remarks = EXCLUDED.admin_remarks, resubmissions = EXCLUDED.resubmissions,
			version = EXCLUDED.version`,
		r.ID, r.OwnerID, r.Fields.Name, r.Fields.Email, r.Fields.Phone, r.Fields.GovernmentID, r.Fields.DateOfBirth,
		r.Fields.Address.Street, r.Fields.Address.City, r.Fields.Address.State, r.Fields.Address.PostalCode, r.Fields.Address.Country,
		string(r.Status), int(r.Level), r.Proof.Reference, blockNumber, r.Proof.SubmissionHash,
		pq.Array(r.Proof.DocumentHashes), string(r.Proof.Storage),
		r.CreatedAt, r.UpdatedAt, r.VerifiedAt, r.AdminRemarks, r.Resubmissions, r.Version,
	)
	if err != nil {
		return translate(err, "save record")
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM kyc_documents WHERE record_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	for i, d := range r.Documents {
		_, err := q.ExecContext(ctx, `
			INSERT INTO kyc_documents (record_id, position, id, doc_type, content_hash, locator, file_name, media_type, size_bytes, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, i, d.ID, string(d.Type), d.ContentHash, d.Locator, d.FileName, d.MediaType, d.Size, d.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
	}
	return nil
}

// FindByID loads a record with its documents.
func (s *Store) FindByID(ctx context.Context, id models.RecordID) (*models.Record, error) {
	return s.findOne(ctx, `SELECT `+recordColumns+` FROM kyc_records WHERE id = $1`, id)
}

// FindByProofRef resolves the record whose current proof reference is ref.
func (s *Store) FindByProofRef(ctx context.Context, ref string) (*models.Record, error) {
	return s.findOne(ctx, `SELECT `+recordColumns+` FROM kyc_records WHERE proof_ref = $1 AND proof_ref <> ''`, ref)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*models.Record, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, sentinel.ErrNotFound
	}
	if err := s.loadDocuments(ctx, records); err != nil {
		return nil, err
	}
	return records[0], nil
}

// HasActiveGovernmentID reports whether a non-REJECTED record other than excluding
// carries govID.
func (s *Store) HasActiveGovernmentID(ctx context.Context, govID string, excluding models.RecordID) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM kyc_records
			WHERE government_id = $1 AND status <> 'REJECTED' AND id <> $2
		)`, govID, excluding).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check government id: %w", err)
	}
	return exists, nil
}

var sortColumns = map[models.SortField]string{
	models.SortByCreatedAt:  "created_at",
	models.SortByName:       "lower(name)",
	models.SortByStatus:     "status",
	models.SortByVerifiedAt: "verified_at",
}

// List filters, sorts and pages records. Ordering matches models.ListFilter.Less.
func (s *Store) List(ctx context.Context, filter models.ListFilter) (*models.Page, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SearchText != "" {
		args = append(args, "%"+escapeLike(strings.ToLower(filter.SearchText))+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(lower(name) LIKE $%d OR lower(email) LIKE $%d OR lower(government_id) LIKE $%d)", n, n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.execer(ctx).QueryRowContext(ctx, `SELECT count(*) FROM kyc_records`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	dir, nulls := "DESC", "NULLS LAST"
	if filter.SortOrder == models.SortAsc {
		dir, nulls = "ASC", "NULLS FIRST"
	}
	order := fmt.Sprintf(" ORDER BY %s %s %s, id ASC", sortColumns[filter.SortBy], dir, nulls)
	args = append(args, filter.PageSize, filter.Offset())
	query := `SELECT ` + recordColumns + ` FROM kyc_records` + clause + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadDocuments(ctx, records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []*models.Record{}
	}
	return &models.Page{Records: records, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		var (
			r           models.Record
			status      string
			level       int
			storage     string
			blockNumber sql.NullInt64
			verifiedAt  sql.NullTime
			hashes      []string
		)
		err := rows.Scan(
			&r.ID, &r.OwnerID, &r.Fields.Name, &r.Fields.Email, &r.Fields.Phone, &r.Fields.GovernmentID, &r.Fields.DateOfBirth,
			&r.Fields.Address.Street, &r.Fields.Address.City, &r.Fields.Address.State, &r.Fields.Address.PostalCode, &r.Fields.Address.Country,
			&status, &level, &r.Proof.Reference, &blockNumber, &r.Proof.SubmissionHash, pq.Array(&hashes), &storage,
			&r.CreatedAt, &r.UpdatedAt, &verifiedAt, &r.AdminRemarks, &r.Resubmissions, &r.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Status = models.Status(status)
		r.Level = models.VerificationLevel(level)
		r.Proof.Storage = models.StorageState(storage)
		r.Proof.DocumentHashes = hashes
		if blockNumber.Valid {
			bn := uint64(blockNumber.Int64)
			r.Proof.BlockNumber = &bn
		}
		if verifiedAt.Valid {
			v := verifiedAt.Time.UTC()
			r.VerifiedAt = &v
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *Store) loadDocuments(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[models.RecordID]*models.Record, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		byID[r.ID] = r
		ids = append(ids, string(r.ID))
	}
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT record_id, id, doc_type, content_hash, locator, file_name, media_type, size_bytes, uploaded_at
		FROM kyc_documents WHERE record_id = ANY($1::text[])
		ORDER BY record_id, position`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			recordID models.RecordID
			d        models.Document
			docType  string
		)
		if err := rows.Scan(&recordID, &d.ID, &docType, &d.ContentHash, &d.Locator, &d.FileName, &d.MediaType, &d.Size, &d.UploadedAt); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		d.Type = models.DocumentType(docType)
		d.UploadedAt = d.UploadedAt.UTC()
		if r := byID[recordID]; r != nil {
			r.Documents = append(r.Documents, d)
		}
	}
	return rows.Err()
}

// Append implements audit.Store. performed_at is raised to the record's latest entry
// time so times never run backwards in seq order; callers hold the record lock.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	var details []byte
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	err := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO kyc_audit_entries (id, record_id, action, performed_by, performed_at, remarks, proof_ref, details)
		VALUES ($1, $2, $3, $4,
			GREATEST($5::timestamptz, COALESCE((SELECT max(performed_at) FROM kyc_audit_entries WHERE record_id = $2), $5::timestamptz)),
			$6, $7, $8)
		RETURNING seq, performed_at`,
		e.ID, e.RecordID, string(e.Action), e.PerformedBy, e.PerformedAt, e.Remarks, e.ProofRef, details,
	).Scan(&e.Sequence, &e.PerformedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.PerformedAt = e.PerformedAt.UTC()
	return nil
}

// ListByRecord implements audit.Store. Entries come back in commit order.
func (s *Store) ListByRecord(ctx context.Context, id models.RecordID, filter audit.Filter) ([]*audit.Entry, error) {
	query := `
		SELECT seq, id, record_id, action, performed_by, performed_at, remarks, proof_ref, details
		FROM kyc_audit_entries WHERE record_id = $1`
	args := []any{id}
	if filter.Action != "" {
		query += ` AND action = $2`
		args = append(args, string(filter.Action))
	}
	query += ` ORDER BY seq`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	out := []*audit.Entry{}
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			details []byte
		)
		if err := rows.Scan(&e.Sequence, &e.ID, &e.RecordID, &action, &e.PerformedBy, &e.PerformedAt, &e.Remarks, &e.ProofRef, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		e.PerformedAt = e.PerformedAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func translate(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
