package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"kycvault/internal/audit"
	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/sentinel"
)

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 10 * time.Second

// Memory is an in-process arena of records and their audit entries. Mutations run
// inside RunInTx: writes are staged on the transaction and published together under
// one short write lock, so readers see a record and its audit entry at once or not
// at all. Per-key locks serialize writers on the same record or identity without a
// global lock.
type Memory struct {
	mu         sync.RWMutex
	records    map[models.RecordID]*models.Record
	byGovID    map[string]map[models.RecordID]struct{}
	byProofRef map[string]models.RecordID
	entries    map[models.RecordID][]*audit.Entry
	seq        int64

	locks   *KeyedMutex
	timeout time.Duration
}

type MemoryOption func(*Memory)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.timeout = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records:    make(map[models.RecordID]*models.Record),
		byGovID:    make(map[string]map[models.RecordID]struct{}),
		byProofRef: make(map[string]models.RecordID),
		entries:    make(map[models.RecordID][]*audit.Entry),
		locks:      NewKeyedMutex(),
		timeout:    defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memTx struct {
	records map[models.RecordID]*models.Record
	order   []models.RecordID
	entries []stagedEntry
}

// stagedEntry pairs the stored copy with the caller's entry so commit can report the
// assigned sequence and timestamp back.
type stagedEntry struct {
	stored *audit.Entry
	origin *audit.Entry
}

type memTxKey struct{}

func txFrom(ctx context.Context) (*memTx, bool) {
	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	return tx, ok
}

// RunInTx runs fn holding the given lock keys. Writes made through ctx inside fn are
// committed atomically when fn returns nil and discarded otherwise. A nested call
// joins the outer transaction.
func (m *Memory) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	unlock, err := m.locks.LockAll(ctx, keys)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: waiting for record lock")
	}
	defer unlock()

	tx := &memTx{records: make(map[models.RecordID]*models.Record)}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	// A deadline hit during fn (e.g. a slow ledger call) must not commit.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted before commit")
	}
	m.commit(tx)
	return nil
}

func (m *Memory) commit(tx *memTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range tx.order {
		m.putLocked(tx.records[id])
	}
	for _, e := range tx.entries {
		m.appendLocked(e.stored)
		e.origin.Sequence = e.stored.Sequence
		e.origin.PerformedAt = e.stored.PerformedAt
	}
}

// appendLocked assigns the next sequence and keeps a record's entry times
// non-decreasing in commit order. A writer that waited on the record lock carries an
// earlier request time than the entry committed ahead of it.
func (m *Memory) appendLocked(e *audit.Entry) {
	m.seq++
	e.Sequence = m.seq
	if prev := m.entries[e.RecordID]; len(prev) > 0 {
		if last := prev[len(prev)-1].PerformedAt; e.PerformedAt.Before(last) {
			e.PerformedAt = last
		}
	}
	m.entries[e.RecordID] = append(m.entries[e.RecordID], e)
}

func (m *Memory) putLocked(r *models.Record) {
	if old, ok := m.records[r.ID]; ok {
		if ids := m.byGovID[old.Fields.GovernmentID]; ids != nil {
			delete(ids, r.ID)
			if len(ids) == 0 {
				delete(m.byGovID, old.Fields.GovernmentID)
			}
		}
		if old.Proof.Reference != "" && m.byProofRef[old.Proof.Reference] == r.ID {
			delete(m.byProofRef, old.Proof.Reference)
		}
	}
	m.records[r.ID] = r
	ids := m.byGovID[r.Fields.GovernmentID]
	if ids == nil {
		ids = make(map[models.RecordID]struct{})
		m.byGovID[r.Fields.GovernmentID] = ids
	}
	ids[r.ID] = struct{}{}
	if r.Proof.Reference != "" {
		m.byProofRef[r.Proof.Reference] = r.ID
	}
}

// FindByID returns a copy of the record, including writes staged in ctx's transaction.
func (m *Memory) FindByID(ctx context.Context, id models.RecordID) (*models.Record, error) {
	if tx, ok := txFrom(ctx); ok {
		if r, staged := tx.records[id]; staged {
			return r.Clone(), nil
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// Save stores a copy of the record.
func (m *Memory) Save(ctx context.Context, r *models.Record) error {
	c := r.Clone()
	if tx, ok := txFrom(ctx); ok {
		if _, staged := tx.records[c.ID]; !staged {
			tx.order = append(tx.order, c.ID)
		}
		tx.records[c.ID] = c
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(c)
	return nil
}

// HasActiveGovernmentID reports whether any non-REJECTED record other than excluding
// carries govID.
func (m *Memory) HasActiveGovernmentID(ctx context.Context, govID string, excluding models.RecordID) (bool, error) {
	tx, inTx := txFrom(ctx)
	active := func(r *models.Record) bool {
		return r.ID != excluding && r.Fields.GovernmentID == govID && r.Status != models.StatusRejected
	}
	if inTx {
		for _, r := range tx.records {
			if active(r) {
				return true, nil
			}
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id := range m.byGovID[govID] {
		if inTx {
			if _, staged := tx.records[id]; staged {
				continue
			}
		}
		if active(m.records[id]) {
			return true, nil
		}
	}
	return false, nil
}

// FindByProofRef resolves the record whose current proof reference is ref.
func (m *Memory) FindByProofRef(_ context.Context, ref string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProofRef[ref]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return m.records[id].Clone(), nil
}

// List filters, sorts and pages committed records.
func (m *Memory) List(_ context.Context, filter models.ListFilter) (*models.Page, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := make([]*models.Record, 0, len(m.records))
	for _, r := range m.records {
		if filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return filter.Less(matched[i], matched[j]) })

	page := &models.Page{Total: len(matched), Page: filter.Page, PageSize: filter.PageSize, Records: []*models.Record{}}
	start := filter.Offset()
	if start >= len(matched) {
		return page, nil
	}
	end := min(start+filter.PageSize, len(matched))
	page.Records = matched[start:end]
	return page, nil
}

// Append implements audit.Store. Inside a transaction the entry commits with the
// record mutation.
func (m *Memory) Append(ctx context.Context, e *audit.Entry) error {
	c := *e
	if tx, ok := txFrom(ctx); ok {
		tx.entries = append(tx.entries, stagedEntry{stored: &c, origin: e})
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(&c)
	e.Sequence = c.Sequence
	e.PerformedAt = c.PerformedAt
	return nil
}

// ListByRecord implements audit.Store. Entries come back in commit order.
func (m *Memory) ListByRecord(_ context.Context, id models.RecordID, filter audit.Filter) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*audit.Entry, 0, len(m.entries[id]))
	for _, e := range m.entries[id] {
		if filter.Matches(e) {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}
