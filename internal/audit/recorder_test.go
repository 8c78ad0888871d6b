package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kycvault/internal/kyc/models"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/requestcontext"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []*Entry
	seq     int64
	err     error
}

func (f *fakeStore) Append(_ context.Context, e *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.seq++
	e.Sequence = f.seq
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) ListByRecord(_ context.Context, id models.RecordID, filter Filter) ([]*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*Entry
	// Reverse order so the recorder's sort is exercised.
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		if e.RecordID == id && filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingSink struct {
	published []*Entry
	err       error
}

func (s *recordingSink) Publish(_ context.Context, entries ...*Entry) error {
	s.published = append(s.published, entries...)
	return s.err
}

type RecorderSuite struct {
	suite.Suite
	store    *fakeStore
	sink     *recordingSink
	logs     *bytes.Buffer
	recorder *Recorder
	now      time.Time
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = &fakeStore{}
	s.sink = &recordingSink{}
	s.logs = &bytes.Buffer{}
	s.recorder = NewRecorder(s.store,
		WithSink(s.sink),
		WithLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
	)
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func (s *RecorderSuite) TestAppendAssignsIDAndTime() {
	ctx := requestcontext.WithTime(context.Background(), s.now)

	entry, err := s.recorder.Append(ctx, AppendRequest{
		RecordID:    "rec-1",
		Action:      ActionCreated,
		PerformedBy: "anonymous",
		ProofRef:    "0xabc",
		Details:     map[string]any{"document_count": 1},
	})
	s.Require().NoError(err)
	s.NotEmpty(entry.ID)
	s.Equal(s.now, entry.PerformedAt)
	s.Equal(int64(1), entry.Sequence)
}

func (s *RecorderSuite) TestAppendStorageFailure() {
	s.store.err = errors.New("connection refused")

	_, err := s.recorder.Append(context.Background(), AppendRequest{RecordID: "rec-1", Action: ActionCreated})
	s.True(dErrors.HasCode(err, dErrors.CodeStorageUnavailable))
}

func (s *RecorderSuite) TestListForOrdersByCommitSequence() {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	later := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))

	_, err := s.recorder.Append(ctx, AppendRequest{RecordID: "rec-1", Action: ActionCreated})
	s.Require().NoError(err)
	_, err = s.recorder.Append(later, AppendRequest{RecordID: "rec-1", Action: ActionVerified})
	s.Require().NoError(err)
	// Request started before VERIFIED but committed after it.
	_, err = s.recorder.Append(ctx, AppendRequest{RecordID: "rec-1", Action: ActionUpdated})
	s.Require().NoError(err)

	entries, err := s.recorder.ListFor(context.Background(), "rec-1", Filter{})
	s.Require().NoError(err)
	s.Equal([]Action{ActionCreated, ActionVerified, ActionUpdated}, actions(entries))

	filtered, err := s.recorder.ListFor(context.Background(), "rec-1", Filter{Action: ActionVerified})
	s.Require().NoError(err)
	s.Len(filtered, 1)
}

func (s *RecorderSuite) TestListForEmptyIsNotAnError() {
	entries, err := s.recorder.ListFor(context.Background(), "missing", Filter{})
	s.Require().NoError(err)
	s.NotNil(entries)
	s.Empty(entries)
}

func (s *RecorderSuite) TestListForRejectsUnknownAction() {
	_, err := s.recorder.ListFor(context.Background(), "rec-1", Filter{Action: "DELETED"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *RecorderSuite) TestNotifyPublishesAndLogs() {
	e := &Entry{ID: "e-1", RecordID: "rec-1", Action: ActionRejected, PerformedBy: "admin1"}
	s.sink.err = errors.New("broker unavailable")

	s.recorder.Notify(context.Background(), e)

	s.Len(s.sink.published, 1)
	s.Contains(s.logs.String(), `"log_type":"audit"`)
	s.Contains(s.logs.String(), "audit fan-out failed")
}

func actions(entries []*Entry) []Action {
	out := make([]Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

type blockingSink struct {
	release chan struct{}
	count   int
	mu      sync.Mutex
}

func (b *blockingSink) Publish(_ context.Context, entries ...*Entry) error {
	<-b.release
	b.mu.Lock()
	b.count += len(entries)
	b.mu.Unlock()
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(sink, 1, nil)

	// Nothing drains yet: one fits, the rest are dropped.
	require.NoError(t, d.Publish(context.Background(),
		&Entry{ID: "1"}, &Entry{ID: "2"}, &Entry{ID: "3"}))
	assert.Equal(t, int64(2), d.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	close(sink.release)
	go func() { _ = d.Run(ctx) }()
	assert.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.count == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-d.Done()
}
