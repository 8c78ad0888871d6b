// Package memledger is a deterministic in-process ledger. Every anchor mines one
// block; durability is reached once the anchoring block is buried under the
// configured confirmation depth.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"kycvault/internal/proof"
)

type entry struct {
	submissionHash string
	documentHashes []string
	block          uint64
}

type Ledger struct {
	mu      sync.Mutex
	entries map[string]entry
	head    uint64
	depth   uint64
	now     func() time.Time
	failErr error
}

type Option func(*Ledger)

// WithConfirmationDepth sets how many blocks (including the anchoring one) make a
// proof durable. Zero is treated as one.
func WithConfirmationDepth(depth uint64) Option {
	return func(l *Ledger) {
		l.depth = max(depth, 1)
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]entry),
		depth:   1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Anchor records the hashes in a new block. The reference is derived from the
// submission hash and the block number, so identical resubmissions get distinct
// references.
func (l *Ledger) Anchor(ctx context.Context, submissionHash string, documentHashes []string) (proof.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return proof.Anchor{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return proof.Anchor{}, l.failErr
	}
	l.head++
	ref := reference(submissionHash, l.head)
	l.entries[ref] = entry{
		submissionHash: submissionHash,
		documentHashes: append([]string(nil), documentHashes...),
		block:          l.head,
	}
	return proof.Anchor{Reference: ref, SubmittedAt: l.now()}, nil
}

func (l *Ledger) Status(ctx context.Context, ref string) (proof.Status, error) {
	if err := ctx.Err(); err != nil {
		return proof.Status{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return proof.Status{}, l.failErr
	}
	e, ok := l.entries[ref]
	if !ok {
		return proof.Status{}, nil
	}
	confirmations := l.head - e.block + 1
	block := e.block
	return proof.Status{
		Found:          true,
		Durable:        confirmations >= l.depth,
		Confirmations:  confirmations,
		BlockNumber:    &block,
		SubmissionHash: e.submissionHash,
		DocumentHashes: append([]string(nil), e.documentHashes...),
	}, nil
}

// Mine appends n empty blocks.
func (l *Ledger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head += n
}

func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// FailWith makes every subsequent call return err until cleared with nil.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failErr = err
}

func reference(submissionHash string, block uint64) string {
	h := sha256.New()
	h.Write([]byte(submissionHash))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	h.Write(b[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
