//go:generate mockgen -source=proof.go -destination=mocks/mock_ledger.go -package=mocks

// Package proof defines the collaborators that give a submission its tamper
// evidence: a ledger that anchors the submission hash and reports durability, and a
// blob store that keeps document bytes addressable by content hash.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Anchor is the ledger's receipt for an anchored submission.
type Anchor struct {
	Reference   string
	SubmittedAt time.Time
}

// Status is what the ledger knows about a reference.
type Status struct {
	Found          bool
	Durable        bool
	Confirmations  uint64
	BlockNumber    *uint64
	SubmissionHash string
	DocumentHashes []string
}

// Ledger anchors submission hashes and answers durability queries. Status for a
// reference the ledger never issued is a zero Status with a nil error.
type Ledger interface {
	Anchor(ctx context.Context, submissionHash string, documentHashes []string) (Anchor, error)
	Status(ctx context.Context, reference string) (Status, error)
}

// Blob locates stored document content.
type Blob struct {
	Hash    string
	Locator string
	Size    int64
}

// BlobStore keeps document bytes. Hash is always the SHA-256 of content, whatever
// addressing scheme the backend uses for Locator.
type BlobStore interface {
	Put(ctx context.Context, name, mediaType string, content []byte) (Blob, error)
}

// HashContent returns the lowercase hex SHA-256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
