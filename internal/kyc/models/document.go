package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentType is the declared kind of an uploaded artifact. It is inferred at
// intake from the file name and is never used as ground truth for verification.
type DocumentType string

const (
	DocumentIDPrimary   DocumentType = "ID_PRIMARY"
	DocumentIDSecondary DocumentType = "ID_SECONDARY"
	DocumentOther       DocumentType = "OTHER"
)

var (
	primaryHints   = []string{"passport", "licence", "license", "national", "id_card", "idcard", "identity", "aadhaar"}
	secondaryHints = []string{"utility", "bill", "bank", "statement", "lease", "tax"}
)

// InferDocumentType classifies a document from its file name.
func InferDocumentType(fileName string) DocumentType {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName)))
	for _, hint := range primaryHints {
		if strings.Contains(base, hint) {
			return DocumentIDPrimary
		}
	}
	for _, hint := range secondaryHints {
		if strings.Contains(base, hint) {
			return DocumentIDSecondary
		}
	}
	return DocumentOther
}

// Document is one uploaded artifact owned by a record. Documents are immutable once
// attached; a resubmission replaces the whole set.
type Document struct {
	ID          string
	Type        DocumentType
	ContentHash string
	Locator     string
	FileName    string
	MediaType   string
	Size        int64
	UploadedAt  time.Time
}

// DocumentUpload is a raw file handed to intake.
type DocumentUpload struct {
	FileName  string
	MediaType string
	Content   []byte
}

// DocumentHashes returns the content hashes in document order.
func DocumentHashes(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ContentHash)
	}
	return out
}
