package models

import (
	"strings"

	dErrors "kycvault/pkg/domain-errors"
)

type SortField string

const (
	SortByCreatedAt  SortField = "createdAt"
	SortByName       SortField = "name"
	SortByStatus     SortField = "status"
	SortByVerifiedAt SortField = "verifiedAt"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter selects and orders records. The zero value lists everything, newest first.
type ListFilter struct {
	Status     Status
	SearchText string
	SortBy     SortField
	SortOrder  SortOrder
	Page       int
	PageSize   int
}

// Normalize fills defaults and rejects unknown sort keys or statuses.
func (f *ListFilter) Normalize() error {
	if f.Status != "" && !f.Status.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown status filter "+string(f.Status))
	}
	switch f.SortBy {
	case "":
		f.SortBy = SortByCreatedAt
	case SortByCreatedAt, SortByName, SortByStatus, SortByVerifiedAt:
	default:
		return dErrors.New(dErrors.CodeValidation, "sortBy must be one of createdAt, name, status, verifiedAt")
	}
	switch f.SortOrder {
	case "":
		f.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return dErrors.New(dErrors.CodeValidation, "sortOrder must be asc or desc")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	f.SearchText = strings.TrimSpace(f.SearchText)
	return nil
}

// Offset is the index of the first record on the page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// Matches applies the status filter AND a case-insensitive substring search over
// name, email and government id.
func (f ListFilter) Matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.SearchText == "" {
		return true
	}
	needle := strings.ToLower(f.SearchText)
	for _, hay := range []string{r.Fields.Name, r.Fields.Email, r.Fields.GovernmentID} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// Less orders a before b per the filter's sort key and direction. Ties fall back
// to record id ascending regardless of direction so pagination is stable.
func (f ListFilter) Less(a, b *Record) bool {
	c := f.compare(a, b)
	if c == 0 {
		return a.ID < b.ID
	}
	if f.SortOrder == SortAsc {
		return c < 0
	}
	return c > 0
}

func (f ListFilter) compare(a, b *Record) int {
	switch f.SortBy {
	case SortByName:
		return strings.Compare(strings.ToLower(a.Fields.Name), strings.ToLower(b.Fields.Name))
	case SortByStatus:
		return strings.Compare(string(a.Status), string(b.Status))
	case SortByVerifiedAt:
		// Undecided records sort before any decided one.
		switch {
		case a.VerifiedAt == nil && b.VerifiedAt == nil:
			return 0
		case a.VerifiedAt == nil:
			return -1
		case b.VerifiedAt == nil:
			return 1
		}
		return a.VerifiedAt.Compare(*b.VerifiedAt)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

// Page is one slice of a filtered listing.
type Page struct {
	Records  []*Record
	Total    int
	Page     int
	PageSize int
}
