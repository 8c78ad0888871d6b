package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped) and
// services translate them into coded domain errors:
//   - ErrNotFound: no record, audit entry or proof reference with that key
//   - ErrConflict: a uniqueness rule in the store rejected the write
//   - ErrUnavailable: the backing store or collaborator cannot be reached
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
