// Package storage holds the in-memory record arena and the lock keys shared with
// the Postgres store.
package storage

import "kycvault/internal/kyc/models"

// RecordKey is the lock key serializing mutations of one record.
func RecordKey(id models.RecordID) string {
	return "record:" + string(id)
}

// IdentityKey is the lock key serializing the duplicate-identity guard for a
// government id.
func IdentityKey(governmentID string) string {
	return "identity:" + governmentID
}
