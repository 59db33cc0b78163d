package storage

import (
	"chathub/internal/models"
)

// Store persists session records and the per-group auth flags. Every
// mutating session operation writes through a Store immediately, so after
// any single call returns no in-memory state is ahead of disk.
type Store interface {
	// Save writes or overwrites the record under its identity.
	Save(rec models.SessionRecord) error
	// Delete removes the record with the given identity. Missing records
	// are not an error.
	Delete(id models.SessionIdentity) error
	// LoadAll reads every persisted session record. Corrupt records are
	// skipped, not fatal.
	LoadAll() ([]models.SessionRecord, error)

	SaveGroupAuth(auth map[string]bool) error
	LoadGroupAuth() (map[string]bool, error)
}
