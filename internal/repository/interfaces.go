package repository

import (
	"context"
	"errors"

	"stocksync-api/internal/model"
)

// ErrNotFound is returned when a keyed lookup has no match.
var ErrNotFound = errors.New("repository: not found")

// InventoryRepository stores canonical inventory records keyed by SKU.
type InventoryRepository interface {
	// FindBySKU returns the record for sku, or ErrNotFound.
	FindBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error)

	// ListAll returns every stored record ordered by SKU.
	ListAll(ctx context.Context) ([]model.InventoryRecord, error)

	// Upsert replaces the whole record stored under record.SKU.
	Upsert(ctx context.Context, record model.InventoryRecord) error

	// DeleteAll removes every record and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// GetStats returns statistics about the inventory database.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close closes the repository connection.
	Close() error
}

// CredentialRepository stores OAuth credentials per integration.
type CredentialRepository interface {
	// GetCredential returns the credential for integrationID, or ErrNotFound.
	GetCredential(ctx context.Context, integrationID string) (*model.Credential, error)

	// SaveCredential upserts the credential keyed by IntegrationID.
	SaveCredential(ctx context.Context, cred model.Credential) error
}

// CursorRepository stores incremental sync watermarks per stream.
type CursorRepository interface {
	// GetCursor returns the cursor for stream, or ErrNotFound.
	GetCursor(ctx context.Context, stream string) (*model.SyncCursor, error)

	// SaveCursor upserts the cursor keyed by Stream.
	SaveCursor(ctx context.Context, cursor model.SyncCursor) error
}

// StateRepository is the durable cross-run state: credentials and cursors.
// It borrows its connection; whoever opened the handle closes it.
type StateRepository interface {
	CredentialRepository
	CursorRepository
}
