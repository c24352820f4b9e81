package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
)

// SQLiteInventoryRepository implements InventoryRepository using SQLite.
// Locations are stored as a JSON column; timestamps as RFC 3339 text.
type SQLiteInventoryRepository struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewSQLiteInventoryRepository creates the repository and its schema on db.
func NewSQLiteInventoryRepository(ctx context.Context, db *sql.DB, log *zap.Logger) (*SQLiteInventoryRepository, error) {
	query := `
	CREATE TABLE IF NOT EXISTS inventory (
		sku TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		locations TEXT NOT NULL,
		synced_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_synced_at ON inventory(synced_at);
	`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("failed to create inventory table: %w", err)
	}

	r := &SQLiteInventoryRepository{db: db, logger: logger.OrNop(log).Named("sqlite")}
	r.logger.Info("inventory repository ready")
	return r, nil
}

// FindBySKU returns the record for sku, or ErrNotFound.
func (r *SQLiteInventoryRepository) FindBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		rec       model.InventoryRecord
		locations string
		syncedAt  scanTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT sku, name, locations, synced_at FROM inventory WHERE sku = ?`, sku,
	).Scan(&rec.SKU, &rec.Name, &locations, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory %s: %w", sku, err)
	}

	if err := json.Unmarshal([]byte(locations), &rec.Locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations for %s: %w", sku, err)
	}
	rec.SyncedAt = syncedAt.Time
	return &rec, nil
}

// ListAll returns every row ordered by SKU.
func (r *SQLiteInventoryRepository) ListAll(ctx context.Context) ([]model.InventoryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `SELECT sku, name, locations, synced_at FROM inventory ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var records []model.InventoryRecord
	for rows.Next() {
		var (
			rec       model.InventoryRecord
			locations string
			syncedAt  scanTime
		)
		if err := rows.Scan(&rec.SKU, &rec.Name, &locations, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		if err := json.Unmarshal([]byte(locations), &rec.Locations); err != nil {
			return nil, fmt.Errorf("failed to decode locations for %s: %w", rec.SKU, err)
		}
		rec.SyncedAt = syncedAt.Time
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Upsert replaces the row keyed by record.SKU.
func (r *SQLiteInventoryRepository) Upsert(ctx context.Context, record model.InventoryRecord) error {
	locations, err := encodeLocations(record.Locations)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inventory (sku, name, locations, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			name = excluded.name,
			locations = excluded.locations,
			synced_at = excluded.synced_at`,
		record.SKU, record.Name, string(locations), textTime(record.SyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert inventory %s: %w", record.SKU, err)
	}
	return nil
}

// DeleteAll removes every row.
func (r *SQLiteInventoryRepository) DeleteAll(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM inventory`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear inventory: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns statistics about the inventory database.
func (r *SQLiteInventoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]interface{}{"backend": "sqlite"}

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_records"] = count

	var lastSync scanTime
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(synced_at) FROM inventory").Scan(&lastSync); err == nil && lastSync.Valid {
		stats["last_sync"] = lastSync.Time
	}

	// Database file size, approximated from the page count.
	var pageCount, pageSize int64
	_ = r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	_ = r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats["db_size_bytes"] = pageCount * pageSize

	return stats, nil
}

// Close closes the database connection.
func (r *SQLiteInventoryRepository) Close() error {
	return r.db.Close()
}

func encodeLocations(locations []model.Location) ([]byte, error) {
	if locations == nil {
		locations = []model.Location{}
	}
	b, err := json.Marshal(locations)
	if err != nil {
		return nil, fmt.Errorf("failed to encode locations: %w", err)
	}
	return b, nil
}

var _ InventoryRepository = (*SQLiteInventoryRepository)(nil)
