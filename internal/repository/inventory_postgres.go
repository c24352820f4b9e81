package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stocksync-api/internal/logger"
	"stocksync-api/internal/model"
)

// PostgresInventoryRepository implements InventoryRepository using PostgreSQL.
// Locations live in a JSONB column.
type PostgresInventoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresInventoryRepository wraps an open pool. Call Migrate before first use.
func NewPostgresInventoryRepository(db *sql.DB, log *zap.Logger) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{db: db, logger: logger.OrNop(log).Named("postgres")}
}

// Migrate creates the inventory table.
func (r *PostgresInventoryRepository) Migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS inventory (
		sku TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		locations JSONB NOT NULL DEFAULT '[]'::jsonb,
		synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_synced_at ON inventory(synced_at);
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create inventory table: %w", err)
	}
	stats := r.db.Stats()
	r.logger.Info("inventory repository ready", zap.Int("max_open", stats.MaxOpenConnections))
	return nil
}

// FindBySKU returns the record for sku, or ErrNotFound.
func (r *PostgresInventoryRepository) FindBySKU(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	var (
		rec       model.InventoryRecord
		locations []byte
		syncedAt  scanTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT sku, name, locations, synced_at FROM inventory WHERE sku = $1`, sku,
	).Scan(&rec.SKU, &rec.Name, &locations, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory %s: %w", sku, err)
	}

	if err := json.Unmarshal(locations, &rec.Locations); err != nil {
		return nil, fmt.Errorf("failed to decode locations for %s: %w", sku, err)
	}
	rec.SyncedAt = syncedAt.Time
	return &rec, nil
}

// ListAll returns every row ordered by SKU.
func (r *PostgresInventoryRepository) ListAll(ctx context.Context) ([]model.InventoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT sku, name, locations, synced_at FROM inventory ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var records []model.InventoryRecord
	for rows.Next() {
		var (
			rec       model.InventoryRecord
			locations []byte
			syncedAt  scanTime
		)
		if err := rows.Scan(&rec.SKU, &rec.Name, &locations, &syncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		if err := json.Unmarshal(locations, &rec.Locations); err != nil {
			return nil, fmt.Errorf("failed to decode locations for %s: %w", rec.SKU, err)
		}
		rec.SyncedAt = syncedAt.Time
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Upsert replaces the row keyed by record.SKU using ON CONFLICT.
func (r *PostgresInventoryRepository) Upsert(ctx context.Context, record model.InventoryRecord) error {
	locations, err := encodeLocations(record.Locations)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO inventory (sku, name, locations, synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name,
			locations = EXCLUDED.locations,
			synced_at = EXCLUDED.synced_at`,
		record.SKU, record.Name, locations, record.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert inventory %s: %w", record.SKU, err)
	}
	return nil
}

// DeleteAll removes every row.
func (r *PostgresInventoryRepository) DeleteAll(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM inventory`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear inventory: %w", err)
	}
	return result.RowsAffected()
}

// GetStats returns statistics about the inventory database.
func (r *PostgresInventoryRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"backend": "postgres"}

	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inventory").Scan(&count); err != nil {
		return nil, err
	}
	stats["total_records"] = count

	var lastSync scanTime
	if err := r.db.QueryRowContext(ctx, "SELECT MAX(synced_at) FROM inventory").Scan(&lastSync); err == nil && lastSync.Valid {
		stats["last_sync"] = lastSync.Time
	}

	var tableSize int64
	if err := r.db.QueryRowContext(ctx, `SELECT pg_total_relation_size('inventory')`).Scan(&tableSize); err == nil {
		stats["db_size_bytes"] = tableSize
	}

	dbStats := r.db.Stats()
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}

	return stats, nil
}

// Close closes the database connection pool.
func (r *PostgresInventoryRepository) Close() error {
	return r.db.Close()
}

var _ InventoryRepository = (*PostgresInventoryRepository)(nil)
