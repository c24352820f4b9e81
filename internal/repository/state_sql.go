package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stocksync-api/internal/model"
)

// sqlDialect holds the statements that differ between SQL backends.
type sqlDialect struct {
	name       string
	schema     []string
	getCred    string
	saveCred   string
	getCursor  string
	saveCursor string
	timeArg    func(time.Time) any
}

var (
	sqliteState = sqlDialect{
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS credentials (
				integration_id TEXT PRIMARY KEY,
				access_token TEXT NULL,
				refresh_token TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_cursors (
				stream TEXT PRIMARY KEY,
				last_sync_timestamp TEXT NOT NULL
			)`,
		},
		getCred: `SELECT integration_id, access_token, refresh_token, updated_at FROM credentials WHERE integration_id = ?`,
		saveCred: `INSERT INTO credentials (integration_id, access_token, refresh_token, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(integration_id) DO UPDATE SET
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				updated_at = excluded.updated_at`,
		getCursor: `SELECT stream, last_sync_timestamp FROM sync_cursors WHERE stream = ?`,
		saveCursor: `INSERT INTO sync_cursors (stream, last_sync_timestamp)
			VALUES (?, ?)
			ON CONFLICT(stream) DO UPDATE SET last_sync_timestamp = excluded.last_sync_timestamp`,
		timeArg: func(t time.Time) any { return textTime(t) },
	}

	postgresState = sqlDialect{
		name: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS credentials (
				integration_id TEXT PRIMARY KEY,
				access_token TEXT NULL,
				refresh_token TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sync_cursors (
				stream TEXT PRIMARY KEY,
				last_sync_timestamp TIMESTAMPTZ NOT NULL
			)`,
		},
		getCred: `SELECT integration_id, access_token, refresh_token, updated_at FROM credentials WHERE integration_id = $1`,
		saveCred: `INSERT INTO credentials (integration_id, access_token, refresh_token, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (integration_id) DO UPDATE SET
				access_token = EXCLUDED.access_token,
				refresh_token = EXCLUDED.refresh_token,
				updated_at = EXCLUDED.updated_at`,
		getCursor: `SELECT stream, last_sync_timestamp FROM sync_cursors WHERE stream = $1`,
		saveCursor: `INSERT INTO sync_cursors (stream, last_sync_timestamp)
			VALUES ($1, $2)
			ON CONFLICT (stream) DO UPDATE SET last_sync_timestamp = EXCLUDED.last_sync_timestamp`,
		timeArg: func(t time.Time) any { return t.UTC() },
	}

	mysqlState = sqlDialect{
		name: "mysql",
		schema: []string{
			"CREATE TABLE IF NOT EXISTS credentials (" +
				"integration_id VARCHAR(64) PRIMARY KEY," +
				"access_token TEXT NULL," +
				"refresh_token TEXT NOT NULL," +
				"updated_at DATETIME(6) NOT NULL" +
				") ENGINE=InnoDB",
			"CREATE TABLE IF NOT EXISTS sync_cursors (" +
				"stream VARCHAR(128) PRIMARY KEY," +
				"last_sync_timestamp DATETIME(6) NOT NULL" +
				") ENGINE=InnoDB",
		},
		getCred: `SELECT integration_id, access_token, refresh_token, updated_at FROM credentials WHERE integration_id = ?`,
		saveCred: `INSERT INTO credentials (integration_id, access_token, refresh_token, updated_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				access_token = VALUES(access_token),
				refresh_token = VALUES(refresh_token),
				updated_at = VALUES(updated_at)`,
		getCursor: `SELECT stream, last_sync_timestamp FROM sync_cursors WHERE stream = ?`,
		saveCursor: `INSERT INTO sync_cursors (stream, last_sync_timestamp)
			VALUES (?, ?)
			ON DUPLICATE KEY UPDATE last_sync_timestamp = VALUES(last_sync_timestamp)`,
		timeArg: func(t time.Time) any { return t.UTC() },
	}
)

// SQLStateRepository implements StateRepository on a SQL database.
type SQLStateRepository struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStateRepository stores state in SQLite.
func NewSQLiteStateRepository(db *sql.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db, dialect: sqliteState}
}

// NewPostgresStateRepository stores state in PostgreSQL.
func NewPostgresStateRepository(db *sql.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db, dialect: postgresState}
}

// NewMySQLStateRepository stores state in MySQL.
func NewMySQLStateRepository(db *sql.DB) *SQLStateRepository {
	return &SQLStateRepository{db: db, dialect: mysqlState}
}

// Migrate creates the credential and cursor tables.
func (r *SQLStateRepository) Migrate(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s state tables: %w", r.dialect.name, err)
		}
	}
	return nil
}

// GetCredential returns the credential for integrationID, or ErrNotFound.
func (r *SQLStateRepository) GetCredential(ctx context.Context, integrationID string) (*model.Credential, error) {
	var (
		cred      model.Credential
		access    sql.NullString
		updatedAt scanTime
	)
	err := r.db.QueryRowContext(ctx, r.dialect.getCred, integrationID).
		Scan(&cred.IntegrationID, &access, &cred.RefreshToken, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s: %w", integrationID, err)
	}
	cred.AccessToken = access.String
	cred.UpdatedAt = updatedAt.Time
	return &cred, nil
}

// SaveCredential upserts the credential. An empty access token is stored as NULL.
func (r *SQLStateRepository) SaveCredential(ctx context.Context, cred model.Credential) error {
	_, err := r.db.ExecContext(ctx, r.dialect.saveCred,
		cred.IntegrationID, nullString(cred.AccessToken), cred.RefreshToken, r.dialect.timeArg(cred.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", cred.IntegrationID, err)
	}
	return nil
}

// GetCursor returns the cursor for stream, or ErrNotFound.
func (r *SQLStateRepository) GetCursor(ctx context.Context, stream string) (*model.SyncCursor, error) {
	var (
		cursor model.SyncCursor
		ts     scanTime
	)
	err := r.db.QueryRowContext(ctx, r.dialect.getCursor, stream).Scan(&cursor.Stream, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor %s: %w", stream, err)
	}
	cursor.LastSyncTimestamp = ts.Time
	return &cursor, nil
}

// SaveCursor upserts the cursor.
func (r *SQLStateRepository) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	_, err := r.db.ExecContext(ctx, r.dialect.saveCursor, cursor.Stream, r.dialect.timeArg(cursor.LastSyncTimestamp))
	if err != nil {
		return fmt.Errorf("failed to save cursor %s: %w", cursor.Stream, err)
	}
	return nil
}

var _ StateRepository = (*SQLStateRepository)(nil)
