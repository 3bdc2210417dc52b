package vitis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLDialect defines the SQL syntax variant.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// refreshRowID is the primary key of the single row holding the timestamp.
const refreshRowID = 1

// SQLStore implements Store using database/sql.
// It supports SQLite, Postgres, and MySQL.
//
// Two tables are used: <prefix>_records holds one encoded record set per key
// and <prefix>_refresh holds the store-wide refresh timestamp in a single row.
// Timestamps are unix nanoseconds so every driver reads them back the same.
type SQLStore struct {
	db           *sql.DB
	recordsTable string
	refreshTable string
	dialect      SQLDialect
	now          func() time.Time
}

// NewSQLStore creates a new SQL-backed store.
// The user is responsible for opening the *sql.DB with their preferred driver.
func NewSQLStore(db *sql.DB, tablePrefix string, dialect SQLDialect, opts ...StoreOption) *SQLStore {
	if tablePrefix == "" {
		tablePrefix = "vitis"
	}
	cfg := newStoreConfig(opts)
	return &SQLStore{
		db:           db,
		recordsTable: tablePrefix + "_records",
		refreshTable: tablePrefix + "_refresh",
		dialect:      dialect,
		now:          cfg.now,
	}
}

// InitSchema creates the necessary tables if they don't exist.
// This is a helper for "migration-free" usage.
func (s *SQLStore) InitSchema(ctx context.Context) error {
	keyType := "TEXT"
	blobType := "BLOB"

	switch s.dialect {
	case DialectPostgres:
		blobType = "BYTEA"
	case DialectMySQL:
		// MySQL cannot index unbounded TEXT.
		keyType = "VARCHAR(255)"
		blobType = "LONGBLOB"
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_key %s PRIMARY KEY,
			payload %s NOT NULL,
			row_count INTEGER NOT NULL,
			updated_at BIGINT NOT NULL
		)`, s.recordsTable, keyType, blobType),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			refreshed_at BIGINT NOT NULL
		)`, s.refreshTable),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("init", "", err)
		}
	}
	return nil
}

// placeholders returns n bind markers for the dialect.
func (s *SQLStore) placeholders(n int) []string {
	ph := make([]string, n)
	for i := range ph {
		if s.dialect == DialectPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return ph
}

func (s *SQLStore) Exists(ctx context.Context, key string) (bool, error) {
	ph := s.placeholders(1)
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE record_key = %s`, s.recordsTable, ph[0])

	var one int
	err := s.db.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("exists", key, err)
	}
	return true, nil
}

func (s *SQLStore) Read(ctx context.Context, key string) (*RecordSet, error) {
	ph := s.placeholders(1)
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE record_key = %s`, s.recordsTable, ph[0])

	var payload []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, storeErr("read", key, err)
	}

	rs, err := UnmarshalRecordSet(payload)
	if err != nil {
		return nil, storeErr("read", key, err)
	}
	return rs, nil
}

func (s *SQLStore) Write(ctx context.Context, key string, rs *RecordSet) error {
	payload, err := MarshalRecordSet(rs)
	if err != nil {
		return storeErr("write", key, err)
	}

	ph := s.placeholders(4)
	var upsertRecord, upsertRefresh string
	if s.dialect == DialectMySQL {
		upsertRecord = fmt.Sprintf(`
			INSERT INTO %s (record_key, payload, row_count, updated_at)
			VALUES (%s, %s, %s, %s)
			ON DUPLICATE KEY UPDATE
				payload = VALUES(payload),
				row_count = VALUES(row_count),
				updated_at = VALUES(updated_at)
		`, s.recordsTable, ph[0], ph[1], ph[2], ph[3])
		upsertRefresh = fmt.Sprintf(`
			INSERT INTO %s (id, refreshed_at) VALUES (%s, %s)
			ON DUPLICATE KEY UPDATE refreshed_at = VALUES(refreshed_at)
		`, s.refreshTable, ph[0], ph[1])
	} else {
		// SQLite and Postgres use ON CONFLICT
		upsertRecord = fmt.Sprintf(`
			INSERT INTO %s (record_key, payload, row_count, updated_at)
			VALUES (%s, %s, %s, %s)
			ON CONFLICT(record_key) DO UPDATE SET
				payload = excluded.payload,
				row_count = excluded.row_count,
				updated_at = excluded.updated_at
		`, s.recordsTable, ph[0], ph[1], ph[2], ph[3])
		upsertRefresh = fmt.Sprintf(`
			INSERT INTO %s (id, refreshed_at) VALUES (%s, %s)
			ON CONFLICT(id) DO UPDATE SET refreshed_at = excluded.refreshed_at
		`, s.refreshTable, ph[0], ph[1])
	}

	now := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("write", key, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, upsertRecord, key, payload, rs.Len(), now); err != nil {
		return storeErr("write", key, err)
	}
	if _, err := tx.ExecContext(ctx, upsertRefresh, refreshRowID, now); err != nil {
		return storeErr("write", key, err)
	}
	return storeErr("write", key, tx.Commit())
}

func (s *SQLStore) LastRefresh(ctx context.Context) (time.Time, error) {
	ph := s.placeholders(1)
	query := fmt.Sprintf(`SELECT refreshed_at FROM %s WHERE id = %s`, s.refreshTable, ph[0])

	var nanos int64
	err := s.db.QueryRowContext(ctx, query, refreshRowID).Scan(&nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("last_refresh", "", err)
	}
	return time.Unix(0, nanos), nil
}
