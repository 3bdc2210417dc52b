package vitis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using github.com/jackc/pgx/v5.
// It is designed to work with pgxpool, similar to River, so one pool can
// serve both the store and the background refresher.
type PostgresStore struct {
	pool         *pgxpool.Pool
	recordsTable string
	refreshTable string
	now          func() time.Time
}

// NewPostgresStore creates a new Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, tablePrefix string, opts ...StoreOption) *PostgresStore {
	if tablePrefix == "" {
		tablePrefix = "vitis"
	}
	cfg := newStoreConfig(opts)
	return &PostgresStore{
		pool:         pool,
		recordsTable: tablePrefix + "_records",
		refreshTable: tablePrefix + "_refresh",
		now:          cfg.now,
	}
}

// InitSchema creates the necessary tables if they don't exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_key TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			row_count INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			refreshed_at TIMESTAMPTZ NOT NULL
		);
	`, s.recordsTable, s.refreshTable)

	_, err := s.pool.Exec(ctx, query)
	return storeErr("init", "", err)
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE record_key = $1)`, s.recordsTable)

	var exists bool
	if err := s.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, storeErr("exists", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) Read(ctx context.Context, key string) (*RecordSet, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE record_key = $1`, s.recordsTable)

	var payload []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (s *PostgresStore) Write(ctx context.Context, key string, rs *RecordSet) error {
	payload, err := MarshalRecordSet(rs)
	if err != nil {
		return storeErr("write", key, err)
	}

	upsertRecord := fmt.Sprintf(`
		INSERT INTO %s (record_key, payload, row_count, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(record_key) DO UPDATE SET
			payload = excluded.payload,
			row_count = excluded.row_count,
			updated_at = excluded.updated_at
	`, s.recordsTable)
	upsertRefresh := fmt.Sprintf(`
		INSERT INTO %s (id, refreshed_at) VALUES ($1, $2)
		ON CONFLICT(id) DO UPDATE SET refreshed_at = excluded.refreshed_at
	`, s.refreshTable)

	now := s.now()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertRecord, key, payload, rs.Len(), now); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, upsertRefresh, refreshRowID, now)
		return err
	})
	return storeErr("write", key, err)
}

func (s *PostgresStore) LastRefresh(ctx context.Context) (time.Time, error) {
	query := fmt.Sprintf(`SELECT refreshed_at FROM %s WHERE id = $1`, s.refreshTable)

	var refreshedAt time.Time
	err := s.pool.QueryRow(ctx, query, refreshRowID).Scan(&refreshedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, storeErr("last_refresh", "", err)
	}
	return refreshedAt, nil
}
