package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"vitibrasil/pkg/vitis"
)

// openStore opens and initializes the configured store. The returned
// function releases its connections.
func openStore(ctx context.Context, cfg Config) (vitis.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return vitis.NewInMemoryStore(), func() {}, nil

	case "sqlite", "sqlite3":
		// "sqlite" is modernc.org/sqlite (pure Go), "sqlite3" is mattn/go-sqlite3 (cgo).
		return openSQLStore(ctx, cfg, cfg.StoreDriver, vitis.DialectSQLite)

	case "mysql":
		return openSQLStore(ctx, cfg, "mysql", vitis.DialectMySQL)

	case "pgx":
		return openSQLStore(ctx, cfg, "pgx", vitis.DialectPostgres)

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store := vitis.NewPostgresStore(pool, cfg.TablePrefix)
		if err := store.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to init store schema: %w", err)
		}
		return store, pool.Close, nil

	case "redis":
		store, err := vitis.NewRedisStoreFromURL(cfg.StoreDSN, cfg.TablePrefix+":")
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return store, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openSQLStore(ctx context.Context, cfg Config, driver string, dialect vitis.SQLDialect) (vitis.Store, func(), error) {
	db, err := sql.Open(driver, cfg.StoreDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == vitis.DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	store := vitis.NewSQLStore(db, cfg.TablePrefix, dialect)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to init store schema: %w", err)
	}
	return store, func() { db.Close() }, nil
}
