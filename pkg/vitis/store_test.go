package vitis

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

// storeFactory builds an empty store whose writes are stamped by clock.
type storeFactory func(t *testing.T, clock func() time.Time) Store

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("ReadAbsent", func(t *testing.T) {
		s := newStore(t, time.Now)

		ok, err := s.Exists(ctx, "production")
		if err != nil || ok {
			t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
		}
		_, err = s.Read(ctx, "production")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		last, err := s.LastRefresh(ctx)
		if err != nil || !last.IsZero() {
			t.Errorf("expected zero refresh time, got %v (err=%v)", last, err)
		}
	})

	t.Run("WriteRead", func(t *testing.T) {
		s := newStore(t, time.Now)
		rs := hybridRows(t)
		_ = rs.Append("1.234", -2.5)

		if err := s.Write(ctx, "processing_hybrid_americans_2023", rs); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		ok, err := s.Exists(ctx, "processing_hybrid_americans_2023")
		if err != nil || !ok {
			t.Fatalf("expected key present, got ok=%v err=%v", ok, err)
		}
		back, err := s.Read(ctx, "processing_hybrid_americans_2023")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !rs.Equal(back) {
			t.Errorf("round trip differs:\nwant %v\ngot  %v", rs, back)
		}
	})

	t.Run("RaggedWriteRejected", func(t *testing.T) {
		s := newStore(t, time.Now)
		rs := &RecordSet{Columns: []string{"a", "b"}, Rows: []Row{{"x"}}}

		if err := s.Write(ctx, "production", rs); !errors.Is(err, ErrStore) {
			t.Fatalf("expected ErrStore, got %v", err)
		}
		if ok, _ := s.Exists(ctx, "production"); ok {
			t.Error("ragged record set was stored")
		}
		if last, _ := s.LastRefresh(ctx); !last.IsZero() {
			t.Errorf("refresh time moved on a rejected write: %v", last)
		}
	})

	t.Run("EmptySetIsPresent", func(t *testing.T) {
		s := newStore(t, time.Now)

		if err := s.Write(ctx, "export_raisins", NewRecordSet("País", "Valor (US$)")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		back, err := s.Read(ctx, "export_raisins")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if back.Len() != 0 || len(back.Columns) != 2 {
			t.Errorf("expected empty set with 2 columns, got %+v", back)
		}
	})

	t.Run("OverwriteReplaces", func(t *testing.T) {
		s := newStore(t, time.Now)

		_ = s.Write(ctx, "production", hybridRows(t))
		replacement := NewRecordSet("Produto")
		_ = replacement.Append("Suco")
		if err := s.Write(ctx, "production", replacement); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		back, err := s.Read(ctx, "production")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if !back.Equal(replacement) {
			t.Errorf("expected replacement, got %v", back)
		}
	})

	t.Run("WriteBumpsSharedTimestamp", func(t *testing.T) {
		clock := newFakeClock()
		s := newStore(t, clock.Now)

		_ = s.Write(ctx, "production", hybridRows(t))
		first, _ := s.LastRefresh(ctx)
		if !first.Equal(clock.Now()) {
			t.Errorf("expected %v, got %v", clock.Now(), first)
		}

		clock.Advance(10 * time.Minute)
		_ = s.Write(ctx, "export", hybridRows(t))
		second, err := s.LastRefresh(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !second.Equal(clock.Now()) {
			t.Errorf("expected timestamp to follow the latest write, got %v", second)
		}
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t, time.Now)

		var wg sync.WaitGroup
		for _, key := range Catalog() {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := s.Write(ctx, name, hybridRows(t)); err != nil {
					t.Errorf("%s: %v", name, err)
				}
			}(key.String())
		}
		wg.Wait()

		for _, key := range Catalog() {
			if ok, _ := s.Exists(ctx, key.String()); !ok {
				t.Errorf("expected %s to be stored", key)
			}
		}
	})
}

// ============ Memory ============

func TestInMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock func() time.Time) Store {
		return NewInMemoryStore(WithStoreClock(clock))
	})
}

func TestInMemoryStore_ReadReturnsCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Write(ctx, "production", hybridRows(t))

	got, _ := s.Read(ctx, "production")
	got.Rows[0][0] = "mutated"

	again, _ := s.Read(ctx, "production")
	if again.Rows[0][0] == "mutated" {
		t.Error("mutating a read result changed the stored entry")
	}
}

// ============ SQL ============

func TestSQLStore_SQLite(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock func() time.Time) Store {
		db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vitis.db")+"?_pragma=busy_timeout(5000)")
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { db.Close() })

		s := NewSQLStore(db, "", DialectSQLite, WithStoreClock(clock))
		if err := s.InitSchema(context.Background()); err != nil {
			t.Fatalf("InitSchema failed: %v", err)
		}
		return s
	})
}

func TestSQLStore_InitSchemaIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vitis.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewSQLStore(db, "stats", DialectSQLite)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.InitSchema(ctx); err != nil {
			t.Fatalf("InitSchema #%d failed: %v", i+1, err)
		}
	}
	if err := s.Write(ctx, "production", hybridRows(t)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var rows int
	if err := db.QueryRow(`SELECT row_count FROM stats_records WHERE record_key = ?`, "production").Scan(&rows); err != nil {
		t.Fatalf("query: %v", err)
	}
	if rows != 2 {
		t.Errorf("expected row_count 2, got %d", rows)
	}
}

func TestSQLStore_MissingSchemaIsStoreError(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vitis.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewSQLStore(db, "", DialectSQLite)
	_, err = s.Exists(context.Background(), "production")

	var se *StoreError
	if !errors.As(err, &se) || se.Op != "exists" {
		t.Errorf("expected exists StoreError, got %v", err)
	}
}

func TestSQLStore_CorruptPayloadIsStoreError(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "vitis.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	s := NewSQLStore(db, "", DialectSQLite)
	if err := s.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO vitis_records (record_key, payload, row_count, updated_at) VALUES (?, ?, 0, 0)`,
		"production", []byte{0xff, 0xff}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Read(ctx, "production"); KindOf(err) != KindStore {
		t.Errorf("expected store error for corrupt payload, got %v", err)
	}
}

// ============ Integration (external services) ============

func TestSQLStore_MySQL(t *testing.T) {
	dsn := os.Getenv("VITIS_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("VITIS_TEST_MYSQL_DSN not set")
	}

	runStoreContract(t, func(t *testing.T, clock func() time.Time) Store {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			t.Fatalf("open mysql: %v", err)
		}
		t.Cleanup(func() { db.Close() })

		prefix := "vitis_test"
		for _, table := range []string{prefix + "_records", prefix + "_refresh"} {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		}
		s := NewSQLStore(db, prefix, DialectMySQL, WithStoreClock(clock))
		if err := s.InitSchema(context.Background()); err != nil {
			t.Fatalf("InitSchema failed: %v", err)
		}
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("VITIS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VITIS_TEST_POSTGRES_DSN not set")
	}

	runStoreContract(t, func(t *testing.T, clock func() time.Time) Store {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		t.Cleanup(pool.Close)

		prefix := "vitis_test"
		_, _ = pool.Exec(ctx, "DROP TABLE IF EXISTS "+prefix+"_records, "+prefix+"_refresh")
		s := NewPostgresStore(pool, prefix, WithStoreClock(clock))
		if err := s.InitSchema(ctx); err != nil {
			t.Fatalf("InitSchema failed: %v", err)
		}
		return s
	})
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("VITIS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VITIS_TEST_REDIS_URL not set")
	}

	runStoreContract(t, func(t *testing.T, clock func() time.Time) Store {
		s, err := NewRedisStoreFromURL(url, "vitis_test:"+t.Name()+":", WithStoreClock(clock))
		if err != nil {
			t.Fatalf("NewRedisStoreFromURL failed: %v", err)
		}
		ctx := context.Background()
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("redis unavailable: %v", err)
		}
		t.Cleanup(func() {
			iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
			for iter.Next(ctx) {
				s.client.Del(ctx, iter.Val())
			}
			s.Close()
		})
		return s
	})
}

func TestRedisStore_UnreachableIsStoreError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	s := NewRedisStore(client, "")

	_, err := s.Exists(context.Background(), "production")
	if KindOf(err) != KindStore {
		t.Errorf("expected store error, got %v", err)
	}
}
