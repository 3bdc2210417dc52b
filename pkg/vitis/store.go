package vitis

import (
	"context"
	"time"
)

// Store is the tabular store behind the Extractor: named record sets plus
// one store-wide last-refresh timestamp.
// Implementations (Memory, SQL, Postgres, Redis) must be thread-safe and
// must report engine failures as *StoreError.
type Store interface {
	// Exists reports whether a record set is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Read returns the record set stored under key.
	// Returns a *NotFoundError if the key is absent. A stored empty set is
	// returned as an empty RecordSet.
	Read(ctx context.Context, key string) (*RecordSet, error)

	// Write creates or wholesale replaces the record set under key and sets
	// the last-refresh timestamp to now, atomically.
	Write(ctx context.Context, key string, rs *RecordSet) error

	// LastRefresh returns the time of the most recent successful Write, or
	// the zero time if nothing was ever written.
	LastRefresh(ctx context.Context) (time.Time, error)
}

// StoreOption configures a Store implementation.
type StoreOption interface {
	apply(*storeConfig)
}

type storeOptionFunc func(*storeConfig)

func (f storeOptionFunc) apply(c *storeConfig) {
	f(c)
}

type storeConfig struct {
	now func() time.Time
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{now: time.Now}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return cfg
}

// WithStoreClock sets the clock used to stamp writes.
func WithStoreClock(now func() time.Time) StoreOption {
	return storeOptionFunc(func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	})
}
