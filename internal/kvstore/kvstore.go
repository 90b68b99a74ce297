// Package kvstore is a small TTL-capable key/value abstraction used for
// operational state that must outlive a single request, such as migration
// progress and backups.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zerodha/logf"
)

// ErrNotFound is returned for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// Store is a key/value store whose entries may expire.
type Store interface {
	// Set writes value under key. A zero ttl means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend.
	Close() error
}

const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendEtcd   = "etcd"
)

// Config selects and configures a backend.
type Config struct {
	Backend         string
	CleanupInterval time.Duration

	BoltPath string

	EtcdEndpoints   []string
	EtcdDialTimeout time.Duration
}

// Open returns the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger logf.Logger) (Store, error) {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(ctx, cfg.CleanupInterval, logger), nil
	case BackendBolt:
		return OpenBolt(ctx, cfg.BoltPath, cfg.CleanupInterval, logger)
	case BackendEtcd:
		return NewEtcd(cfg.EtcdEndpoints, cfg.EtcdDialTimeout, logger)
	default:
		return nil, fmt.Errorf("unknown kv backend: %s", cfg.Backend)
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(now, exp time.Time) bool {
	return !exp.IsZero() && !now.Before(exp)
}
