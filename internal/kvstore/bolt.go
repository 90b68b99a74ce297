package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zerodha/logf"
	bolt "go.etcd.io/bbolt"
)

var kvBucket = []byte("kv")

const (
	boltOpenAttempts = 3
	boltRetryDelay   = 100 * time.Millisecond
)

// Bolt is a Store persisted in a bbolt file. Each value is prefixed with its
// expiry as unix nanoseconds, zero meaning no expiry.
type Bolt struct {
	db     *bolt.DB
	logger logf.Logger

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(ctx context.Context, path string, cleanupInterval time.Duration, logger logf.Logger) (*Bolt, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}

	var (
		db  *bolt.DB
		err error
	)
	for i := 0; i < boltOpenAttempts; i++ {
		db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
		if err == nil {
			break
		}
		logger.Warn("error opening kv database, retrying", "path", path, "attempt", i+1, "error", err)
		time.Sleep(boltRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open kv database after %d attempts: %w", boltOpenAttempts, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(kvBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv bucket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &Bolt{
		db:     db,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go b.cleanupRoutine(cleanupInterval)
	} else {
		close(b.done)
	}
	return b, nil
}

func (b *Bolt) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), encodeBolt(expiry(b.now(), ttl), value))
	})
}

func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(kvBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		exp, value := decodeBolt(raw)
		if expired(b.now(), exp) {
			return ErrNotFound
		}
		out = append([]byte(nil), value...)
		return nil
	})
	return out, err
}

func (b *Bolt) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Delete([]byte(key))
	})
}

func (b *Bolt) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	now := b.now()
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(kvBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			exp, _ := decodeBolt(v)
			if expired(now, exp) {
				continue
			}
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (b *Bolt) Close() error {
	b.cancel()
	<-b.done
	return b.db.Close()
}

func (b *Bolt) cleanupRoutine(interval time.Duration) {
	defer close(b.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			if n, err := b.cleanupExpired(); err != nil {
				b.logger.Error("failed to sweep kv database", "error", err)
			} else if n > 0 {
				b.logger.Debug("swept expired kv entries", "count", n)
			}
		}
	}
}

func (b *Bolt) cleanupExpired() (int, error) {
	now := b.now()
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(kvBucket)
		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			if exp, _ := decodeBolt(v); expired(now, exp) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func encodeBolt(exp time.Time, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	if !exp.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(exp.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func decodeBolt(raw []byte) (time.Time, []byte) {
	if len(raw) < 8 {
		return time.Time{}, raw
	}
	n := binary.BigEndian.Uint64(raw[:8])
	if n == 0 {
		return time.Time{}, raw[8:]
	}
	return time.Unix(0, int64(n)), raw[8:]
}
