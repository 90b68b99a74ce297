package kvstore

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
)

func testLogger() logf.Logger {
	return logf.New(logf.Opts{Writer: io.Discard})
}

// fakeClock is a settable time source shared by the backends under test.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func backends(t *testing.T) map[string]func(clock *fakeClock) Store {
	return map[string]func(clock *fakeClock) Store{
		"memory": func(clock *fakeClock) Store {
			m := NewMemory(context.Background(), 0, testLogger())
			m.now = clock.Now
			return m
		},
		"bolt": func(clock *fakeClock) Store {
			b, err := OpenBolt(context.Background(), filepath.Join(t.TempDir(), "kv.db"), 0, testLogger())
			require.NoError(t, err)
			b.now = clock.Now
			return b
		},
	}
}

func TestStoreBackends(t *testing.T) {
	ctx := context.Background()

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{cur: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
			s := open(clock)
			defer s.Close()

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, "migration:a:progress", []byte("p"), time.Hour))
			require.NoError(t, s.Set(ctx, "migration:a:backup", []byte("b"), 24*time.Hour))
			require.NoError(t, s.Set(ctx, "radreply:alice", []byte("10.0.0.1"), 0))

			v, err := s.Get(ctx, "migration:a:progress")
			require.NoError(t, err)
			assert.Equal(t, []byte("p"), v)

			keys, err := s.Keys(ctx, "migration:")
			require.NoError(t, err)
			assert.Equal(t, []string{"migration:a:backup", "migration:a:progress"}, keys)

			clock.Advance(2 * time.Hour)

			_, err = s.Get(ctx, "migration:a:progress")
			assert.ErrorIs(t, err, ErrNotFound, "progress should expire after its ttl")

			v, err = s.Get(ctx, "migration:a:backup")
			require.NoError(t, err)
			assert.Equal(t, []byte("b"), v)

			keys, err = s.Keys(ctx, "migration:")
			require.NoError(t, err)
			assert.Equal(t, []string{"migration:a:backup"}, keys)

			clock.Advance(365 * 24 * time.Hour)
			_, err = s.Get(ctx, "radreply:alice")
			assert.NoError(t, err, "entries without ttl never expire")

			require.NoError(t, s.Delete(ctx, "radreply:alice"))
			require.NoError(t, s.Delete(ctx, "radreply:alice"))
			_, err = s.Get(ctx, "radreply:alice")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryCleanupExpired(t *testing.T) {
	clock := &fakeClock{cur: time.Now()}
	m := NewMemory(context.Background(), 0, testLogger())
	defer m.Close()
	m.now = clock.Now

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))

	clock.Advance(time.Hour)
	assert.Equal(t, 1, m.cleanupExpired())
	assert.Len(t, m.entries, 1)
}

func TestBoltCleanupAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")
	clock := &fakeClock{cur: time.Now()}

	b, err := OpenBolt(ctx, path, 0, testLogger())
	require.NoError(t, err)
	b.now = clock.Now
	require.NoError(t, b.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, b.Set(ctx, "long", []byte("y"), 0))

	clock.Advance(time.Hour)
	n, err := b.cleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, b.Close())

	b, err = OpenBolt(ctx, path, 0, testLogger())
	require.NoError(t, err)
	defer b.Close()
	v, err := b.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), v)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "redis"}, testLogger())
	assert.Error(t, err)

	s, err := Open(context.Background(), Config{}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)
	require.NoError(t, s.Close())
}
