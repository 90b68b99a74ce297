package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zerodha/logf"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Store. Expired entries are hidden immediately and
// swept on an interval.
type Memory struct {
	logger logf.Logger

	mu      sync.RWMutex
	entries map[string]memEntry

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMemory creates a Memory store and starts its sweeper. The sweeper stops
// when ctx is done or Close is called.
func NewMemory(ctx context.Context, cleanupInterval time.Duration, logger logf.Logger) *Memory {
	ctx, cancel := context.WithCancel(ctx)
	m := &Memory{
		logger:  logger,
		entries: make(map[string]memEntry),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	if cleanupInterval > 0 {
		go m.cleanupRoutine(cleanupInterval)
	}
	return m
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(m.now(), ttl),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || expired(m.now(), e.expiresAt) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var keys []string
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !expired(now, e.expiresAt) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error {
	m.cancel()
	return nil
}

// cleanupRoutine periodically drops expired entries.
func (m *Memory) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

func (m *Memory) cleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if expired(now, e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept expired kv entries", "count", removed)
	}
	return removed
}
