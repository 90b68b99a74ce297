// Package radius is the client side of the RADIUS reply attribute store: the
// system of record for which address a subscriber gets on the wire.
package radius

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mr-karan/ipamd/internal/kvstore"
)

// FramedIPAddress is the reply attribute carrying a subscriber's address.
const FramedIPAddress = "Framed-IP-Address"

// ReplyStore reads and writes per-user reply attributes.
type ReplyStore interface {
	// UpsertReplyAttribute replaces the attribute for username, creating it
	// if the user has none.
	UpsertReplyAttribute(ctx context.Context, username, attribute, value string) error

	// GetReplyAttribute returns the attribute value and whether it exists.
	GetReplyAttribute(ctx context.Context, username, attribute string) (string, bool, error)
}

// MemoryStore keeps reply attributes in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	attrs map[string]map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attrs: make(map[string]map[string]string)}
}

func (m *MemoryStore) UpsertReplyAttribute(_ context.Context, username, attribute, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.attrs[username]
	if !ok {
		user = make(map[string]string)
		m.attrs[username] = user
	}
	user[attribute] = value
	return nil
}

func (m *MemoryStore) GetReplyAttribute(_ context.Context, username, attribute string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.attrs[username][attribute]
	return v, ok, nil
}

// KVStore keeps reply attributes in a kvstore.Store without expiry.
type KVStore struct {
	kv kvstore.Store
}

// NewKVStore wraps kv.
func NewKVStore(kv kvstore.Store) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) UpsertReplyAttribute(ctx context.Context, username, attribute, value string) error {
	if err := s.kv.Set(ctx, replyKey(username, attribute), []byte(value), 0); err != nil {
		return fmt.Errorf("failed to write %s for %s: %w", attribute, username, err)
	}
	return nil
}

func (s *KVStore) GetReplyAttribute(ctx context.Context, username, attribute string) (string, bool, error) {
	v, err := s.kv.Get(ctx, replyKey(username, attribute))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s for %s: %w", attribute, username, err)
	}
	return string(v), true, nil
}

func replyKey(username, attribute string) string {
	return "radreply:" + username + ":" + attribute
}
