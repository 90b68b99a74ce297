package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/zerodha/logf"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd is a Store backed by an etcd cluster. TTLs map onto leases, so expiry
// is enforced by etcd itself.
type Etcd struct {
	cli    *clientv3.Client
	logger logf.Logger
}

// NewEtcd connects to the given endpoints.
func NewEtcd(endpoints []string, dialTimeout time.Duration, logger logf.Logger) (*Etcd, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one etcd endpoint is required")
	}
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &Etcd{cli: cli, logger: logger}, nil
}

func (e *Etcd) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var opts []clientv3.OpOption
	if ttl > 0 {
		secs := int64(ttl / time.Second)
		if secs < 1 {
			secs = 1
		}
		lease, err := e.cli.Grant(ctx, secs)
		if err != nil {
			return fmt.Errorf("failed to grant lease for %s: %w", key, err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}
	if _, err := e.cli.Put(ctx, key, string(value), opts...); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (e *Etcd) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := e.cli.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

func (e *Etcd) Delete(ctx context.Context, key string) error {
	if _, err := e.cli.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (e *Etcd) Keys(ctx context.Context, prefix string) ([]string, error) {
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

func (e *Etcd) Close() error {
	return e.cli.Close()
}
