package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mr-karan/ipamd/internal/kvstore"
)

// State is the lifecycle of a migration run.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateComplete  State = "complete"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// ProgressStatus is the status carried in a progress record.
type ProgressStatus string

const (
	ProgressRunning   ProgressStatus = "running"
	ProgressComplete  ProgressStatus = "complete"
	ProgressAbandoned ProgressStatus = "abandoned"
)

// Request names the pools and profile of a migration.
type Request struct {
	OldPoolID string `json:"old_pool_id"`
	NewPoolID string `json:"new_pool_id"`
	ProfileID string `json:"service_profile_id"`
}

// Metadata describes a migration and is kept for as long as the backup.
type Metadata struct {
	ID        string    `json:"id"`
	OldPoolID string    `json:"old_pool_id"`
	NewPoolID string    `json:"new_pool_id"`
	ProfileID string    `json:"service_profile_id"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusRecord is the current lifecycle state of a migration.
type StatusRecord struct {
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Progress is the pollable progress of a migration run.
type Progress struct {
	MigrationID     string         `json:"migration_id"`
	Total           int            `json:"total"`
	Processed       int            `json:"processed"`
	Succeeded       int            `json:"succeeded"`
	Failed          int            `json:"failed"`
	FailedUsernames []string       `json:"failed_usernames"`
	Percentage      float64        `json:"percentage"`
	Status          ProgressStatus `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func (p *Progress) updatePercentage() {
	if p.Total == 0 {
		if p.Status == ProgressComplete {
			p.Percentage = 100
		}
		return
	}
	p.Percentage = math.Round(float64(p.Processed)/float64(p.Total)*10000) / 100
}

// Backup maps every affected username to the address bound before the
// migration touched it. An empty address means the client had none.
type Backup struct {
	MigrationID string            `json:"migration_id"`
	CapturedAt  time.Time         `json:"captured_at"`
	Bindings    map[string]string `json:"bindings"`
}

// RollbackRecord summarises a rollback of a migration.
type RollbackRecord struct {
	MigrationID     string    `json:"migration_id"`
	At              time.Time `json:"at"`
	Restored        int       `json:"restored"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	FailedUsernames []string  `json:"failed_usernames"`
}

// Summary joins the metadata, status and progress of a migration.
type Summary struct {
	Metadata
	Status   *StatusRecord `json:"status,omitempty"`
	Progress *Progress     `json:"progress,omitempty"`
}

const keyPrefix = "migration:"

func key(id, record string) string {
	return keyPrefix + id + ":" + record
}

func (m *Migrator) put(ctx context.Context, k string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", k, err)
	}
	if err := m.kv.Set(ctx, k, b, ttl); err != nil {
		return fmt.Errorf("error writing %s: %w", k, err)
	}
	return nil
}

func (m *Migrator) get(ctx context.Context, k string, v any) error {
	b, err := m.kv.Get(ctx, k)
	if errors.Is(err, kvstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error reading %s: %w", k, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("error decoding %s: %w", k, err)
	}
	return nil
}

func (m *Migrator) setState(ctx context.Context, id string, state State, cause error) error {
	rec := StatusRecord{State: state, UpdatedAt: m.now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	return m.put(ctx, key(id, "status"), rec, m.cfg.BackupTTL)
}

func (m *Migrator) flush(ctx context.Context, p *Progress) error {
	p.updatePercentage()
	return m.put(ctx, key(p.MigrationID, "progress"), p, m.cfg.ProgressTTL)
}

// Progress returns the latest progress record of a migration.
func (m *Migrator) Progress(ctx context.Context, id string) (*Progress, error) {
	var p Progress
	if err := m.get(ctx, key(id, "progress"), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Status returns the lifecycle state of a migration.
func (m *Migrator) Status(ctx context.Context, id string) (*StatusRecord, error) {
	var s StatusRecord
	if err := m.get(ctx, key(id, "status"), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Metadata returns the request a migration was started with.
func (m *Migrator) Metadata(ctx context.Context, id string) (*Metadata, error) {
	var md Metadata
	if err := m.get(ctx, key(id, "metadata"), &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Backup returns the bindings captured before a migration mutated anything.
func (m *Migrator) Backup(ctx context.Context, id string) (*Backup, error) {
	var b Backup
	if err := m.get(ctx, key(id, "backup"), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Summary returns metadata, status and progress of a migration. Progress may
// be missing once its record has expired.
func (m *Migrator) Summary(ctx context.Context, id string) (*Summary, error) {
	md, err := m.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &Summary{Metadata: *md}

	if st, err := m.Status(ctx, id); err == nil {
		out.Status = st
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if p, err := m.Progress(ctx, id); err == nil {
		out.Progress = p
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return out, nil
}

// History lists every known migration, newest first.
func (m *Migrator) History(ctx context.Context) ([]*Summary, error) {
	keys, err := m.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	var out []*Summary
	for _, k := range keys {
		if !strings.HasSuffix(k, ":metadata") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, keyPrefix), ":metadata")
		s, err := m.Summary(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
