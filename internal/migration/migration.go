// Package migration moves every subscriber of a service profile from one
// address pool to another, keeping a backup of the old bindings and a
// pollable progress record in a kvstore.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/kvstore"
	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/radius"
	"github.com/mr-karan/ipamd/internal/subscriber"
	"github.com/zerodha/logf"
	"golang.org/x/time/rate"
)

var (
	ErrNotFound    = errors.New("migration not found")
	ErrNotRunning  = errors.New("migration is not running")
	ErrRunning     = errors.New("migration is still running")
	ErrNoMAC       = errors.New("no mac address known for subscriber")
	ErrOutsidePool = errors.New("address is outside the old pool")
)

// Engine is the part of the IPAM engine a migration drives.
type Engine interface {
	GetPool(ctx context.Context, id string) (*models.Pool, error)
	ListSubnets(ctx context.Context, poolID string, status models.Status) ([]*models.Subnet, error)
	FreeInPool(ctx context.Context, poolID string) (uint64, error)
	ActiveForUser(ctx context.Context, poolID, username string) ([]*models.Allocation, error)
	AllocateInPool(ctx context.Context, poolID, mac, username string) (*models.Allocation, error)
	AllocateAddress(ctx context.Context, subnetID, address, mac, username string) (*models.Allocation, error)
	Release(ctx context.Context, id string) error
}

// Config holds the migration settings.
type Config struct {
	JobTimeout  time.Duration
	ProgressTTL time.Duration
	BackupTTL   time.Duration
	FlushEvery  int
	// RateLimit caps migrated clients per second. Zero disables pacing.
	RateLimit float64
}

// Migrator runs migrations.
type Migrator struct {
	cfg     Config
	engine  Engine
	replies radius.ReplyStore
	subs    subscriber.Directory
	kv      kvstore.Store
	logger  logf.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New returns a Migrator. Background runs started with Start derive from ctx.
func New(ctx context.Context, cfg Config, engine Engine, replies radius.ReplyStore,
	subs subscriber.Directory, kv kvstore.Store, logger logf.Logger) *Migrator {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.ProgressTTL <= 0 {
		cfg.ProgressTTL = time.Hour
	}
	if cfg.BackupTTL <= 0 {
		cfg.BackupTTL = 24 * time.Hour
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Migrator{
		cfg:     cfg,
		engine:  engine,
		replies: replies,
		subs:    subs,
		kv:      kv,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]context.CancelFunc),
	}
}

// Validation is the outcome of a dry check of a migration request.
type Validation struct {
	Valid              bool   `json:"valid"`
	Message            string `json:"message"`
	ClientCount        int    `json:"client_count"`
	AvailableAddresses uint64 `json:"available_ips"`
}

// Validate checks that both pools exist and that the new pool has room for
// every subscriber of the profile.
func (m *Migrator) Validate(ctx context.Context, req Request) (*Validation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if _, err := m.engine.GetPool(ctx, req.OldPoolID); err != nil {
		if errors.Is(err, ipam.ErrPoolNotFound) {
			return &Validation{Message: "old pool not found"}, nil
		}
		return nil, err
	}
	if _, err := m.engine.GetPool(ctx, req.NewPoolID); err != nil {
		if errors.Is(err, ipam.ErrPoolNotFound) {
			return &Validation{Message: "new pool not found"}, nil
		}
		return nil, err
	}

	clients, err := m.subs.ByProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	free, err := m.engine.FreeInPool(ctx, req.NewPoolID)
	if err != nil {
		return nil, err
	}

	v := &Validation{
		ClientCount:        len(clients),
		AvailableAddresses: free,
	}
	if uint64(len(clients)) > free {
		v.Message = fmt.Sprintf("new pool has %d free addresses for %d clients", free, len(clients))
		return v, nil
	}
	v.Valid = true
	v.Message = "migration can proceed"
	return v, nil
}

func (r Request) validate() error {
	fields := map[string]string{}
	if r.OldPoolID == "" {
		fields["old_pool_id"] = "is required"
	}
	if r.NewPoolID == "" {
		fields["new_pool_id"] = "is required"
	}
	if r.ProfileID == "" {
		fields["service_profile_id"] = "is required"
	}
	if r.OldPoolID != "" && r.OldPoolID == r.NewPoolID {
		fields["new_pool_id"] = "must differ from old_pool_id"
	}
	if len(fields) > 0 {
		return &ipam.ValidationError{Fields: fields}
	}
	return nil
}

// Start records a new migration and runs it in the background. It fails
// fast when either pool does not exist.
func (m *Migrator) Start(ctx context.Context, req Request) (string, error) {
	id := uuid.NewString()
	if err := m.begin(ctx, id, req); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.running[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
			cancel()
		}()
		if _, err := m.execute(runCtx, id, req); err != nil {
			m.logger.Error("migration failed", "migration_id", id, "error", err)
		}
	}()
	return id, nil
}

// Run records and executes a migration synchronously.
func (m *Migrator) Run(ctx context.Context, id string, req Request) (*Progress, error) {
	if err := m.begin(ctx, id, req); err != nil {
		return nil, err
	}
	return m.execute(ctx, id, req)
}

// Cancel stops a live migration. The run records its partial progress
// before it exits.
func (m *Migrator) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		cancel()
		m.logger.Info("migration cancel requested", "migration_id", id)
		return nil
	}
	if _, err := m.Metadata(ctx, id); err != nil {
		return err
	}
	return ErrNotRunning
}

// Close cancels live migrations and waits for them to record their state.
func (m *Migrator) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Migrator) isRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *Migrator) begin(ctx context.Context, id string, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}
	if _, err := m.engine.GetPool(ctx, req.OldPoolID); err != nil {
		return fmt.Errorf("old pool: %w", err)
	}
	if _, err := m.engine.GetPool(ctx, req.NewPoolID); err != nil {
		return fmt.Errorf("new pool: %w", err)
	}

	now := m.now().UTC()
	md := Metadata{
		ID:        id,
		OldPoolID: req.OldPoolID,
		NewPoolID: req.NewPoolID,
		ProfileID: req.ProfileID,
		CreatedAt: now,
	}
	if err := m.put(ctx, key(id, "metadata"), md, m.cfg.BackupTTL); err != nil {
		return err
	}
	if err := m.flush(ctx, &Progress{MigrationID: id, Status: ProgressRunning, StartedAt: now}); err != nil {
		return err
	}
	if err := m.setState(ctx, id, StateCreated, nil); err != nil {
		return err
	}

	metrics.MigrationsStarted.Inc()
	m.logger.Info("migration created", "migration_id", id, "old_pool_id", req.OldPoolID,
		"new_pool_id", req.NewPoolID, "profile_id", req.ProfileID)
	return nil
}

// execute runs the migration bounded by the job timeout. Records are written
// with a context that outlives the run so that partial progress survives a
// timeout or cancellation.
func (m *Migrator) execute(parent context.Context, id string, req Request) (*Progress, error) {
	ctx, cancel := context.WithTimeout(parent, m.cfg.JobTimeout)
	defer cancel()
	persist := context.WithoutCancel(parent)
	started := m.now()

	if err := m.setState(persist, id, StateRunning, nil); err != nil {
		return nil, m.abort(persist, id, started, err)
	}

	clients, err := m.subs.ByProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, m.abort(persist, id, started, fmt.Errorf("error listing subscribers: %w", err))
	}

	backup, err := m.captureBackup(ctx, id, clients)
	if err != nil {
		return nil, m.abort(persist, id, started, err)
	}
	if err := m.put(persist, key(id, "backup"), backup, m.cfg.BackupTTL); err != nil {
		return nil, m.abort(persist, id, started, err)
	}

	p := &Progress{
		MigrationID:     id,
		Total:           len(clients),
		FailedUsernames: []string{},
		Status:          ProgressRunning,
		StartedAt:       started.UTC(),
	}
	if err := m.flush(persist, p); err != nil {
		return nil, m.abort(persist, id, started, err)
	}
	m.logger.Info("migration started", "migration_id", id, "clients", len(clients))

	var limiter *rate.Limiter
	if m.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.cfg.RateLimit), 1)
	}

	for _, sub := range clients {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}

		if err := m.migrateClient(ctx, id, req, sub, backup.Bindings[sub.Username]); err != nil {
			p.Failed++
			p.FailedUsernames = append(p.FailedUsernames, sub.Username)
			metrics.MigrationClientsFailed.Inc()
			m.logger.Error("error migrating client", "migration_id", id, "username", sub.Username, "error", err)
		} else {
			p.Succeeded++
			metrics.MigrationClientsMoved.Inc()
		}
		p.Processed++

		if p.Processed%m.cfg.FlushEvery == 0 {
			if err := m.flush(persist, p); err != nil {
				m.logger.Error("error writing migration progress", "migration_id", id, "error", err)
			}
		}
	}

	done := m.now().UTC()
	p.CompletedAt = &done
	state := StateComplete
	p.Status = ProgressComplete
	if err := ctx.Err(); err != nil {
		p.Status = ProgressAbandoned
		state = StateCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			state = StateTimedOut
		}
		metrics.MigrationsAbandoned.Inc()
		m.logger.Warn("migration abandoned", "migration_id", id, "state", state,
			"processed", p.Processed, "total", p.Total)
	} else {
		metrics.MigrationsCompleted.Inc()
		m.logger.Info("migration complete", "migration_id", id, "processed", p.Processed,
			"failed", p.Failed)
	}
	metrics.MigrationDuration.UpdateDuration(started)

	if err := m.flush(persist, p); err != nil {
		return p, err
	}
	if err := m.setState(persist, id, state, nil); err != nil {
		return p, err
	}
	return p, nil
}

// abort records a run that stopped before any client was moved. The
// progress record is closed as abandoned so pollers stop waiting on it.
func (m *Migrator) abort(ctx context.Context, id string, started time.Time, cause error) error {
	done := m.now().UTC()
	p := &Progress{
		MigrationID:     id,
		FailedUsernames: []string{},
		Status:          ProgressAbandoned,
		StartedAt:       started.UTC(),
		CompletedAt:     &done,
		Error:           cause.Error(),
	}
	if err := m.flush(ctx, p); err != nil {
		m.logger.Error("error writing migration progress", "migration_id", id, "error", err)
	}
	if err := m.setState(ctx, id, StateFailed, cause); err != nil {
		m.logger.Error("error writing migration status", "migration_id", id, "error", err)
	}
	metrics.MigrationsAbandoned.Inc()
	m.logger.Error("migration failed to start", "migration_id", id, "error", cause)
	return cause
}

// captureBackup reads the current Framed-IP-Address of every client.
func (m *Migrator) captureBackup(ctx context.Context, id string, clients []subscriber.Subscriber) (*Backup, error) {
	b := &Backup{
		MigrationID: id,
		CapturedAt:  m.now().UTC(),
		Bindings:    make(map[string]string, len(clients)),
	}
	for _, sub := range clients {
		addr, _, err := m.replies.GetReplyAttribute(ctx, sub.Username, radius.FramedIPAddress)
		if err != nil {
			return nil, fmt.Errorf("error reading binding of %s: %w", sub.Username, err)
		}
		b.Bindings[sub.Username] = addr
	}
	return b, nil
}

// migrateClient moves one client to the new pool. The new address is bound
// in the reply store by the engine; the client's own allocations in the old
// pool are released only once that has succeeded. A bound address the
// client does not hold is left alone.
func (m *Migrator) migrateClient(ctx context.Context, id string, req Request, sub subscriber.Subscriber, previous string) error {
	held, err := m.engine.ActiveForUser(ctx, req.OldPoolID, sub.Username)
	if err != nil {
		return err
	}
	mac := sub.MACAddress
	if mac == "" && len(held) > 0 {
		mac = held[0].MACAddress
	}
	if mac == "" {
		return ErrNoMAC
	}

	current, ok, err := m.replies.GetReplyAttribute(ctx, sub.Username, radius.FramedIPAddress)
	if err != nil {
		return err
	}
	if !ok {
		current = previous
	}
	if current != "" && !holds(held, current) {
		m.logger.Warn("bound address is not held by client, leaving it allocated", "migration_id", id,
			"username", sub.Username, "address", current)
	}

	a, err := m.engine.AllocateInPool(ctx, req.NewPoolID, mac, sub.Username)
	if err != nil {
		if a != nil {
			if rerr := m.engine.Release(ctx, a.ID); rerr != nil {
				m.logger.Error("error releasing unbound allocation", "allocation_id", a.ID, "error", rerr)
			}
		}
		return fmt.Errorf("error allocating in new pool: %w", err)
	}

	for _, old := range held {
		if err := m.engine.Release(ctx, old.ID); err != nil {
			return fmt.Errorf("error releasing %s: %w", old.Address, err)
		}
	}

	m.logger.Debug("client migrated", "username", sub.Username, "released", len(held), "to", a.Address)
	return nil
}

func holds(allocs []*models.Allocation, address string) bool {
	for _, a := range allocs {
		if a.Address == address {
			return true
		}
	}
	return false
}

// subnetFor returns the subnet among subnets whose range contains address.
func subnetFor(subnets []*models.Subnet, address string) (*models.Subnet, error) {
	n, err := ipaddr.ToInt(address)
	if err != nil {
		return nil, err
	}
	for _, sn := range subnets {
		r, err := ipaddr.CIDR(sn.Network, sn.PrefixLength)
		if err != nil || !r.Contains(n) {
			continue
		}
		return sn, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOutsidePool, address)
}

// Rollback moves every backed-up client back to the address it held before
// the migration: the old address is claimed again, bound as the client's
// Framed-IP-Address, and the client's allocations in the new pool are
// released. Clients that had no address before are skipped. A client whose
// old address has since been handed to someone else is reported as failed
// and keeps its new address.
func (m *Migrator) Rollback(ctx context.Context, id string) (*RollbackRecord, error) {
	if m.isRunning(id) {
		return nil, ErrRunning
	}
	md, err := m.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := m.Backup(ctx, id)
	if err != nil {
		return nil, err
	}
	subnets, err := m.engine.ListSubnets(ctx, md.OldPoolID, "")
	if err != nil {
		return nil, err
	}
	clients, err := m.subs.ByProfile(ctx, md.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("error listing subscribers: %w", err)
	}
	macs := make(map[string]string, len(clients))
	for _, c := range clients {
		macs[c.Username] = c.MACAddress
	}

	usernames := make([]string, 0, len(b.Bindings))
	for u := range b.Bindings {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	rec := &RollbackRecord{MigrationID: id, FailedUsernames: []string{}}
	for _, username := range usernames {
		addr := b.Bindings[username]
		if addr == "" {
			rec.Skipped++
			continue
		}
		if err := m.restoreClient(ctx, md, subnets, username, addr, macs[username]); err != nil {
			rec.Failed++
			rec.FailedUsernames = append(rec.FailedUsernames, username)
			m.logger.Error("error restoring binding", "migration_id", id, "username", username,
				"address", addr, "error", err)
			continue
		}
		rec.Restored++
	}
	rec.At = m.now().UTC()

	metrics.MigrationRollbacks.Inc()
	m.logger.Info("migration rolled back", "migration_id", id, "restored", rec.Restored, "failed", rec.Failed)
	if err := m.put(ctx, key(id, "rollback"), rec, m.cfg.BackupTTL); err != nil {
		return rec, err
	}
	return rec, nil
}

// restoreClient mirrors migrateClient in the opposite direction.
func (m *Migrator) restoreClient(ctx context.Context, md *Metadata, subnets []*models.Subnet, username, address, mac string) error {
	sn, err := subnetFor(subnets, address)
	if err != nil {
		return err
	}
	moved, err := m.engine.ActiveForUser(ctx, md.NewPoolID, username)
	if err != nil {
		return err
	}
	if mac == "" && len(moved) > 0 {
		mac = moved[0].MACAddress
	}

	stayed, err := m.engine.ActiveForUser(ctx, md.OldPoolID, username)
	if err != nil {
		return err
	}
	if holds(stayed, address) {
		// Never moved, or moved and its release failed. Only the binding
		// needs rewriting.
		if err := m.replies.UpsertReplyAttribute(ctx, username, radius.FramedIPAddress, address); err != nil {
			return err
		}
	} else {
		if mac == "" {
			return ErrNoMAC
		}
		a, err := m.engine.AllocateAddress(ctx, sn.ID, address, mac, username)
		if err != nil {
			if a != nil {
				if rerr := m.engine.Release(ctx, a.ID); rerr != nil {
					m.logger.Error("error releasing unbound allocation", "allocation_id", a.ID, "error", rerr)
				}
			}
			return fmt.Errorf("error reclaiming %s: %w", address, err)
		}
	}

	for _, a := range moved {
		if err := m.engine.Release(ctx, a.ID); err != nil {
			return fmt.Errorf("error releasing %s: %w", a.Address, err)
		}
	}
	return nil
}
