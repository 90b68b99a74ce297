// Package ipam manages address pools, their subnets and the allocation of
// individual addresses to subscribers.
package ipam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/radius"
	"github.com/mr-karan/ipamd/internal/store"
	"github.com/zerodha/logf"
)

// OverlapScope selects which subnets a new subnet is compared against.
type OverlapScope string

const (
	ScopeGlobal OverlapScope = "global"
	ScopePool   OverlapScope = "pool"
)

// MACPolicy decides whether one MAC may hold several addresses in a subnet.
type MACPolicy string

const (
	MACReject MACPolicy = "reject"
	MACAllow  MACPolicy = "allow"
)

// Config holds the engine settings.
type Config struct {
	OverlapScope         OverlapScope
	DuplicateMAC         MACPolicy
	AttributeRetries     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Service is the IPAM engine.
type Service struct {
	cfg     Config
	store   *store.Store
	replies radius.ReplyStore
	logger  logf.Logger
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Service backed by st that publishes bindings to replies.
func New(cfg Config, st *store.Store, replies radius.ReplyStore, logger logf.Logger) *Service {
	if cfg.OverlapScope == "" {
		cfg.OverlapScope = ScopeGlobal
	}
	if cfg.DuplicateMAC == "" {
		cfg.DuplicateMAC = MACReject
	}
	if cfg.AttributeRetries < 0 {
		cfg.AttributeRetries = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 100 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 2 * time.Second
	}

	return &Service{
		cfg:     cfg,
		store:   st,
		replies: replies,
		logger:  logger,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// subnetLock returns the mutex serialising allocations in a subnet.
func (s *Service) subnetLock(subnetID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[subnetID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[subnetID] = mu
	}
	return mu
}

func (s *Service) dropSubnetLock(subnetID string) {
	s.locksMu.Lock()
	delete(s.locks, subnetID)
	s.locksMu.Unlock()
}

// CreatePool validates and stores a new pool.
func (s *Service) CreatePool(_ context.Context, in PoolInput) (*models.Pool, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &models.Pool{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		StartIP:     in.StartIP,
		EndIP:       in.EndIP,
		Gateway:     in.Gateway,
		DNSServers:  in.DNSServers,
		VLANID:      in.VLANID,
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreatePool(p); err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}

	s.logger.Info("pool created", "pool_id", p.ID, "name", p.Name, "range", p.StartIP+"-"+p.EndIP)
	return p, nil
}

// UpdatePool applies u to the pool with the given id.
func (s *Service) UpdatePool(_ context.Context, id string, u PoolUpdate) (*models.Pool, error) {
	p, err := s.store.GetPool(id)
	if err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}
	if err := u.apply(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()
	if err := s.store.UpdatePool(p); err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}

	s.logger.Info("pool updated", "pool_id", p.ID)
	return p, nil
}

// GetPool returns a pool by id.
func (s *Service) GetPool(_ context.Context, id string) (*models.Pool, error) {
	p, err := s.store.GetPool(id)
	if err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}
	return p, nil
}

// ListPools returns pools ordered by name. An empty status matches all.
func (s *Service) ListPools(_ context.Context, status models.Status) ([]*models.Pool, error) {
	return s.store.ListPools(status)
}

// DeletePool removes a pool and everything beneath it. It refuses while any
// address in the pool is still allocated.
func (s *Service) DeletePool(_ context.Context, id string) error {
	subnets, err := s.store.ListSubnets(id, "")
	if err != nil {
		return err
	}
	if err := s.store.DeletePool(id); err != nil {
		return mapStoreErr(err, ErrPoolNotFound)
	}
	for _, sn := range subnets {
		s.dropSubnetLock(sn.ID)
	}

	s.logger.Info("pool deleted", "pool_id", id, "subnets", len(subnets))
	return nil
}

// CreateSubnet validates and stores a subnet under an existing pool. The
// subnet's range must not overlap any active subnet in the configured scope.
func (s *Service) CreateSubnet(_ context.Context, in SubnetInput) (*models.Subnet, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sn := &models.Subnet{
		ID:           uuid.NewString(),
		PoolID:       in.PoolID,
		Network:      in.Network,
		PrefixLength: in.PrefixLength,
		Gateway:      in.Gateway,
		VLANID:       in.VLANID,
		Status:       in.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSubnet(sn, s.overlapGuard(sn)); err != nil {
		return nil, s.subnetWriteErr(err, sn)
	}

	s.logger.Info("subnet created", "subnet_id", sn.ID, "pool_id", sn.PoolID,
		"network", fmt.Sprintf("%s/%d", sn.Network, sn.PrefixLength))
	return sn, nil
}

// UpdateSubnet applies u to the subnet with the given id. Reactivating a
// subnet checks it for overlaps again.
func (s *Service) UpdateSubnet(_ context.Context, id string, u SubnetUpdate) (*models.Subnet, error) {
	sn, err := s.store.GetSubnet(id)
	if err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}
	wasActive := sn.IsActive()
	if err := u.apply(sn); err != nil {
		return nil, err
	}
	sn.UpdatedAt = s.now().UTC()

	var guard store.SubnetGuard
	if !wasActive && sn.IsActive() {
		guard = s.overlapGuard(sn)
	}
	if err := s.store.UpdateSubnet(sn, guard); err != nil {
		return nil, s.subnetWriteErr(err, sn)
	}

	s.logger.Info("subnet updated", "subnet_id", sn.ID, "status", sn.Status)
	return sn, nil
}

// GetSubnet returns a subnet by id.
func (s *Service) GetSubnet(_ context.Context, id string) (*models.Subnet, error) {
	sn, err := s.store.GetSubnet(id)
	if err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}
	return sn, nil
}

// ListSubnets returns subnets ordered by network address.
func (s *Service) ListSubnets(_ context.Context, poolID string, status models.Status) ([]*models.Subnet, error) {
	return s.store.ListSubnets(poolID, status)
}

// DeleteSubnet removes a subnet. It refuses while any address in it is
// still allocated.
func (s *Service) DeleteSubnet(_ context.Context, id string) error {
	mu := s.subnetLock(id)
	mu.Lock()
	err := s.store.DeleteSubnet(id)
	mu.Unlock()
	if err != nil {
		return mapStoreErr(err, ErrSubnetNotFound)
	}
	s.dropSubnetLock(id)

	s.logger.Info("subnet deleted", "subnet_id", id)
	return nil
}

func (s *Service) subnetWriteErr(err error, sn *models.Subnet) error {
	var overlap *OverlapError
	if errors.As(err, &overlap) {
		s.logger.Warn("subnet rejected", "network", fmt.Sprintf("%s/%d", sn.Network, sn.PrefixLength),
			"conflicts_with", overlap.SubnetID)
		return err
	}
	if errors.Is(err, store.ErrParentNotFound) {
		return ErrPoolNotFound
	}
	return mapStoreErr(err, ErrSubnetNotFound)
}

// mapStoreErr translates storage errors into engine errors. notFound is
// returned for store.ErrNotFound.
func mapStoreErr(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrParentNotFound):
		return notFound
	case errors.Is(err, store.ErrNameTaken):
		return fmt.Errorf("%w: %v", ErrDuplicateName, err)
	case errors.Is(err, store.ErrHasActiveAllocations):
		return fmt.Errorf("%w: %v", ErrHasActiveAllocations, err)
	}
	return err
}
