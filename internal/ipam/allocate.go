package ipam

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/radius"
	"github.com/mr-karan/ipamd/internal/store"
)

// Allocate hands the lowest free usable address of a subnet to the client
// identified by mac and username, then binds it as the client's
// Framed-IP-Address. If the binding cannot be written the allocation is
// still returned together with an *AttributeSyncError.
func (s *Service) Allocate(ctx context.Context, subnetID, mac, username string) (*models.Allocation, error) {
	mac, err := validateClient(mac, username)
	if err != nil {
		return nil, err
	}
	return s.allocate(ctx, subnetID, mac, username, pickLowest)
}

// AllocateAddress claims one specific usable address of a subnet and binds
// it the way Allocate does. It fails with ErrAddressAllocated when another
// allocation holds the address.
func (s *Service) AllocateAddress(ctx context.Context, subnetID, address, mac, username string) (*models.Allocation, error) {
	mac, err := validateClient(mac, username)
	if err != nil {
		return nil, err
	}
	n, err := ipaddr.ToInt(address)
	if err != nil {
		return nil, err
	}
	return s.allocate(ctx, subnetID, mac, username, pickExactly(n))
}

func validateClient(mac, username string) (string, error) {
	mac, err := NormalizeMAC(mac)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(username) == "" {
		return "", &ValidationError{Fields: map[string]string{"username": "is required"}}
	}
	return mac, nil
}

func (s *Service) allocate(ctx context.Context, subnetID, mac, username string, pick picker) (*models.Allocation, error) {
	// Unknown subnets never get a lock entry.
	if _, err := s.store.GetSubnet(subnetID); err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}

	mu := s.subnetLock(subnetID)
	mu.Lock()
	a, err := s.claim(subnetID, mac, username, pick)
	mu.Unlock()
	if errors.Is(err, ErrSubnetNotFound) {
		s.dropSubnetLock(subnetID)
	}
	if err != nil {
		return nil, err
	}

	metrics.AllocationsTotal.Inc()
	s.logger.Info("address allocated", "subnet_id", subnetID, "address", a.Address,
		"username", username, "mac", mac)

	if err := s.syncReply(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// AllocateInPool tries the active subnets of a pool in network order and
// allocates from the first one with a free address.
func (s *Service) AllocateInPool(ctx context.Context, poolID, mac, username string) (*models.Allocation, error) {
	if _, err := s.store.GetPool(poolID); err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}
	subnets, err := s.store.ListSubnets(poolID, models.StatusActive)
	if err != nil {
		return nil, err
	}

	for _, sn := range subnets {
		a, err := s.Allocate(ctx, sn.ID, mac, username)
		if errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrSubnetInactive) {
			continue
		}
		return a, err
	}
	return nil, fmt.Errorf("%w: pool %s", ErrPoolExhausted, poolID)
}

// picker chooses the address to claim among the usable range of a subnet.
type picker func(usable ipaddr.Range, taken []string) (uint32, error)

func pickLowest(usable ipaddr.Range, taken []string) (uint32, error) {
	next, ok := lowestFree(usable, taken)
	if !ok {
		return 0, ErrPoolExhausted
	}
	return next, nil
}

func pickExactly(n uint32) picker {
	return func(usable ipaddr.Range, taken []string) (uint32, error) {
		if !usable.Contains(n) {
			return 0, &ValidationError{Fields: map[string]string{"address": "is not a usable address of the subnet"}}
		}
		if occupancy(usable, taken).Test(uint(n - usable.Start)) {
			return 0, fmt.Errorf("%w: %s", ErrAddressAllocated, ipaddr.ToAddress(n))
		}
		return n, nil
	}
}

// claim picks and records an address. The caller holds the subnet lock.
func (s *Service) claim(subnetID, mac, username string, pick picker) (*models.Allocation, error) {
	sn, err := s.store.GetSubnet(subnetID)
	if err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}
	if !sn.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrSubnetInactive, subnetID)
	}

	if s.cfg.DuplicateMAC == MACReject {
		held, err := s.store.ActiveByMAC(subnetID, mac)
		if err != nil {
			return nil, err
		}
		if len(held) > 0 {
			return nil, fmt.Errorf("%w: %s holds %s", ErrDuplicateMAC, mac, held[0].Address)
		}
	}

	usable, err := ipaddr.UsableRange(sn.Network, sn.PrefixLength)
	if err != nil {
		return nil, err
	}
	taken, err := s.store.AllocatedAddresses(subnetID)
	if err != nil {
		return nil, err
	}
	next, err := pick(usable, taken)
	if errors.Is(err, ErrPoolExhausted) {
		metrics.PoolExhausted.Inc()
		s.logger.Warn("subnet exhausted", "subnet_id", subnetID, "size", usable.Size())
		return nil, fmt.Errorf("%w: subnet %s", ErrPoolExhausted, subnetID)
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &models.Allocation{
		ID:          uuid.NewString(),
		SubnetID:    subnetID,
		Address:     ipaddr.ToAddress(next),
		MACAddress:  mac,
		Username:    username,
		Status:      models.AllocationAllocated,
		AllocatedAt: now,
	}
	h := &models.HistoryEntry{
		ID:           uuid.NewString(),
		AllocationID: a.ID,
		SubnetID:     subnetID,
		Address:      a.Address,
		MACAddress:   mac,
		Username:     username,
		Action:       models.ActionAllocated,
		At:           now,
	}
	if err := s.store.InsertAllocation(a, h); err != nil {
		if errors.Is(err, store.ErrParentNotFound) {
			return nil, ErrSubnetNotFound
		}
		if errors.Is(err, store.ErrAddressInUse) {
			return nil, fmt.Errorf("%w: %s", ErrAddressAllocated, a.Address)
		}
		return nil, err
	}

	metrics.SetSubnetFree(subnetID, usable.Size()-uint64(len(taken))-1)
	return a, nil
}

// lowestFree returns the smallest address of r not present in taken.
func lowestFree(r ipaddr.Range, taken []string) (uint32, bool) {
	used := occupancy(r, taken)
	idx, ok := used.NextClear(0)
	if !ok || uint64(idx) >= r.Size() {
		return 0, false
	}
	return r.Start + uint32(idx), true
}

// occupancy marks the offsets of taken inside r.
func occupancy(r ipaddr.Range, taken []string) *bitset.BitSet {
	used := bitset.New(uint(r.Size()))
	for _, addr := range taken {
		n, err := ipaddr.ToInt(addr)
		if err != nil || !r.Contains(n) {
			continue
		}
		used.Set(uint(n - r.Start))
	}
	return used
}

// syncReply upserts the Framed-IP-Address for a, retrying with exponential
// backoff.
func (s *Service) syncReply(ctx context.Context, a *models.Allocation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxInterval = s.cfg.RetryMaxInterval

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.AttributeSyncRetries.Inc()
			s.logger.Debug("retrying attribute write", "username", a.Username, "attempt", attempt)
		}
		return s.replies.UpsertReplyAttribute(ctx, a.Username, radius.FramedIPAddress, a.Address)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.AttributeRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		metrics.AttributeSyncFailed.Inc()
		s.logger.Error("attribute write failed", "subnet_id", a.SubnetID, "address", a.Address,
			"username", a.Username, "attempts", attempt, "error", err)
		return &AttributeSyncError{Username: a.Username, Address: a.Address, Err: err}
	}
	return nil
}

// Release returns an allocation's address to its subnet. Releasing an
// already released allocation is a no-op.
func (s *Service) Release(_ context.Context, id string) error {
	now := s.now().UTC()
	a, changed, err := s.store.ReleaseAllocation(id, now, &models.HistoryEntry{ID: uuid.NewString(), At: now})
	if err != nil {
		return mapStoreErr(err, ErrAllocationNotFound)
	}
	if !changed {
		s.logger.Debug("allocation already released", "allocation_id", id)
		return nil
	}

	metrics.ReleasesTotal.Inc()
	s.logger.Info("address released", "subnet_id", a.SubnetID, "address", a.Address, "username", a.Username)
	return nil
}

// ReleaseByAddress releases whichever allocation currently holds address in
// the subnet. It does nothing when the address is free.
func (s *Service) ReleaseByAddress(ctx context.Context, subnetID, address string) error {
	addr, err := ipaddr.Parse(address)
	if err != nil {
		return err
	}
	if _, err := s.store.GetSubnet(subnetID); err != nil {
		return mapStoreErr(err, ErrSubnetNotFound)
	}

	a, err := s.store.FindActive(subnetID, addr.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Release(ctx, a.ID)
}

// GetAllocation returns an allocation by id.
func (s *Service) GetAllocation(_ context.Context, id string) (*models.Allocation, error) {
	a, err := s.store.GetAllocation(id)
	if err != nil {
		return nil, mapStoreErr(err, ErrAllocationNotFound)
	}
	return a, nil
}

// ListAllocations returns allocations matching f ordered by allocation time.
func (s *Service) ListAllocations(_ context.Context, f store.AllocationFilter) ([]*models.Allocation, error) {
	return s.store.ListAllocations(f)
}

// History returns the state changes of an allocation, oldest first.
func (s *Service) History(_ context.Context, allocationID string) ([]*models.HistoryEntry, error) {
	if _, err := s.store.GetAllocation(allocationID); err != nil {
		return nil, mapStoreErr(err, ErrAllocationNotFound)
	}
	return s.store.History(allocationID)
}

// ActiveForUser returns the allocated rows held by username inside the
// subnets of poolID.
func (s *Service) ActiveForUser(_ context.Context, poolID, username string) ([]*models.Allocation, error) {
	subnets, err := s.store.ListSubnets(poolID, "")
	if err != nil {
		return nil, err
	}
	inPool := make(map[string]struct{}, len(subnets))
	for _, sn := range subnets {
		inPool[sn.ID] = struct{}{}
	}

	all, err := s.store.ListAllocations(store.AllocationFilter{
		Username: username,
		Status:   models.AllocationAllocated,
	})
	if err != nil {
		return nil, err
	}
	var out []*models.Allocation
	for _, a := range all {
		if _, ok := inPool[a.SubnetID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
