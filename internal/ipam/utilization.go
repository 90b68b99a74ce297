package ipam

import (
	"context"
	"iter"
	"math"

	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/mr-karan/ipamd/internal/models"
)

// SubnetUtilization describes how full a subnet is.
type SubnetUtilization struct {
	SubnetID     string  `json:"subnet_id"`
	Network      string  `json:"network"`
	PrefixLength int     `json:"prefix_length"`
	Status       string  `json:"status"`
	Total        uint64  `json:"total_ips"`
	Allocated    uint64  `json:"allocated_ips"`
	Available    uint64  `json:"available_ips"`
	Percent      float64 `json:"utilization_percent"`
}

// PoolUtilization aggregates the utilization of every subnet in a pool.
type PoolUtilization struct {
	PoolID    string              `json:"pool_id"`
	Name      string              `json:"name"`
	Total     uint64              `json:"total_ips"`
	Allocated uint64              `json:"allocated_ips"`
	Available uint64              `json:"available_ips"`
	Percent   float64             `json:"utilization_percent"`
	Subnets   []SubnetUtilization `json:"subnets"`
}

// SubnetUtilization reports usable, allocated and free address counts for a
// subnet.
func (s *Service) SubnetUtilization(_ context.Context, subnetID string) (*SubnetUtilization, error) {
	sn, err := s.store.GetSubnet(subnetID)
	if err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}
	u, err := s.subnetUtilization(sn)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) subnetUtilization(sn *models.Subnet) (SubnetUtilization, error) {
	usable, err := ipaddr.UsableRange(sn.Network, sn.PrefixLength)
	if err != nil {
		return SubnetUtilization{}, err
	}
	taken, err := s.store.AllocatedAddresses(sn.ID)
	if err != nil {
		return SubnetUtilization{}, err
	}

	allocated := uint64(occupancy(usable, taken).Count())
	u := SubnetUtilization{
		SubnetID:     sn.ID,
		Network:      sn.Network,
		PrefixLength: sn.PrefixLength,
		Status:       string(sn.Status),
		Total:        usable.Size(),
		Allocated:    allocated,
		Available:    usable.Size() - allocated,
		Percent:      percent(allocated, usable.Size()),
	}
	metrics.SetSubnetFree(sn.ID, u.Available)
	return u, nil
}

// PoolUtilization sums the utilization of all subnets of a pool, active or
// not.
func (s *Service) PoolUtilization(_ context.Context, poolID string) (*PoolUtilization, error) {
	p, err := s.store.GetPool(poolID)
	if err != nil {
		return nil, mapStoreErr(err, ErrPoolNotFound)
	}
	subnets, err := s.store.ListSubnets(poolID, "")
	if err != nil {
		return nil, err
	}

	out := &PoolUtilization{
		PoolID:  p.ID,
		Name:    p.Name,
		Subnets: make([]SubnetUtilization, 0, len(subnets)),
	}
	for _, sn := range subnets {
		u, err := s.subnetUtilization(sn)
		if err != nil {
			return nil, err
		}
		out.Total += u.Total
		out.Allocated += u.Allocated
		out.Subnets = append(out.Subnets, u)
	}
	out.Available = out.Total - out.Allocated
	out.Percent = percent(out.Allocated, out.Total)
	return out, nil
}

// FreeInPool counts the free addresses across the active subnets of a pool.
func (s *Service) FreeInPool(ctx context.Context, poolID string) (uint64, error) {
	if _, err := s.store.GetPool(poolID); err != nil {
		return 0, mapStoreErr(err, ErrPoolNotFound)
	}
	subnets, err := s.store.ListSubnets(poolID, models.StatusActive)
	if err != nil {
		return 0, err
	}

	var free uint64
	for _, sn := range subnets {
		u, err := s.subnetUtilization(sn)
		if err != nil {
			return 0, err
		}
		free += u.Available
	}
	return free, nil
}

// AvailableAddresses yields the free usable addresses of a subnet in
// ascending order. The set of taken addresses is read when iteration starts.
func (s *Service) AvailableAddresses(_ context.Context, subnetID string) (iter.Seq[string], error) {
	sn, err := s.store.GetSubnet(subnetID)
	if err != nil {
		return nil, mapStoreErr(err, ErrSubnetNotFound)
	}
	usable, err := ipaddr.UsableRange(sn.Network, sn.PrefixLength)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		taken, err := s.store.AllocatedAddresses(sn.ID)
		if err != nil {
			s.logger.Error("error listing allocated addresses", "subnet_id", sn.ID, "error", err)
			return
		}
		used := occupancy(usable, taken)
		size := uint(usable.Size())
		for i, ok := used.NextClear(0); ok && i < size; i, ok = used.NextClear(i + 1) {
			if !yield(ipaddr.ToAddress(usable.Start + uint32(i))) {
				return
			}
		}
	}, nil
}

// percent returns part/total as a percentage rounded to two decimals.
func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}
