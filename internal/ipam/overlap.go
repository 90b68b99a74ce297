package ipam

import (
	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/store"
)

// DetectOverlap returns the first subnet in existing whose range intersects
// candidate, or nil. Only active subnets are considered, and with ScopePool
// only those of the candidate's pool.
func DetectOverlap(candidate *models.Subnet, existing []*models.Subnet, scope OverlapScope) *OverlapError {
	want, err := ipaddr.CIDR(candidate.Network, candidate.PrefixLength)
	if err != nil {
		return nil
	}

	for _, sn := range existing {
		if sn.ID == candidate.ID || !sn.IsActive() {
			continue
		}
		if scope == ScopePool && sn.PoolID != candidate.PoolID {
			continue
		}
		have, err := ipaddr.CIDR(sn.Network, sn.PrefixLength)
		if err != nil {
			continue
		}
		if want.Overlaps(have) {
			return &OverlapError{
				SubnetID:     sn.ID,
				Network:      sn.Network,
				PrefixLength: sn.PrefixLength,
			}
		}
	}
	return nil
}

// overlapGuard runs DetectOverlap inside the store's write transaction.
func (s *Service) overlapGuard(candidate *models.Subnet) store.SubnetGuard {
	return func(active []*models.Subnet) error {
		if oe := DetectOverlap(candidate, active, s.cfg.OverlapScope); oe != nil {
			metrics.SubnetOverlapRejected.Inc()
			return oe
		}
		return nil
	}
}
