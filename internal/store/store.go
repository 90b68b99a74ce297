// Package store keeps pools, subnets, allocations and allocation history in
// an in-memory go-memdb database. Write transactions are serialised by memdb,
// so every check-then-write method below is atomic.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/mr-karan/ipamd/internal/ipaddr"
	"github.com/mr-karan/ipamd/internal/models"
)

var (
	ErrNotFound             = errors.New("object not found")
	ErrParentNotFound       = errors.New("parent object not found")
	ErrNameTaken            = errors.New("name already in use")
	ErrAddressInUse         = errors.New("address already allocated")
	ErrHasActiveAllocations = errors.New("object has active allocations")
)

// SubnetGuard inspects the currently active subnets inside the write
// transaction that is about to store a subnet. A non-nil error aborts it.
type SubnetGuard func(active []*models.Subnet) error

// Store is the repository for every IPAM object.
type Store struct {
	db *memdb.MemDB
}

// New creates an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// CreatePool inserts a new pool. Names are unique, case-insensitively.
func (s *Store) CreatePool(p *models.Pool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tablePool, indexName, p.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	if err := txn.Insert(tablePool, p.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// UpdatePool replaces an existing pool.
func (s *Store) UpdatePool(p *models.Pool) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tablePool, indexID, p.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	other, err := txn.First(tablePool, indexName, p.Name)
	if err != nil {
		return err
	}
	if other != nil && other.(*models.Pool).ID != p.ID {
		return fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	if err := txn.Insert(tablePool, p.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetPool returns a copy of the pool with the given id.
func (s *Store) GetPool(id string) (*models.Pool, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tablePool, indexID, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Pool).Clone(), nil
}

// ListPools returns pools ordered by name, optionally filtered by status.
func (s *Store) ListPools(status models.Status) ([]*models.Pool, error) {
	txn := s.db.Txn(false)

	var (
		it  memdb.ResultIterator
		err error
	)
	if status != "" {
		it, err = txn.Get(tablePool, indexStatus, string(status))
	} else {
		it, err = txn.Get(tablePool, indexID)
	}
	if err != nil {
		return nil, err
	}

	var pools []*models.Pool
	for obj := it.Next(); obj != nil; obj = it.Next() {
		pools = append(pools, obj.(*models.Pool).Clone())
	}
	sort.Slice(pools, func(i, j int) bool {
		return strings.ToLower(pools[i].Name) < strings.ToLower(pools[j].Name)
	})
	return pools, nil
}

// DeletePool removes a pool together with its subnets and their released
// allocations. It fails if any allocation beneath the pool is still active.
func (s *Store) DeletePool(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tablePool, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}

	subnets, err := subnetsOfPool(txn, id)
	if err != nil {
		return err
	}
	for _, sn := range subnets {
		if err := deleteSubnetTxn(txn, sn); err != nil {
			return err
		}
	}
	if err := txn.Delete(tablePool, raw); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// CreateSubnet inserts a subnet after checking that its pool exists and that
// guard accepts the current set of active subnets.
func (s *Store) CreateSubnet(sn *models.Subnet, guard SubnetGuard) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	pool, err := txn.First(tablePool, indexID, sn.PoolID)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrParentNotFound
	}
	if err := runGuard(txn, sn.ID, guard); err != nil {
		return err
	}
	if err := txn.Insert(tableSubnet, sn.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// UpdateSubnet replaces an existing subnet. guard may be nil.
func (s *Store) UpdateSubnet(sn *models.Subnet, guard SubnetGuard) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubnet, indexID, sn.ID)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := runGuard(txn, sn.ID, guard); err != nil {
		return err
	}
	if err := txn.Insert(tableSubnet, sn.Clone()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// GetSubnet returns a copy of the subnet with the given id.
func (s *Store) GetSubnet(id string) (*models.Subnet, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableSubnet, indexID, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Subnet).Clone(), nil
}

// ListSubnets returns subnets ordered by network address. Empty filters match
// everything.
func (s *Store) ListSubnets(poolID string, status models.Status) ([]*models.Subnet, error) {
	txn := s.db.Txn(false)

	var (
		subnets []*models.Subnet
		err     error
	)
	if poolID != "" {
		subnets, err = subnetsOfPool(txn, poolID)
	} else {
		subnets, err = allSubnets(txn)
	}
	if err != nil {
		return nil, err
	}

	out := subnets[:0]
	for _, sn := range subnets {
		if status != "" && sn.Status != status {
			continue
		}
		out = append(out, sn.Clone())
	}
	sortSubnets(out)
	return out, nil
}

// DeleteSubnet removes a subnet with its released allocations and their
// history. It fails if
// any allocation in the subnet is still active.
func (s *Store) DeleteSubnet(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableSubnet, indexID, id)
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	if err := deleteSubnetTxn(txn, raw.(*models.Subnet)); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// InsertAllocation stores a new allocation and its history entry. An
// allocated row is rejected when another allocated row already holds the
// same address in the same subnet.
func (s *Store) InsertAllocation(a *models.Allocation, h *models.HistoryEntry) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	sn, err := txn.First(tableSubnet, indexID, a.SubnetID)
	if err != nil {
		return err
	}
	if sn == nil {
		return ErrParentNotFound
	}
	if a.IsAllocated() {
		holder, err := txn.First(tableAllocation, indexActiveAddress, a.SubnetID, a.Address)
		if err != nil {
			return err
		}
		if holder != nil {
			return fmt.Errorf("%w: %s in subnet %s", ErrAddressInUse, a.Address, a.SubnetID)
		}
	}
	if err := txn.Insert(tableAllocation, a.Clone()); err != nil {
		return err
	}
	if h != nil {
		if err := txn.Insert(tableHistory, h); err != nil {
			return err
		}
	}
	txn.Commit()
	return nil
}

// ReleaseAllocation marks an allocation released at the given time and
// records h. It returns the resulting allocation and whether it changed;
// releasing an already released allocation changes nothing.
func (s *Store) ReleaseAllocation(id string, at time.Time, h *models.HistoryEntry) (*models.Allocation, bool, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(tableAllocation, indexID, id)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, ErrNotFound
	}
	current := raw.(*models.Allocation)
	if !current.IsAllocated() {
		return current.Clone(), false, nil
	}

	updated := current.Clone()
	updated.Status = models.AllocationReleased
	updated.ReleasedAt = &at
	if err := txn.Insert(tableAllocation, updated); err != nil {
		return nil, false, err
	}
	if h != nil {
		h.AllocationID = updated.ID
		h.SubnetID = updated.SubnetID
		h.Address = updated.Address
		h.MACAddress = updated.MACAddress
		h.Username = updated.Username
		h.Action = models.ActionReleased
		if err := txn.Insert(tableHistory, h); err != nil {
			return nil, false, err
		}
	}
	txn.Commit()
	return updated.Clone(), true, nil
}

// GetAllocation returns a copy of the allocation with the given id.
func (s *Store) GetAllocation(id string) (*models.Allocation, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableAllocation, indexID, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Allocation).Clone(), nil
}

// FindActive returns the allocated row holding address in the subnet.
func (s *Store) FindActive(subnetID, address string) (*models.Allocation, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(tableAllocation, indexActiveAddress, subnetID, address)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return raw.(*models.Allocation).Clone(), nil
}

// AllocationFilter narrows ListAllocations. Empty fields match everything.
type AllocationFilter struct {
	SubnetID string
	Status   models.AllocationStatus
	Username string
}

// ListAllocations returns allocations matching f, oldest first.
func (s *Store) ListAllocations(f AllocationFilter) ([]*models.Allocation, error) {
	txn := s.db.Txn(false)

	var (
		it  memdb.ResultIterator
		err error
	)
	switch {
	case f.SubnetID != "" && f.Status != "":
		it, err = txn.Get(tableAllocation, indexSubnetStatus, f.SubnetID, string(f.Status))
	case f.SubnetID != "":
		it, err = txn.Get(tableAllocation, indexSubnet, f.SubnetID)
	case f.Username != "":
		it, err = txn.Get(tableAllocation, indexUsername, f.Username)
	default:
		it, err = txn.Get(tableAllocation, indexID)
	}
	if err != nil {
		return nil, err
	}

	var out []*models.Allocation
	for obj := it.Next(); obj != nil; obj = it.Next() {
		a := obj.(*models.Allocation)
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Username != "" && a.Username != f.Username {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AllocatedAt.Before(out[j].AllocatedAt)
	})
	return out, nil
}

// AllocatedAddresses returns the addresses currently held in a subnet.
func (s *Store) AllocatedAddresses(subnetID string) ([]string, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableAllocation, indexSubnetStatus, subnetID, string(models.AllocationAllocated))
	if err != nil {
		return nil, err
	}
	var out []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*models.Allocation).Address)
	}
	return out, nil
}

// ActiveByMAC returns the allocated rows in a subnet bound to mac.
func (s *Store) ActiveByMAC(subnetID, mac string) ([]*models.Allocation, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableAllocation, indexSubnetStatus, subnetID, string(models.AllocationAllocated))
	if err != nil {
		return nil, err
	}
	var out []*models.Allocation
	for obj := it.Next(); obj != nil; obj = it.Next() {
		a := obj.(*models.Allocation)
		if strings.EqualFold(a.MACAddress, mac) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

// History returns the history of an allocation, oldest first.
func (s *Store) History(allocationID string) ([]*models.HistoryEntry, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(tableHistory, indexAllocation, allocationID)
	if err != nil {
		return nil, err
	}
	var out []*models.HistoryEntry
	for obj := it.Next(); obj != nil; obj = it.Next() {
		h := *obj.(*models.HistoryEntry)
		out = append(out, &h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

func runGuard(txn *memdb.Txn, selfID string, guard SubnetGuard) error {
	if guard == nil {
		return nil
	}
	it, err := txn.Get(tableSubnet, indexStatus, string(models.StatusActive))
	if err != nil {
		return err
	}
	var active []*models.Subnet
	for obj := it.Next(); obj != nil; obj = it.Next() {
		sn := obj.(*models.Subnet)
		if sn.ID == selfID {
			continue
		}
		active = append(active, sn.Clone())
	}
	sortSubnets(active)
	return guard(active)
}

func deleteSubnetTxn(txn *memdb.Txn, sn *models.Subnet) error {
	held, err := txn.First(tableAllocation, indexSubnetStatus, sn.ID, string(models.AllocationAllocated))
	if err != nil {
		return err
	}
	if held != nil {
		return fmt.Errorf("%w: subnet %s", ErrHasActiveAllocations, sn.ID)
	}

	it, err := txn.Get(tableAllocation, indexSubnet, sn.ID)
	if err != nil {
		return err
	}
	var ids []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ids = append(ids, obj.(*models.Allocation).ID)
	}
	for _, id := range ids {
		if _, err := txn.DeleteAll(tableHistory, indexAllocation, id); err != nil {
			return err
		}
	}
	if _, err := txn.DeleteAll(tableAllocation, indexSubnet, sn.ID); err != nil {
		return err
	}
	return txn.Delete(tableSubnet, sn)
}

func subnetsOfPool(txn *memdb.Txn, poolID string) ([]*models.Subnet, error) {
	it, err := txn.Get(tableSubnet, indexPool, poolID)
	if err != nil {
		return nil, err
	}
	var out []*models.Subnet
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*models.Subnet))
	}
	return out, nil
}

func allSubnets(txn *memdb.Txn) ([]*models.Subnet, error) {
	it, err := txn.Get(tableSubnet, indexID)
	if err != nil {
		return nil, err
	}
	var out []*models.Subnet
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*models.Subnet))
	}
	return out, nil
}

func sortSubnets(subnets []*models.Subnet) {
	sort.SliceStable(subnets, func(i, j int) bool {
		a, _ := ipaddr.ToInt(subnets[i].Network)
		b, _ := ipaddr.ToInt(subnets[j].Network)
		if a != b {
			return a < b
		}
		return subnets[i].PrefixLength < subnets[j].PrefixLength
	})
}
