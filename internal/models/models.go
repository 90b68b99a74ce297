package models

import (
	"time"
)

// Status is the administrative state of a pool or subnet.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// AllocationStatus is the lifecycle state of an allocation.
type AllocationStatus string

const (
	AllocationAllocated AllocationStatus = "allocated"
	AllocationReleased  AllocationStatus = "released"
)

// Pool is a named, administratively defined address range.
type Pool struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartIP     string    `json:"start_ip"`
	EndIP       string    `json:"end_ip"`
	Gateway     string    `json:"gateway,omitempty"`
	DNSServers  []string  `json:"dns_servers,omitempty"`
	VLANID      *int      `json:"vlan_id,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	c := *p
	if p.DNSServers != nil {
		c.DNSServers = append([]string(nil), p.DNSServers...)
	}
	if p.VLANID != nil {
		v := *p.VLANID
		c.VLANID = &v
	}
	return &c
}

// Subnet is a CIDR block inside a pool from which addresses are allocated.
type Subnet struct {
	ID           string    `json:"id"`
	PoolID       string    `json:"pool_id"`
	Network      string    `json:"network"`
	PrefixLength int       `json:"prefix_length"`
	Gateway      string    `json:"gateway,omitempty"`
	VLANID       *int      `json:"vlan_id,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the subnet.
func (s *Subnet) Clone() *Subnet {
	c := *s
	if s.VLANID != nil {
		v := *s.VLANID
		c.VLANID = &v
	}
	return &c
}

// IsActive reports whether addresses may be allocated from the subnet.
func (s *Subnet) IsActive() bool {
	return s.Status == StatusActive
}

// Allocation binds one address of a subnet to one client.
type Allocation struct {
	ID          string           `json:"id"`
	SubnetID    string           `json:"subnet_id"`
	Address     string           `json:"ip_address"`
	MACAddress  string           `json:"mac_address"`
	Username    string           `json:"username"`
	Status      AllocationStatus `json:"status"`
	AllocatedAt time.Time        `json:"allocated_at"`
	ReleasedAt  *time.Time       `json:"released_at,omitempty"`
}

// Clone returns a deep copy of the allocation.
func (a *Allocation) Clone() *Allocation {
	c := *a
	if a.ReleasedAt != nil {
		t := *a.ReleasedAt
		c.ReleasedAt = &t
	}
	return &c
}

// IsAllocated reports whether the allocation currently holds its address.
func (a *Allocation) IsAllocated() bool {
	return a.Status == AllocationAllocated
}

// HistoryAction names an entry in the allocation history.
type HistoryAction string

const (
	ActionAllocated HistoryAction = "allocated"
	ActionReleased  HistoryAction = "released"
)

// HistoryEntry is an append-only record of an allocation state change.
type HistoryEntry struct {
	ID           string        `json:"id"`
	AllocationID string        `json:"allocation_id"`
	SubnetID     string        `json:"subnet_id"`
	Address      string        `json:"ip_address"`
	MACAddress   string        `json:"mac_address"`
	Username     string        `json:"username"`
	Action       HistoryAction `json:"action"`
	At           time.Time     `json:"at"`
}
