package store

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/mr-karan/ipamd/internal/models"
)

const (
	tablePool       = "pool"
	tableSubnet     = "subnet"
	tableAllocation = "allocation"
	tableHistory    = "history"

	indexID            = "id"
	indexName          = "name"
	indexPool          = "pool"
	indexSubnet        = "subnet"
	indexSubnetStatus  = "subnet_status"
	indexStatus        = "status"
	indexUsername      = "username"
	indexActiveAddress = "active_address"
	indexAllocation    = "allocation"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tablePool: {
				Name: tablePool,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexName: {
						Name:    indexName,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name", Lowercase: true},
					},
					indexStatus: {
						Name:    indexStatus,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
			tableSubnet: {
				Name: tableSubnet,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexPool: {
						Name:    indexPool,
						Indexer: &memdb.StringFieldIndex{Field: "PoolID"},
					},
					indexStatus: {
						Name:    indexStatus,
						Indexer: &memdb.StringFieldIndex{Field: "Status"},
					},
				},
			},
			tableAllocation: {
				Name: tableAllocation,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexSubnet: {
						Name:    indexSubnet,
						Indexer: &memdb.StringFieldIndex{Field: "SubnetID"},
					},
					indexSubnetStatus: {
						Name: indexSubnetStatus,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "SubnetID"},
								&memdb.StringFieldIndex{Field: "Status"},
							},
						},
					},
					indexUsername: {
						Name:         indexUsername,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Username"},
					},
					indexActiveAddress: {
						Name:         indexActiveAddress,
						Unique:       true,
						AllowMissing: true,
						Indexer:      activeAddressIndexer{},
					},
				},
			},
			tableHistory: {
				Name: tableHistory,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexAllocation: {
						Name:    indexAllocation,
						Indexer: &memdb.StringFieldIndex{Field: "AllocationID"},
					},
				},
			},
		},
	}
}

// activeAddressIndexer indexes only allocations that currently hold their
// address, keyed by (subnet id, address). Released rows are left out so the
// unique constraint applies to live bindings only.
type activeAddressIndexer struct{}

func (activeAddressIndexer) FromObject(obj interface{}) (bool, []byte, error) {
	a, ok := obj.(*models.Allocation)
	if !ok {
		return false, nil, fmt.Errorf("unexpected type %T for active address index", obj)
	}
	if !a.IsAllocated() {
		return false, nil, nil
	}
	return true, activeAddressKey(a.SubnetID, a.Address), nil
}

func (activeAddressIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("active address index takes subnet id and address, got %d args", len(args))
	}
	subnetID, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("subnet id must be a string: %#v", args[0])
	}
	address, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("address must be a string: %#v", args[1])
	}
	return activeAddressKey(subnetID, address), nil
}

func activeAddressKey(subnetID, address string) []byte {
	return []byte(subnetID + "\x00" + address + "\x00")
}
