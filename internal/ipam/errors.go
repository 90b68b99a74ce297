package ipam

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-karan/ipamd/internal/ipaddr"
)

var (
	ErrMalformedAddress          = ipaddr.ErrMalformedAddress
	ErrValidation                = errors.New("validation failed")
	ErrSubnetOverlap             = errors.New("subnet overlaps an existing subnet")
	ErrPoolNotFound              = errors.New("pool not found")
	ErrSubnetNotFound            = errors.New("subnet not found")
	ErrAllocationNotFound        = errors.New("allocation not found")
	ErrSubnetInactive            = errors.New("subnet is inactive")
	ErrPoolExhausted             = errors.New("no free address left")
	ErrHasActiveAllocations      = errors.New("has active allocations")
	ErrDuplicateMAC              = errors.New("mac address already holds an address in this subnet")
	ErrAddressAllocated          = errors.New("address is already allocated")
	ErrDuplicateName             = errors.New("name already in use")
	ErrAttributeStoreWriteFailed = errors.New("attribute store write failed")
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// OverlapError names the active subnet a candidate collides with.
type OverlapError struct {
	SubnetID     string
	Network      string
	PrefixLength int
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("subnet overlaps existing subnet %s (%s/%d)", e.SubnetID, e.Network, e.PrefixLength)
}

func (e *OverlapError) Is(target error) bool {
	return target == ErrSubnetOverlap
}

// AttributeSyncError reports that an allocation was recorded locally but its
// binding could not be written to the reply attribute store.
type AttributeSyncError struct {
	Username string
	Address  string
	Err      error
}

func (e *AttributeSyncError) Error() string {
	return fmt.Sprintf("failed to bind %s to %s in attribute store: %v", e.Address, e.Username, e.Err)
}

func (e *AttributeSyncError) Is(target error) bool {
	return target == ErrAttributeStoreWriteFailed
}

func (e *AttributeSyncError) Unwrap() error {
	return e.Err
}

// fieldErrors accumulates validation messages.
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}
