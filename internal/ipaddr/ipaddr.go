// Package ipaddr holds the IPv4 address arithmetic used by the allocator:
// conversions between dotted-quad text and 32-bit integers, CIDR ranges and
// range overlap. Everything here is pure.
package ipaddr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"go4.org/netipx"
)

// ErrMalformedAddress is returned for anything that is not an IPv4 dotted quad.
var ErrMalformedAddress = errors.New("malformed address")

// ErrInvalidPrefix is returned for prefix lengths outside [0, 32].
var ErrInvalidPrefix = errors.New("invalid prefix length")

// Parse parses a dotted-quad IPv4 address.
func Parse(address string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrMalformedAddress, address)
	}
	return addr, nil
}

// ToInt converts a dotted-quad address to its 32-bit value.
func ToInt(address string) (uint32, error) {
	addr, err := Parse(address)
	if err != nil {
		return 0, err
	}
	return FromAddr(addr), nil
}

// FromAddr converts an IPv4 netip.Addr to its 32-bit value.
func FromAddr(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// ToAddr converts a 32-bit value to a netip.Addr.
func ToAddr(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// ToAddress converts a 32-bit value to dotted-quad text.
func ToAddress(n uint32) string {
	return ToAddr(n).String()
}

// RangeOf returns the first and last address of network/prefixLength.
// Host bits in network are ignored.
func RangeOf(network string, prefixLength int) (uint32, uint32, error) {
	p, err := prefix(network, prefixLength)
	if err != nil {
		return 0, 0, err
	}
	return FromAddr(p.Addr()), FromAddr(netipx.PrefixLastIP(p)), nil
}

// RangesOverlap reports whether [startA, endA] and [startB, endB] share an address.
func RangesOverlap(startA, endA, startB, endB uint32) bool {
	return startA <= endB && startB <= endA
}

// HasHostBits reports whether network has bits set beyond prefixLength.
func HasHostBits(network string, prefixLength int) (bool, error) {
	addr, err := Parse(network)
	if err != nil {
		return false, err
	}
	p, err := prefix(network, prefixLength)
	if err != nil {
		return false, err
	}
	return p.Addr() != addr, nil
}

func prefix(network string, prefixLength int) (netip.Prefix, error) {
	addr, err := Parse(network)
	if err != nil {
		return netip.Prefix{}, err
	}
	if prefixLength < 0 || prefixLength > 32 {
		return netip.Prefix{}, fmt.Errorf("%w: %d", ErrInvalidPrefix, prefixLength)
	}
	return netip.PrefixFrom(addr, prefixLength).Masked(), nil
}
