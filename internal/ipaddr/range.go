package ipaddr

import (
	"fmt"

	"go4.org/netipx"
)

// Range is an inclusive range of IPv4 addresses.
type Range struct {
	Start uint32
	End   uint32
}

// NewRange builds a Range from two dotted-quad addresses.
func NewRange(start, end string) (Range, error) {
	s, err := ToInt(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ToInt(end)
	if err != nil {
		return Range{}, err
	}
	if s > e {
		return Range{}, fmt.Errorf("range start %s is after end %s", start, end)
	}
	return Range{Start: s, End: e}, nil
}

// CIDR returns the full range of network/prefixLength.
func CIDR(network string, prefixLength int) (Range, error) {
	s, e, err := RangeOf(network, prefixLength)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

// UsableRange returns the host range of network/prefixLength. The network and
// broadcast addresses are excluded for prefixes shorter than /31.
func UsableRange(network string, prefixLength int) (Range, error) {
	r, err := CIDR(network, prefixLength)
	if err != nil {
		return Range{}, err
	}
	if prefixLength < 31 {
		r.Start++
		r.End--
	}
	return r, nil
}

// Size is the number of addresses in the range.
func (r Range) Size() uint64 {
	return uint64(r.End) - uint64(r.Start) + 1
}

// Contains reports whether n falls inside the range.
func (r Range) Contains(n uint32) bool {
	return n >= r.Start && n <= r.End
}

// Overlaps reports whether the two ranges share at least one address.
func (r Range) Overlaps(o Range) bool {
	return RangesOverlap(r.Start, r.End, o.Start, o.End)
}

// IPRange converts the range to a netipx.IPRange.
func (r Range) IPRange() netipx.IPRange {
	return netipx.IPRangeFrom(ToAddr(r.Start), ToAddr(r.End))
}

// String renders the range as "start-end".
func (r Range) String() string {
	return r.IPRange().String()
}

// Prefixes returns the minimal set of CIDR blocks covering the range.
func (r Range) Prefixes() []string {
	ps := r.IPRange().Prefixes()
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}
