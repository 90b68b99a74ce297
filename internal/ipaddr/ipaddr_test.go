package ipaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToIntRoundTrip(t *testing.T) {
	tests := []struct {
		addr string
		want uint32
	}{
		{"0.0.0.0", 0},
		{"10.0.0.1", 0x0a000001},
		{"192.168.1.254", 0xc0a801fe},
		{"255.255.255.255", 0xffffffff},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			n, err := ToInt(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, tt.addr, ToAddress(n))
		})
	}
}

func TestToIntMalformed(t *testing.T) {
	for _, in := range []string{"", "10.0.0", "10.0.0.256", "a.b.c.d", "::1", "10.0.0.1/24", " 10.0.0.1"} {
		_, err := ToInt(in)
		assert.ErrorIs(t, err, ErrMalformedAddress, "input %q", in)
	}
}

func TestRangeOf(t *testing.T) {
	start, end, err := RangeOf("10.0.0.0", 30)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0", ToAddress(start))
	assert.Equal(t, "10.0.0.3", ToAddress(end))

	// host bits are masked away
	start, end, err = RangeOf("192.168.1.77", 24)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.0", ToAddress(start))
	assert.Equal(t, "192.168.1.255", ToAddress(end))

	start, end, err = RangeOf("0.0.0.0", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), start)
	assert.Equal(t, uint32(0xffffffff), end)

	_, _, err = RangeOf("10.0.0.0", 33)
	assert.ErrorIs(t, err, ErrInvalidPrefix)
	_, _, err = RangeOf("bogus", 24)
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestRangesOverlap(t *testing.T) {
	tests := []struct {
		name                       string
		aStart, aEnd, bStart, bEnd uint32
		want                       bool
	}{
		{"disjoint", 0, 9, 10, 20, false},
		{"touching", 0, 10, 10, 20, true},
		{"contained", 0, 100, 10, 20, true},
		{"identical", 5, 5, 5, 5, true},
		{"reversed disjoint", 30, 40, 10, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RangesOverlap(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
			assert.Equal(t, tt.want, RangesOverlap(tt.bStart, tt.bEnd, tt.aStart, tt.aEnd))
		})
	}
}

func TestUsableRange(t *testing.T) {
	tests := []struct {
		network string
		prefix  int
		first   string
		last    string
		size    uint64
	}{
		{"10.0.0.0", 30, "10.0.0.1", "10.0.0.2", 2},
		{"10.0.0.0", 29, "10.0.0.1", "10.0.0.6", 6},
		{"10.0.0.0", 24, "10.0.0.1", "10.0.0.254", 254},
		{"10.0.0.4", 31, "10.0.0.4", "10.0.0.5", 2},
		{"10.0.0.9", 32, "10.0.0.9", "10.0.0.9", 1},
	}
	for _, tt := range tests {
		r, err := UsableRange(tt.network, tt.prefix)
		require.NoError(t, err)
		assert.Equal(t, tt.first, ToAddress(r.Start))
		assert.Equal(t, tt.last, ToAddress(r.End))
		assert.Equal(t, tt.size, r.Size())
	}
}

func TestHasHostBits(t *testing.T) {
	got, err := HasHostBits("10.0.0.0", 24)
	require.NoError(t, err)
	assert.False(t, got)

	got, err = HasHostBits("10.0.0.1", 24)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRangeHelpers(t *testing.T) {
	r, err := NewRange("10.0.0.0", "10.0.0.255")
	require.NoError(t, err)
	assert.Equal(t, uint64(256), r.Size())
	assert.Equal(t, []string{"10.0.0.0/24"}, r.Prefixes())
	assert.Equal(t, "10.0.0.0-10.0.0.255", r.String())

	n, _ := ToInt("10.0.0.128")
	assert.True(t, r.Contains(n))

	other, err := CIDR("10.0.0.128", 25)
	require.NoError(t, err)
	assert.True(t, r.Overlaps(other))

	_, err = NewRange("10.0.0.9", "10.0.0.1")
	assert.Error(t, err)
}
