package ipam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-karan/ipamd/internal/models"
	"github.com/mr-karan/ipamd/internal/radius"
	"github.com/mr-karan/ipamd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zerodha/logf"
)

type failingReplies struct {
	calls atomic.Int32
}

func (f *failingReplies) UpsertReplyAttribute(context.Context, string, string, string) error {
	f.calls.Add(1)
	return errors.New("radius database unavailable")
}

func (f *failingReplies) GetReplyAttribute(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func newTestService(t *testing.T, replies radius.ReplyStore, cfg Config) *Service {
	t.Helper()
	st, err := store.New()
	require.NoError(t, err)
	if replies == nil {
		replies = radius.NewMemoryStore()
	}
	if cfg.RetryInitialInterval == 0 {
		cfg.RetryInitialInterval = time.Millisecond
		cfg.RetryMaxInterval = 5 * time.Millisecond
	}
	return New(cfg, st, replies, logf.New(logf.Opts{Writer: io.Discard}))
}

func mustPool(t *testing.T, s *Service, name string) *models.Pool {
	t.Helper()
	p, err := s.CreatePool(context.Background(), PoolInput{
		Name:    name,
		StartIP: "10.0.0.0",
		EndIP:   "10.255.255.255",
	})
	require.NoError(t, err)
	return p
}

func mustSubnet(t *testing.T, s *Service, poolID, network string, prefix int) *models.Subnet {
	t.Helper()
	sn, err := s.CreateSubnet(context.Background(), SubnetInput{
		PoolID:       poolID,
		Network:      network,
		PrefixLength: prefix,
	})
	require.NoError(t, err)
	return sn
}

func TestCreatePoolValidation(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()

	_, err := s.CreatePool(ctx, PoolInput{Name: "", StartIP: "10.0.0.1", EndIP: "10.0.0.0"})
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "name")
	assert.Contains(t, verr.Fields, "end_ip")

	vlan := 5000
	_, err = s.CreatePool(ctx, PoolInput{Name: "p", StartIP: "10.0.0.0", EndIP: "10.0.0.9", VLANID: &vlan})
	require.ErrorIs(t, err, ErrValidation)

	p, err := s.CreatePool(ctx, PoolInput{Name: "p", StartIP: "10.0.0.0", EndIP: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, p.Status)

	_, err = s.CreatePool(ctx, PoolInput{Name: "P", StartIP: "10.0.0.0", EndIP: "10.0.0.9"})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestUpdatePool(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "residential")

	desc := "home users"
	inactive := models.StatusInactive
	updated, err := s.UpdatePool(ctx, p.ID, PoolUpdate{Description: &desc, Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, "home users", updated.Description)
	assert.Equal(t, models.StatusInactive, updated.Status)
	assert.Equal(t, p.Name, updated.Name)

	bad := "nope"
	_, err = s.UpdatePool(ctx, p.ID, PoolUpdate{Gateway: &bad})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.UpdatePool(ctx, "missing", PoolUpdate{})
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestCreateSubnetValidation(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")

	tests := []struct {
		name  string
		in    SubnetInput
		field string
	}{
		{"prefix too small", SubnetInput{PoolID: p.ID, Network: "10.0.0.0", PrefixLength: 7}, "prefix_length"},
		{"prefix too large", SubnetInput{PoolID: p.ID, Network: "10.0.0.0", PrefixLength: 33}, "prefix_length"},
		{"host bits", SubnetInput{PoolID: p.ID, Network: "10.0.0.5", PrefixLength: 24}, "network"},
		{"bad network", SubnetInput{PoolID: p.ID, Network: "10.0.0", PrefixLength: 24}, "network"},
		{"gateway outside", SubnetInput{PoolID: p.ID, Network: "10.0.0.0", PrefixLength: 24, Gateway: "10.0.1.1"}, "gateway"},
		{"missing pool id", SubnetInput{Network: "10.0.0.0", PrefixLength: 24}, "pool_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateSubnet(ctx, tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}

	_, err := s.CreateSubnet(ctx, SubnetInput{PoolID: "missing", Network: "10.0.0.0", PrefixLength: 24})
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestSubnetOverlap(t *testing.T) {
	ctx := context.Background()

	t.Run("global scope", func(t *testing.T) {
		s := newTestService(t, nil, Config{})
		a := mustPool(t, s, "a")
		b := mustPool(t, s, "b")
		first := mustSubnet(t, s, a.ID, "10.0.0.0", 24)

		_, err := s.CreateSubnet(ctx, SubnetInput{PoolID: a.ID, Network: "10.0.0.128", PrefixLength: 25})
		require.ErrorIs(t, err, ErrSubnetOverlap)

		var oe *OverlapError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, first.ID, oe.SubnetID)

		_, err = s.CreateSubnet(ctx, SubnetInput{PoolID: b.ID, Network: "10.0.0.0", PrefixLength: 16})
		assert.ErrorIs(t, err, ErrSubnetOverlap)

		mustSubnet(t, s, b.ID, "10.0.1.0", 24)
	})

	t.Run("pool scope", func(t *testing.T) {
		s := newTestService(t, nil, Config{OverlapScope: ScopePool})
		a := mustPool(t, s, "a")
		b := mustPool(t, s, "b")
		mustSubnet(t, s, a.ID, "10.0.0.0", 24)

		_, err := s.CreateSubnet(ctx, SubnetInput{PoolID: a.ID, Network: "10.0.0.0", PrefixLength: 26})
		assert.ErrorIs(t, err, ErrSubnetOverlap)

		mustSubnet(t, s, b.ID, "10.0.0.0", 24)
	})

	t.Run("inactive subnets are ignored", func(t *testing.T) {
		s := newTestService(t, nil, Config{})
		p := mustPool(t, s, "a")
		old := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

		inactive := models.StatusInactive
		_, err := s.UpdateSubnet(ctx, old.ID, SubnetUpdate{Status: &inactive})
		require.NoError(t, err)

		fresh := mustSubnet(t, s, p.ID, "10.0.0.0", 25)

		active := models.StatusActive
		_, err = s.UpdateSubnet(ctx, old.ID, SubnetUpdate{Status: &active})
		var oe *OverlapError
		require.ErrorAs(t, err, &oe)
		assert.Equal(t, fresh.ID, oe.SubnetID)
	})
}

func TestDetectOverlap(t *testing.T) {
	existing := []*models.Subnet{
		{ID: "a", PoolID: "p1", Network: "192.168.0.0", PrefixLength: 24, Status: models.StatusActive},
		{ID: "b", PoolID: "p2", Network: "192.168.1.0", PrefixLength: 24, Status: models.StatusInactive},
	}

	cand := &models.Subnet{ID: "c", PoolID: "p2", Network: "192.168.0.0", PrefixLength: 23}
	oe := DetectOverlap(cand, existing, ScopeGlobal)
	require.NotNil(t, oe)
	assert.Equal(t, "a", oe.SubnetID)

	assert.Nil(t, DetectOverlap(cand, existing, ScopePool))

	disjoint := &models.Subnet{ID: "d", PoolID: "p1", Network: "192.168.2.0", PrefixLength: 24}
	assert.Nil(t, DetectOverlap(disjoint, existing, ScopeGlobal))
}

func TestAllocateLowestFree(t *testing.T) {
	replies := radius.NewMemoryStore()
	s := newTestService(t, replies, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 30)

	alice, err := s.Allocate(ctx, sn.ID, "AA-BB-CC-DD-EE-01", "alice")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", alice.Address)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", alice.MACAddress)

	bob, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:02", "bob")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", bob.Address)

	_, err = s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:03", "carol")
	require.ErrorIs(t, err, ErrPoolExhausted)

	require.NoError(t, s.Release(ctx, alice.ID))

	carol, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:03", "carol")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", carol.Address)

	v, ok, err := replies.GetReplyAttribute(ctx, "carol", radius.FramedIPAddress)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", v)
}

func TestAllocatePointToPoint(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 31)

	a, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0", a.Address)

	b, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:02", "b")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", b.Address)
}

func TestAllocateErrors(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	_, err := s.Allocate(ctx, sn.ID, "not-a-mac", "alice")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", " ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Allocate(ctx, "missing", "aa:bb:cc:dd:ee:01", "alice")
	assert.ErrorIs(t, err, ErrSubnetNotFound)

	_, err = s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	_, err = s.Allocate(ctx, sn.ID, "AA:BB:CC:DD:EE:01", "alice2")
	assert.ErrorIs(t, err, ErrDuplicateMAC)

	inactive := models.StatusInactive
	_, err = s.UpdateSubnet(ctx, sn.ID, SubnetUpdate{Status: &inactive})
	require.NoError(t, err)
	_, err = s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:02", "bob")
	assert.ErrorIs(t, err, ErrSubnetInactive)
}

func TestAllocateUnknownSubnetLeavesNoLock(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Allocate(ctx, fmt.Sprintf("missing-%d", i), "aa:bb:cc:dd:ee:01", "alice")
		assert.ErrorIs(t, err, ErrSubnetNotFound)
	}
	_, err := s.AllocateAddress(ctx, "missing", "10.0.0.1", "aa:bb:cc:dd:ee:01", "alice")
	assert.ErrorIs(t, err, ErrSubnetNotFound)

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestAllocateAddress(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 29)

	a, err := s.AllocateAddress(ctx, sn.ID, "10.0.0.5", "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", a.Address)
	bound, ok, err := s.replies.GetReplyAttribute(ctx, "alice", radius.FramedIPAddress)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.5", bound)

	_, err = s.AllocateAddress(ctx, sn.ID, "10.0.0.5", "aa:bb:cc:dd:ee:02", "bob")
	assert.ErrorIs(t, err, ErrAddressAllocated)

	// network, broadcast and foreign addresses are not claimable
	for _, addr := range []string{"10.0.0.0", "10.0.0.7", "10.0.1.1"} {
		_, err = s.AllocateAddress(ctx, sn.ID, addr, "aa:bb:cc:dd:ee:02", "bob")
		assert.ErrorIs(t, err, ErrValidation, addr)
	}
	_, err = s.AllocateAddress(ctx, sn.ID, "10.0.0", "aa:bb:cc:dd:ee:02", "bob")
	assert.ErrorIs(t, err, ErrMalformedAddress)

	// the lowest free scan skips the claimed address
	b, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:02", "bob")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", b.Address)

	require.NoError(t, s.Release(ctx, a.ID))
	again, err := s.AllocateAddress(ctx, sn.ID, "10.0.0.5", "aa:bb:cc:dd:ee:03", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", again.Username)
}

func TestAllocateDuplicateMACAllowed(t *testing.T) {
	s := newTestService(t, nil, Config{DuplicateMAC: MACAllow})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	_, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	second, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", second.Address)
}

func TestAllocateConcurrent(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 26)

	const clients = 62
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = make(map[string]string)
		fails atomic.Int32
	)
	for i := 0; i < clients+10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mac := fmt.Sprintf("02:00:00:00:%02x:%02x", i/256, i%256)
			a, err := s.Allocate(ctx, sn.ID, mac, fmt.Sprintf("user%d", i))
			if err != nil {
				if errors.Is(err, ErrPoolExhausted) {
					fails.Add(1)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := seen[a.Address]; ok {
				t.Errorf("address %s handed to %s and %s", a.Address, prev, a.Username)
			}
			seen[a.Address] = a.Username
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, clients)
	assert.EqualValues(t, 10, fails.Load())
}

func TestAllocateAttributeSyncFailure(t *testing.T) {
	replies := &failingReplies{}
	s := newTestService(t, replies, Config{AttributeRetries: 2})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	a, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.ErrorIs(t, err, ErrAttributeStoreWriteFailed)
	require.NotNil(t, a)
	assert.Equal(t, "10.0.0.1", a.Address)
	assert.EqualValues(t, 3, replies.calls.Load())

	var serr *AttributeSyncError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "alice", serr.Username)

	got, err := s.GetAllocation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAllocated())
}

func TestAllocateInPool(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	small := mustSubnet(t, s, p.ID, "10.0.0.0", 30)
	large := mustSubnet(t, s, p.ID, "10.0.1.0", 24)

	for i := 0; i < 2; i++ {
		a, err := s.AllocateInPool(ctx, p.ID, fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i), fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		assert.Equal(t, small.ID, a.SubnetID)
	}
	a, err := s.AllocateInPool(ctx, p.ID, "aa:bb:cc:dd:ee:ff", "u3")
	require.NoError(t, err)
	assert.Equal(t, large.ID, a.SubnetID)
	assert.Equal(t, "10.0.1.1", a.Address)

	_, err = s.AllocateInPool(ctx, "missing", "aa:bb:cc:dd:ee:ff", "u3")
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestReleaseIdempotent(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	a, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, a.ID))
	require.NoError(t, s.Release(ctx, a.ID))

	h, err := s.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, models.ActionAllocated, h[0].Action)
	assert.Equal(t, models.ActionReleased, h[1].Action)

	assert.ErrorIs(t, s.Release(ctx, "missing"), ErrAllocationNotFound)
}

func TestReleaseByAddress(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	a, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.ReleaseByAddress(ctx, sn.ID, "10.0.0"), ErrMalformedAddress)
	assert.ErrorIs(t, s.ReleaseByAddress(ctx, "missing", "10.0.0.1"), ErrSubnetNotFound)
	require.NoError(t, s.ReleaseByAddress(ctx, sn.ID, "10.0.0.99"))

	require.NoError(t, s.ReleaseByAddress(ctx, sn.ID, "10.0.0.1"))
	got, err := s.GetAllocation(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAllocated())
	assert.NotNil(t, got.ReleasedAt)
}

func TestDeleteGuards(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 24)

	a, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSubnet(ctx, sn.ID), ErrHasActiveAllocations)
	assert.ErrorIs(t, s.DeletePool(ctx, p.ID), ErrHasActiveAllocations)

	require.NoError(t, s.Release(ctx, a.ID))
	require.NoError(t, s.DeletePool(ctx, p.ID))

	_, err = s.GetSubnet(ctx, sn.ID)
	assert.ErrorIs(t, err, ErrSubnetNotFound)
	_, err = s.GetAllocation(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
	assert.ErrorIs(t, s.DeleteSubnet(ctx, sn.ID), ErrSubnetNotFound)
}

func TestUtilization(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	a := mustSubnet(t, s, p.ID, "10.0.0.0", 30)
	b := mustSubnet(t, s, p.ID, "10.0.1.0", 29)

	_, err := s.Allocate(ctx, a.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)

	su, err := s.SubnetUtilization(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, su.Total)
	assert.EqualValues(t, 1, su.Allocated)
	assert.EqualValues(t, 1, su.Available)
	assert.Equal(t, 50.0, su.Percent)

	pu, err := s.PoolUtilization(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 8, pu.Total)
	assert.EqualValues(t, 1, pu.Allocated)
	assert.EqualValues(t, 7, pu.Available)
	assert.Equal(t, 12.5, pu.Percent)
	require.Len(t, pu.Subnets, 2)
	assert.Equal(t, b.ID, pu.Subnets[1].SubnetID)

	free, err := s.FreeInPool(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 7, free)

	_, err = s.PoolUtilization(ctx, "missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)
}

func TestPercentRounding(t *testing.T) {
	assert.Equal(t, 33.33, percent(1, 3))
	assert.Equal(t, 66.67, percent(2, 3))
	assert.Equal(t, 0.0, percent(0, 0))
	assert.Equal(t, 100.0, percent(254, 254))
}

func TestAvailableAddresses(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p := mustPool(t, s, "p")
	sn := mustSubnet(t, s, p.ID, "10.0.0.0", 29)

	_, err := s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	_, err = s.Allocate(ctx, sn.ID, "aa:bb:cc:dd:ee:02", "bob")
	require.NoError(t, err)

	seq, err := s.AvailableAddresses(ctx, sn.ID)
	require.NoError(t, err)

	var got []string
	for addr := range seq {
		got = append(got, addr)
	}
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}, got)

	var first []string
	for addr := range seq {
		first = append(first, addr)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4"}, first)

	_, err = s.AvailableAddresses(ctx, "missing")
	assert.ErrorIs(t, err, ErrSubnetNotFound)
}

func TestActiveForUser(t *testing.T) {
	s := newTestService(t, nil, Config{})
	ctx := context.Background()
	p1 := mustPool(t, s, "p1")
	p2 := mustPool(t, s, "p2")
	sn1 := mustSubnet(t, s, p1.ID, "10.0.0.0", 24)
	sn2 := mustSubnet(t, s, p2.ID, "10.0.1.0", 24)

	_, err := s.Allocate(ctx, sn1.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)
	_, err = s.Allocate(ctx, sn2.ID, "aa:bb:cc:dd:ee:01", "alice")
	require.NoError(t, err)

	got, err := s.ActiveForUser(ctx, p1.ID, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, sn1.ID, got[0].SubnetID)
}

func TestNormalizeMAC(t *testing.T) {
	mac, err := NormalizeMAC("AA-bb-CC-dd-EE-ff")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", mac)

	for _, bad := range []string{"", "aabbccddeeff", "aa:bb:cc:dd:ee", "gg:bb:cc:dd:ee:ff"} {
		_, err := NormalizeMAC(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}
