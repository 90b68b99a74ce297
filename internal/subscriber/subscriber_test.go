package subscriber

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subscribers:
  - username: carol
    mac_address: "aa:bb:cc:dd:ee:03"
    profile_id: home-50m
  - username: alice
    mac_address: "aa:bb:cc:dd:ee:01"
    profile_id: home-50m
  - username: dave
    profile_id: biz-100m
`), 0o644))

	dir, err := LoadYAML(path)
	require.NoError(t, err)

	subs, err := dir.ByProfile(context.Background(), "home-50m")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "alice", subs[0].Username)
	assert.Equal(t, "carol", subs[1].Username)

	subs, err = dir.ByProfile(context.Background(), "none")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestLoadYAMLInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "subscribers: [",
		"no user":    "subscribers:\n  - profile_id: p\n",
		"no profile": "subscribers:\n  - username: u\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "s.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadYAML(path)
			assert.ErrorIs(t, err, ErrInvalidDirectory)
		})
	}

	_, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticPut(t *testing.T) {
	dir := NewStatic(Subscriber{Username: "alice", ProfileID: "a"})
	dir.Put(Subscriber{Username: "alice", ProfileID: "b"})

	subs, err := dir.ByProfile(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, subs)

	subs, err = dir.ByProfile(context.Background(), "b")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}
