package main

import (
	"testing"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, m map[string]any) *koanf.Koanf {
	t.Helper()
	ko := koanf.New(".")
	require.NoError(t, ko.Load(confmap.Provider(m, "."), nil))
	return ko
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(loadMap(t, map[string]any{}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, ipam.ScopeGlobal, cfg.IPAM.OverlapScope)
	assert.Equal(t, ipam.MACReject, cfg.IPAM.DuplicateMAC)
	assert.Equal(t, 3, cfg.IPAM.AttributeRetries)
	assert.Equal(t, 30*time.Minute, cfg.Migration.JobTimeout)
	assert.Equal(t, time.Hour, cfg.Migration.ProgressTTL)
	assert.Equal(t, 24*time.Hour, cfg.Migration.BackupTTL)
	assert.Equal(t, 10, cfg.Migration.FlushEvery)
	assert.Equal(t, "memory", cfg.KV.Backend)
	assert.Equal(t, "memory", cfg.Radius.Backend)
}

func TestParseConfigOverrides(t *testing.T) {
	cfg, err := parseConfig(loadMap(t, map[string]any{
		"ipam.overlap_scope":     "pool",
		"ipam.duplicate_mac":     "allow",
		"ipam.attribute_retries": 0,
		"migration.job_timeout":  "5m",
		"migration.flush_every":  25,
		"kv.backend":             "etcd",
		"kv.etcd_endpoints":      []string{"127.0.0.1:2379"},
		"radius.backend":         "kv",
	}))
	require.NoError(t, err)

	assert.Equal(t, ipam.ScopePool, cfg.IPAM.OverlapScope)
	assert.Equal(t, ipam.MACAllow, cfg.IPAM.DuplicateMAC)
	assert.Equal(t, 0, cfg.IPAM.AttributeRetries)
	assert.Equal(t, 5*time.Minute, cfg.Migration.JobTimeout)
	assert.Equal(t, 25, cfg.Migration.FlushEvery)
	assert.Equal(t, []string{"127.0.0.1:2379"}, cfg.KV.EtcdEndpoints)
}

func TestParseConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		conf map[string]any
	}{
		{"log level", map[string]any{"app.log_level": "trace"}},
		{"overlap scope", map[string]any{"ipam.overlap_scope": "subnet"}},
		{"duplicate mac", map[string]any{"ipam.duplicate_mac": "maybe"}},
		{"negative retries", map[string]any{"ipam.attribute_retries": -1}},
		{"zero flush", map[string]any{"migration.flush_every": 0}},
		{"zero timeout", map[string]any{"migration.job_timeout": "0s"}},
		{"kv backend", map[string]any{"kv.backend": "redis"}},
		{"etcd without endpoints", map[string]any{"kv.backend": "etcd"}},
		{"radius backend", map[string]any{"radius.backend": "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(loadMap(t, tt.conf))
			assert.Error(t, err)
		})
	}
}
