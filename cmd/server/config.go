package main

import (
	"fmt"
	"time"

	"github.com/knadh/koanf"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/kvstore"
)

const (
	radiusBackendMemory = "memory"
	radiusBackendKV     = "kv"
)

// Config represents the application configuration
type Config struct {
	App struct {
		LogLevel string `toml:"log_level"`
	} `toml:"app"`

	HTTP struct {
		ListenAddr     string   `toml:"listen_addr"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"http"`

	Auth struct {
		APIKeys []string `toml:"api_keys"`
	} `toml:"auth"`

	IPAM struct {
		OverlapScope         ipam.OverlapScope `toml:"overlap_scope"`
		DuplicateMAC         ipam.MACPolicy    `toml:"duplicate_mac"`
		AttributeRetries     int               `toml:"attribute_retries"`
		RetryInitialInterval time.Duration     `toml:"retry_initial_interval"`
		RetryMaxInterval     time.Duration     `toml:"retry_max_interval"`
	} `toml:"ipam"`

	Migration struct {
		JobTimeout  time.Duration `toml:"job_timeout"`
		ProgressTTL time.Duration `toml:"progress_ttl"`
		BackupTTL   time.Duration `toml:"backup_ttl"`
		FlushEvery  int           `toml:"flush_every"`
		RateLimit   float64       `toml:"rate_limit"`
	} `toml:"migration"`

	KV struct {
		Backend         string        `toml:"backend"`
		BoltPath        string        `toml:"bolt_path"`
		EtcdEndpoints   []string      `toml:"etcd_endpoints"`
		EtcdDialTimeout time.Duration `toml:"etcd_dial_timeout"`
		CleanupInterval time.Duration `toml:"cleanup_interval"`
	} `toml:"kv"`

	Radius struct {
		Backend string `toml:"backend"`
	} `toml:"radius"`

	Subscribers struct {
		File string `toml:"file"`
	} `toml:"subscribers"`
}

// parseConfig parses and validates the configuration
func parseConfig(ko *koanf.Koanf) (*Config, error) {
	var cfg Config

	cfg.App.LogLevel = stringOr(ko, "app.log_level", "info")

	cfg.HTTP.ListenAddr = stringOr(ko, "http.listen_addr", ":8080")
	cfg.HTTP.AllowedOrigins = ko.Strings("http.allowed_origins")

	cfg.Auth.APIKeys = ko.Strings("auth.api_keys")

	cfg.IPAM.OverlapScope = ipam.OverlapScope(stringOr(ko, "ipam.overlap_scope", string(ipam.ScopeGlobal)))
	cfg.IPAM.DuplicateMAC = ipam.MACPolicy(stringOr(ko, "ipam.duplicate_mac", string(ipam.MACReject)))
	cfg.IPAM.AttributeRetries = 3
	if ko.Exists("ipam.attribute_retries") {
		cfg.IPAM.AttributeRetries = ko.Int("ipam.attribute_retries")
	}
	cfg.IPAM.RetryInitialInterval = durationOr(ko, "ipam.retry_initial_interval", 100*time.Millisecond)
	cfg.IPAM.RetryMaxInterval = durationOr(ko, "ipam.retry_max_interval", 2*time.Second)

	cfg.Migration.JobTimeout = durationOr(ko, "migration.job_timeout", 30*time.Minute)
	cfg.Migration.ProgressTTL = durationOr(ko, "migration.progress_ttl", time.Hour)
	cfg.Migration.BackupTTL = durationOr(ko, "migration.backup_ttl", 24*time.Hour)
	cfg.Migration.FlushEvery = 10
	if ko.Exists("migration.flush_every") {
		cfg.Migration.FlushEvery = ko.Int("migration.flush_every")
	}
	cfg.Migration.RateLimit = ko.Float64("migration.rate_limit")

	cfg.KV.Backend = stringOr(ko, "kv.backend", kvstore.BackendMemory)
	cfg.KV.BoltPath = stringOr(ko, "kv.bolt_path", "ipamd.db")
	cfg.KV.EtcdEndpoints = ko.Strings("kv.etcd_endpoints")
	cfg.KV.EtcdDialTimeout = durationOr(ko, "kv.etcd_dial_timeout", 5*time.Second)
	cfg.KV.CleanupInterval = durationOr(ko, "kv.cleanup_interval", time.Minute)

	cfg.Radius.Backend = stringOr(ko, "radius.backend", radiusBackendMemory)
	cfg.Subscribers.File = ko.String("subscribers.file")

	// Validation
	switch cfg.App.LogLevel {
	case "info", "debug":
	default:
		return nil, fmt.Errorf("app.log_level must be info or debug, got %q", cfg.App.LogLevel)
	}
	switch cfg.IPAM.OverlapScope {
	case ipam.ScopeGlobal, ipam.ScopePool:
	default:
		return nil, fmt.Errorf("ipam.overlap_scope must be global or pool, got %q", cfg.IPAM.OverlapScope)
	}
	switch cfg.IPAM.DuplicateMAC {
	case ipam.MACReject, ipam.MACAllow:
	default:
		return nil, fmt.Errorf("ipam.duplicate_mac must be reject or allow, got %q", cfg.IPAM.DuplicateMAC)
	}
	if cfg.IPAM.AttributeRetries < 0 {
		return nil, fmt.Errorf("ipam.attribute_retries must not be negative")
	}
	if cfg.Migration.FlushEvery < 1 {
		return nil, fmt.Errorf("migration.flush_every must be at least 1")
	}
	if cfg.Migration.RateLimit < 0 {
		return nil, fmt.Errorf("migration.rate_limit must not be negative")
	}
	for key, d := range map[string]time.Duration{
		"ipam.retry_initial_interval": cfg.IPAM.RetryInitialInterval,
		"ipam.retry_max_interval":     cfg.IPAM.RetryMaxInterval,
		"migration.job_timeout":       cfg.Migration.JobTimeout,
		"migration.progress_ttl":      cfg.Migration.ProgressTTL,
		"migration.backup_ttl":        cfg.Migration.BackupTTL,
		"kv.cleanup_interval":         cfg.KV.CleanupInterval,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive", key)
		}
	}
	switch cfg.KV.Backend {
	case kvstore.BackendMemory, kvstore.BackendBolt:
	case kvstore.BackendEtcd:
		if len(cfg.KV.EtcdEndpoints) == 0 {
			return nil, fmt.Errorf("kv.etcd_endpoints is required for the etcd backend")
		}
	default:
		return nil, fmt.Errorf("kv.backend must be memory, bolt or etcd, got %q", cfg.KV.Backend)
	}
	switch cfg.Radius.Backend {
	case radiusBackendMemory, radiusBackendKV:
	default:
		return nil, fmt.Errorf("radius.backend must be memory or kv, got %q", cfg.Radius.Backend)
	}

	return &cfg, nil
}

func stringOr(ko *koanf.Koanf, key, def string) string {
	if v := ko.String(key); v != "" {
		return v
	}
	return def
}

func durationOr(ko *koanf.Koanf, key string, def time.Duration) time.Duration {
	if ko.Exists(key) {
		return ko.Duration(key)
	}
	return def
}
