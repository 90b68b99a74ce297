package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/zerodha/logf"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/mr-karan/ipamd/internal/kvstore"
	"github.com/mr-karan/ipamd/internal/radius"
	"github.com/mr-karan/ipamd/internal/subscriber"
	flag "github.com/spf13/pflag"
)

// initLogger initializes logger instance.
func initLogger(ko *koanf.Koanf) logf.Logger {
	opts := logf.Opts{EnableColor: true, EnableCaller: true}
	if ko.String("app.log_level") == "debug" {
		opts.Level = logf.DebugLevel
	}
	return logf.New(opts)
}

// initConfig loads config to `ko` object.
func initConfig(cfgDefault string, envPrefix string) *koanf.Koanf {
	var (
		ko = koanf.New(".")
		f  = flag.NewFlagSet("ipamd", flag.ContinueOnError)
	)

	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	cfgPath := f.String("config", cfgDefault, "Path to a config file to load.")
	version := f.Bool("version", false, "Print the version and exit.")

	if err := f.Parse(os.Args[1:]); err != nil {
		fmt.Printf("error parsing flags: %v\n", err)
		os.Exit(1)
	}
	if *version {
		fmt.Println(buildString)
		os.Exit(0)
	}

	fmt.Printf("attempting to load config from file: %s\n", *cfgPath)
	if err := ko.Load(file.Provider(*cfgPath), toml.Parser()); err != nil {
		// A missing default config is fine; everything can come from env.
		if *cfgPath == cfgDefault {
			fmt.Printf("unable to open sample config file: %v\n", err)
		} else {
			fmt.Printf("error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	// IPAMD_HTTP__LISTEN_ADDR overrides http.listen_addr.
	if envPrefix != "" {
		err := ko.Load(env.Provider(envPrefix, ".", func(s string) string {
			return strings.ReplaceAll(strings.ToLower(
				strings.TrimPrefix(s, envPrefix)), "__", ".")
		}), nil)
		if err != nil {
			fmt.Printf("error loading env config: %v\n", err)
			os.Exit(1)
		}
	}

	return ko
}

// initKV opens the configured kv backend.
func initKV(ctx context.Context, cfg *Config, lo logf.Logger) (kvstore.Store, error) {
	kv, err := kvstore.Open(ctx, kvstore.Config{
		Backend:         cfg.KV.Backend,
		CleanupInterval: cfg.KV.CleanupInterval,
		BoltPath:        cfg.KV.BoltPath,
		EtcdEndpoints:   cfg.KV.EtcdEndpoints,
		EtcdDialTimeout: cfg.KV.EtcdDialTimeout,
	}, lo)
	if err != nil {
		return nil, fmt.Errorf("error opening kv store: %w", err)
	}
	lo.Info("kv store ready", "backend", cfg.KV.Backend)
	return kv, nil
}

// initReplies returns the RADIUS reply attribute store.
func initReplies(cfg *Config, kv kvstore.Store) radius.ReplyStore {
	if cfg.Radius.Backend == radiusBackendKV {
		return radius.NewKVStore(kv)
	}
	return radius.NewMemoryStore()
}

// initSubscribers loads the subscriber directory. Without a file the
// directory starts empty.
func initSubscribers(cfg *Config, lo logf.Logger) (subscriber.Directory, error) {
	if cfg.Subscribers.File == "" {
		lo.Warn("no subscriber directory configured, migrations will find no clients")
		return subscriber.NewStatic(), nil
	}
	dir, err := subscriber.LoadYAML(cfg.Subscribers.File)
	if err != nil {
		return nil, err
	}
	lo.Info("loaded subscriber directory", "file", cfg.Subscribers.File)
	return dir, nil
}
