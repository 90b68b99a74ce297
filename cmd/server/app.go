package main

import (
	"context"
	"fmt"

	"github.com/mr-karan/ipamd/internal/api"
	"github.com/mr-karan/ipamd/internal/auth"
	"github.com/mr-karan/ipamd/internal/ipam"
	"github.com/mr-karan/ipamd/internal/kvstore"
	"github.com/mr-karan/ipamd/internal/migration"
	"github.com/mr-karan/ipamd/internal/store"
	"github.com/zerodha/logf"
)

// App is the global app context container that is passed
// around and injected everywhere.
type App struct {
	lo       logf.Logger
	kv       kvstore.Store
	ipam     *ipam.Service
	migrator *migration.Migrator
	api      *api.Server
}

// initApp wires every component from cfg.
func initApp(ctx context.Context, cfg *Config, lo logf.Logger) (*App, error) {
	kv, err := initKV(ctx, cfg, lo)
	if err != nil {
		return nil, err
	}

	subs, err := initSubscribers(cfg, lo)
	if err != nil {
		kv.Close()
		return nil, err
	}

	st, err := store.New()
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("error creating store: %w", err)
	}

	replies := initReplies(cfg, kv)
	svc := ipam.New(ipam.Config{
		OverlapScope:         cfg.IPAM.OverlapScope,
		DuplicateMAC:         cfg.IPAM.DuplicateMAC,
		AttributeRetries:     cfg.IPAM.AttributeRetries,
		RetryInitialInterval: cfg.IPAM.RetryInitialInterval,
		RetryMaxInterval:     cfg.IPAM.RetryMaxInterval,
	}, st, replies, lo)

	mig := migration.New(ctx, migration.Config{
		JobTimeout:  cfg.Migration.JobTimeout,
		ProgressTTL: cfg.Migration.ProgressTTL,
		BackupTTL:   cfg.Migration.BackupTTL,
		FlushEvery:  cfg.Migration.FlushEvery,
		RateLimit:   cfg.Migration.RateLimit,
	}, svc, replies, subs, kv, lo)

	authenticator := auth.New(cfg.Auth.APIKeys, lo)
	if !authenticator.Enabled() {
		lo.Warn("no API keys configured, the management API is open")
	}

	srv := api.NewAPIServer(api.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, lo, svc, mig, authenticator)

	return &App{
		lo:       lo,
		kv:       kv,
		ipam:     svc,
		migrator: mig,
		api:      srv,
	}, nil
}

// Close stops live migrations and closes the kv store.
func (a *App) Close() {
	a.migrator.Close()
	if err := a.kv.Close(); err != nil {
		a.lo.Error("error closing kv store", "error", err)
	}
}
