package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	// buildString is injected at build time
	buildString = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ko := initConfig("config.sample.toml", "IPAMD_")
	lo := initLogger(ko)

	lo.Info("starting ipamd", "version", buildString)

	cfg, err := parseConfig(ko)
	if err != nil {
		lo.Error("config error", "error", err)
		os.Exit(1)
	}

	app, err := initApp(ctx, cfg, lo)
	if err != nil {
		lo.Error("error initialising app", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.api.Start(ctx); err != nil {
			lo.Error("api server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	lo.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		app.Close()
		close(done)
	}()

	select {
	case <-done:
		lo.Info("shutdown complete")
	case <-shutdownCtx.Done():
		lo.Warn("shutdown timeout exceeded")
	}
}
