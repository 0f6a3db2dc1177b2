package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"verdictbot/internal/compose"
	"verdictbot/internal/config"
	"verdictbot/internal/dispatch"
	"verdictbot/internal/eventbus"
	"verdictbot/internal/observability/ops"
	"verdictbot/internal/storage"
	"verdictbot/internal/transport/telegram"
	logx "verdictbot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Close() }()

	bus := eventbus.New()

	store, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}, log.With(logx.String("comp", "storage")))
	if err != nil {
		log.Error("storage open failed", logx.Err(err))
		os.Exit(1)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	link := telegram.New(telegram.Config{
		Token:       cfg.Token(),
		PollTimeout: config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second),
	}, log.With(logx.String("comp", "telegram")), bus)

	// Branding is hot-reloadable; the dispatcher reads through this snapshot.
	var brandingMu sync.RWMutex
	branding := cfg.Branding
	brandingFn := func() compose.Branding {
		brandingMu.RLock()
		defer brandingMu.RUnlock()
		return compose.Branding{
			ServerName: branding.ServerName,
			IconURL:    branding.IconURL,
			FooterText: branding.FooterText,
		}
	}

	dispatcher := dispatch.New(dispatch.Config{
		RetryMax:    cfg.Dispatch.RetryMax,
		RetryStep:   config.Duration("dispatch.retry_step", cfg.Dispatch.RetryStep, 5*time.Second),
		SendTimeout: config.Duration("dispatch.send_timeout", cfg.Dispatch.SendTimeout, 10*time.Second),
		ReadyGrace:  config.Duration("dispatch.ready_grace", cfg.Dispatch.ReadyGrace, time.Second),
		DrainEvery:  config.Duration("dispatch.drain_every", cfg.Dispatch.DrainEvery, 30*time.Second),
		RatePerSec:  cfg.Dispatch.RatePerSec,
	}, link, brandingFn, log.With(logx.String("comp", "dispatch")), bus)
	dispatcher.Start(ctx)

	recorder := storage.NewRecorder(store, bus, log.With(logx.String("comp", "recorder")))
	go recorder.Run(ctx)

	opsSrv := ops.New(ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
		Token:   cfg.Ops.Token,
	}, dispatcher, log.With(logx.String("comp", "ops")))
	if err := opsSrv.Start(ctx); err != nil {
		log.Error("ops server start failed", logx.Err(err))
		os.Exit(1)
	}

	// Bring the session up eagerly so the first decision does not pay the
	// handshake grace. Dispatch still lazy-initializes if this races.
	link.Initialize(ctx)

	if err := config.Watch(ctx, cfgPath, log.With(logx.String("comp", "config")), func(next *config.Config) {
		brandingMu.Lock()
		branding = next.Branding
		brandingMu.Unlock()
	}); err != nil {
		log.Warn("config watch unavailable", logx.Err(err))
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("verdictbot up")

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = opsSrv.Stop(stopCtx)
	dispatcher.Stop(stopCtx)
	_ = link.Stop(stopCtx)
}
