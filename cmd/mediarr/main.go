package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mediarr/internal/api"
	"mediarr/internal/config"
	"mediarr/internal/eventbus"
	"mediarr/internal/kit"
	"mediarr/internal/metrics"
	"mediarr/internal/notify"
	"mediarr/internal/notify/adapters"
	"mediarr/internal/ratelimit"
	"mediarr/internal/scheduler"
	"mediarr/internal/storage"
	"mediarr/internal/tasks"
	logx "mediarr/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./mediarr.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	bus := eventbus.New()
	registry := adapters.NewRegistry(nil)
	limiter := ratelimit.New()

	notifySvc := notify.New(notifyConfig(cfg), store, registry, log.With(logx.String("svc", "notify")))
	notifySvc.SetAttemptHook(recordDelivery)

	sched := scheduler.New(schedulerConfig(cfg), store, bus, log.With(logx.String("svc", "scheduler")))
	jobTasks, err := buildTasks(cfg, store, log)
	if err != nil {
		return err
	}
	for _, def := range jobTasks.Defs() {
		if err := sched.Register(def); err != nil {
			return err
		}
	}

	bridge := notify.NewBridge(bus, notifySvc, log.With(logx.String("svc", "bridge")))
	bridge.Start(ctx)
	defer bridge.Stop()

	if cfg.Scheduler.Enabled {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer scancel()
			sched.Stop(sctx)
		}()
	} else {
		log.Warn("scheduler disabled by config")
	}

	apiSrv := api.NewServer(apiConfig(cfg), sched, notifySvc, limiter, log.With(logx.String("svc", "api")))
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiSrv.Router(),
		ReadTimeout:  mustDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: mustDuration(cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:  mustDuration(cfg.Server.IdleTimeout, time.Minute),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", logx.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Live reload: logging, scheduler timing, and dispatcher pacing follow
	// the config file; storage and server address changes need a restart.
	sub := mgr.Subscribe(4)
	defer mgr.Unsubscribe(sub)
	go func() {
		for next := range sub {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File: logx.FileConfig{
					Enabled: next.Logging.File.Enabled,
					Path:    next.Logging.File.Path,
				},
			})
			sched.Apply(schedulerConfig(next))
			notifySvc.Apply(notifyConfig(next))
		}
	}()
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	notifyReadiness(ctx, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shCtx, shCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shCancel()
	if err := httpSrv.Shutdown(shCtx); err != nil {
		log.Warn("http shutdown incomplete", logx.Err(err))
	}
	return nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("svc", "storage")))
}

func buildTasks(cfg *config.Config, store storage.Store, log logx.Logger) (*tasks.Tasks, error) {
	imageTTL, err := config.ParseDurationField("tasks.image_cache_ttl", cfg.Tasks.ImageCacheTTL)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := config.ParseDurationField("tasks.session_ttl", cfg.Tasks.SessionTTL)
	if err != nil {
		return nil, err
	}
	retention, err := config.ParseDurationField("tasks.history_retention", cfg.Tasks.HistoryRetention)
	if err != nil {
		return nil, err
	}
	return tasks.New(tasks.Config{
		MediaServerURL:   cfg.Tasks.MediaServerURL,
		MediaServerKey:   cfg.Tasks.MediaServerKey,
		ImageCacheDir:    cfg.Tasks.ImageCacheDir,
		ImageCacheTTL:    imageTTL,
		SessionDir:       cfg.Tasks.SessionDir,
		SessionTTL:       sessionTTL,
		HistoryRetention: retention,
	}, store, nil, log.With(logx.String("svc", "tasks"))), nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		TickInterval:   mustDuration(cfg.Scheduler.TickInterval, 0),
		DefaultTimeout: mustDuration(cfg.Scheduler.DefaultTimeout, 0),
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		RatePerSec:  cfg.Notify.RatePerSec,
		MaxInFlight: cfg.Notify.MaxInFlight,
		SendTimeout: mustDuration(cfg.Notify.SendTimeout, 0),
	}
}

func apiConfig(cfg *config.Config) api.Config {
	return api.Config{
		TestSendWindow: mustDuration(cfg.RateLimit.TestSend.Window, 0),
		TestSendMax:    cfg.RateLimit.TestSend.Max,
	}
}

// mustDuration is only called on fields that Config.Validate already
// accepted; a parse failure here means the default applies.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func recordDelivery(at kit.DeliveryAttempt) {
	metrics.RecordNotification(string(at.Kind), at.OK)
}

// notifyReadiness tells systemd the process is up and keeps the watchdog
// fed when one is configured. A no-op outside systemd units.
func notifyReadiness(ctx context.Context, log logx.Logger) {
	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); ok {
		log.Debug("systemd readiness notified")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
