// Package app wires respawnbot together: config, logging, storage, the
// respawn state and trigger loop, the Discord player, the sync cadence, and
// the HTTP API.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"respawnbot/internal/config"
	"respawnbot/internal/eventbus"
	"respawnbot/internal/httpapi"
	"respawnbot/internal/respawn"
	"respawnbot/internal/runtime/supervisor"
	"respawnbot/internal/storage"
	"respawnbot/internal/syncer"
	"respawnbot/internal/voice"
	logx "respawnbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus   eventbus.Bus
	store storage.Store
	state *respawn.State

	discord *voice.DiscordPlayer // nil when running with the nop player
	sched   *respawn.Scheduler
	worker  *respawn.Worker
	syncer  *syncer.Service
	api     *httpapi.Service

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	mgr.SetValidator(validate)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))

	return &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    eventbus.New(),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("component", "supervisor"))))
	runCtx := a.sup.Context()

	// Storage + state.
	busyTimeout, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("component", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	a.state = respawn.NewState(cfg.Respawn.MaxChannels, a.log.With(logx.String("component", "state")))
	if a.store != nil {
		lctx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		a.state.ApplyPersisted(a.store.LoadSettings(lctx))
		cancel()
	}

	// Persist + broadcast on every mutation. Registered after seeding so the
	// load itself doesn't trigger a save.
	a.state.OnChange(func() {
		snap := a.state.ToPersisted()
		if a.store != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.store.SaveSettings(sctx, snap); err != nil {
				a.log.Warn("settings save failed", logx.Err(err))
			}
			cancel()
		}
		a.bus.Publish(eventbus.Event{Type: eventbus.TypeSettingsChanged, Data: snap})
	})

	// Player.
	var player respawn.Player
	if cfg.Discord.Enabled && cfg.Discord.Token != "" {
		dp, err := voice.NewDiscordPlayer(voice.Config{
			Token:      cfg.Discord.Token,
			RatePerSec: cfg.Discord.RatePerSec,
		}, a.log.With(logx.String("component", "voice")))
		if err != nil {
			return err
		}
		if err := dp.Open(); err != nil {
			return err
		}
		a.discord = dp
		player = dp
	} else {
		a.log.Warn("discord disabled; running with nop player")
		player = voice.NewNopPlayer(a.log)
	}

	// Scheduler + trigger loop.
	a.sched = respawn.NewScheduler(a.state, player, a.bus, respawn.SchedulerConfig{
		Sound10m: cfg.Discord.Sound10m,
		Sound2h:  cfg.Discord.Sound2h,
	}, a.log.With(logx.String("component", "scheduler")))

	minSleep, _ := config.ParseDurationField("respawn.min_sleep", cfg.Respawn.MinSleep)
	collisionWindow, _ := config.ParseDurationField("respawn.collision_window", cfg.Respawn.CollisionWindow)
	a.worker = respawn.NewWorker(a.state, a.sched, respawn.WorkerConfig{
		MinSleep:        minSleep,
		CollisionWindow: collisionWindow,
	}, a.log.With(logx.String("component", "worker")))
	a.sup.Go("trigger-loop", a.worker.Run)

	// Fire audit: bus -> storage.
	if a.store != nil {
		a.sup.Go("fire-audit", a.auditFires)
	}

	// Base-time sync.
	interval, _ := config.ParseDurationField("sync.interval", cfg.Sync.Interval)
	timeout, _ := config.ParseDurationField("sync.timeout", cfg.Sync.Timeout)
	a.syncer = syncer.New(syncer.Config{
		Enabled:  cfg.Sync.Enabled,
		URL:      cfg.Sync.URL,
		Interval: interval,
		Timeout:  timeout,
	}, a.state, a.bus, a.log.With(logx.String("component", "sync")))
	if err := a.syncer.Start(runCtx); err != nil {
		return err
	}

	// HTTP API.
	readTO, _ := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	writeTO, _ := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	idleTO, _ := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute)
	a.api = httpapi.New(httpapi.Config{
		Enabled:      cfg.HTTP.Enabled,
		Addr:         cfg.HTTP.Addr,
		Token:        cfg.HTTP.Token,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
		IdleTimeout:  idleTO,
	}, a.state, a.sched, a.syncer, a.store, a.bus, a.log.With(logx.String("component", "http")))
	if err := a.api.Start(runCtx); err != nil {
		return err
	}

	// Config hot-reload (logging only; transports need a restart).
	a.sup.Go("config-watch", a.cfgMgr.Watch)
	a.sup.Go("config-reload", a.applyReloads)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("respawnbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.api != nil {
		a.api.Stop(ctx)
	}
	if a.syncer != nil {
		a.syncer.Stop()
	}
	if a.sup != nil {
		a.sup.Stop(10 * time.Second)
	}
	if a.discord != nil {
		_ = a.discord.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("respawnbot stopped")
	_ = a.logSvc.Close()
	return nil
}

func (a *App) auditFires(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeTimerFired {
				continue
			}
			fe, ok := ev.Data.(respawn.FireEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.store.AppendFire(wctx, fe); err != nil {
				a.log.Warn("fire audit write failed", logx.String("fire", fe.ID), logx.Err(err))
			}
			cancel()
		}
	}
}

func (a *App) applyReloads(ctx context.Context) error {
	ch := a.cfgMgr.Subscribe(4)
	defer a.cfgMgr.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			if cfg == nil {
				continue
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("config reloaded (logging applied; transport changes need a restart)")
		}
	}
}

// validate checks the parts of the config that would otherwise fail deep
// inside a component at an awkward time.
func validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	fields := []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"sync.interval", cfg.Sync.Interval},
		{"sync.timeout", cfg.Sync.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"respawn.min_sleep", cfg.Respawn.MinSleep},
		{"respawn.collision_window", cfg.Respawn.CollisionWindow},
	}
	for _, f := range fields {
		if _, err := config.ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if cfg.Respawn.MaxChannels < 0 {
		return fmt.Errorf("respawn.max_channels: must be >= 0")
	}
	if cfg.Discord.Enabled && cfg.Discord.Token == "" {
		return fmt.Errorf("discord.token is required when discord is enabled")
	}
	return nil
}
