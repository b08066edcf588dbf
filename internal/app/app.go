// Package app wires the scheduler to its driver, UI loop, status channel,
// history store, notifier and config reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autosend/internal/clock"
	"autosend/internal/config"
	"autosend/internal/driver"
	"autosend/internal/notifier"
	"autosend/internal/runtime/supervisor"
	"autosend/internal/scheduler"
	"autosend/internal/status"
	"autosend/internal/storage"
	"autosend/internal/uiloop"
	logx "autosend/pkg/logx"

	"golang.org/x/sync/errgroup"
)

// Options configure New. Driver and Clock are for tests.
type Options struct {
	ConfigPath string // empty means built-in defaults, no hot reload
	DryRun     bool
	LogLevel   string // overrides logging.level when set

	Driver driver.Driver
	Clock  clock.Clock
	Sender notifier.Sender
}

type App struct {
	opt  Options
	cfgm *config.ConfigManager
	cfg  *config.Config
	rt   config.Runtime

	log  logx.Logger
	logs *logx.Service

	status *status.Channel
	loop   *uiloop.Loop
	drv    driver.Driver
	store  storage.Store
	notif  *notifier.Service
	sched  *scheduler.Scheduler

	sup *supervisor.Supervisor
}

func New(opt Options) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  *config.Config
		err  error
	)
	if strings.TrimSpace(opt.ConfigPath) != "" {
		cfgm = config.NewConfigManager(opt.ConfigPath)
		if cfg, err = cfgm.Load(); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opt.ConfigPath, err)
		}
	} else {
		cfg = config.Default()
	}

	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	rt = applyOverrides(rt, opt)

	logs, log := logx.New(rt.Logging)
	alog := log.With(logx.String("comp", "app"))

	drv := opt.Driver
	if drv == nil {
		drv, err = driver.New(rt.Driver, log.With(logx.String("comp", "driver")))
		if err != nil {
			logs.Close()
			return nil, err
		}
	}

	store, err := storage.Open(rt.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, err
	}
	if store != nil {
		alog.Info("history enabled", logx.String("driver", rt.Storage.Driver))
	}

	return &App{
		opt:    opt,
		cfgm:   cfgm,
		cfg:    cfg,
		rt:     rt,
		log:    alog,
		logs:   logs,
		status: status.NewChannel(nil),
		loop:   uiloop.New(log, 64),
		drv:    drv,
		store:  store,
	}, nil
}

func applyOverrides(rt config.Runtime, opt Options) config.Runtime {
	if opt.DryRun {
		rt.Driver.Kind = "dryrun"
	}
	if lvl := strings.TrimSpace(opt.LogLevel); lvl != "" {
		rt.Logging.Level = lvl
	}
	return rt
}

// Status is the channel observers attach to.
func (a *App) Status() *status.Channel { return a.status }

// Scheduler is nil until Start succeeds.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// Location is the zone user-entered times are read in.
func (a *App) Location() *time.Location { return a.rt.Location }

// Config returns the config currently in effect.
func (a *App) Config() *config.Config {
	if a.cfgm != nil {
		if c := a.cfgm.Get(); c != nil {
			return c
		}
	}
	return a.cfg
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// History returns up to n recent send records, newest first.
func (a *App) History(ctx context.Context, n int) ([]storage.SendRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, n)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.sup.Go("uiloop", a.loop.Run)

	var hist []scheduler.History
	if a.store != nil {
		hist = append(hist, a.store)
	}
	a.notif = a.newNotifier()
	if a.notif != nil {
		a.notif.Start(sctx)
		hist = append(hist, a.notif)
	}
	a.logs.SetForwarder(a.forward)

	sched, err := scheduler.New(sctx, scheduler.Options{
		Driver:   a.drv,
		Clock:    a.opt.Clock,
		Loop:     a.loop,
		Status:   a.status,
		Log:      a.logs.Logger(),
		Settings: a.rt.Settings,
		Location: a.rt.Location,
		History:  scheduler.Histories(hist...),
	})
	if err != nil {
		a.sup.Cancel()
		return err
	}
	a.sched = sched

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
		a.sup.GoRestart("config.watch", a.cfgm.Watch,
			supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
	}

	a.log.Info("started",
		logx.String("driver", a.rt.Driver.Kind),
		logx.String("window", a.rt.Settings.WindowTitle),
		logx.Bool("notifier", a.notif != nil),
	)
	return nil
}

// newNotifier builds the notifier only for a started app, since the
// Telegram client calls the Bot API on construction.
func (a *App) newNotifier() *notifier.Service {
	if !a.rt.Notifier.Enabled {
		return nil
	}
	sender := a.opt.Sender
	if sender == nil {
		var err error
		if sender, err = notifier.NewTelegram(a.rt.Telegram); err != nil {
			a.log.Warn("telegram notifier disabled", logx.Err(err))
			return nil
		}
	}
	return notifier.New(a.rt.Notifier, sender, a.logs.Logger())
}

// forward receives WARN+ log lines, already rendered with their level,
// from the logging service.
func (a *App) forward(ctx context.Context, level logx.Level, text string) {
	a.status.EmitLog(text)
	if a.notif != nil {
		a.notif.Forward(ctx, level, text)
	}
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.Config()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(applied, next)
			applied = next
		}
	}
}

// applyConfig pushes live-reloadable sections into running components.
// next has already been validated by the config manager. a.rt keeps the
// startup values for the sections that need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)

	rt, err := next.Resolve()
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	rt = applyOverrides(rt, a.opt)

	a.logs.Apply(rt.Logging)
	if a.sched != nil {
		a.sched.ApplySettings(rt.Settings)
	}
	if a.notif != nil {
		a.notif.Apply(rt.Notifier)
	}
	if rt.Location.String() != a.rt.Location.String() {
		a.log.Warn("timezone changed; restart required for it to take effect")
	}
	if config.RestartRequired(sections) {
		a.log.Warn("driver/storage/notifier config changed; restart required for changes to take effect")
	}
}

// Stop halts any schedule, then drains the notifier and closes the store.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeStore()
		a.logs.Close()
		return nil
	}
	a.log.Info("stopping")

	var errs []error
	if a.sched != nil {
		if err := a.sched.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.notif != nil {
		g.Go(func() error { return a.notif.Stop(gctx) })
	}
	g.Go(func() error { return a.closeStore() })
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := a.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	a.log.Info("stopped")
	a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
