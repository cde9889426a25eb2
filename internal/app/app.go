// Package app wires configuration, logging and the tick pipeline into the
// long-running daemon.
package app

import (
	"context"
	"time"

	"pushalert/internal/config"
	"pushalert/internal/eventbus"
	"pushalert/internal/httpapi"
	"pushalert/internal/runtime/supervisor"
	"pushalert/internal/task/scheduler"
	"pushalert/internal/tick"
	"pushalert/internal/transport/telegram"
	logx "pushalert/pkg/logx"
	"pushalert/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	core  *Core
	sched *scheduler.Service
	http  *httpapi.Server
	sd    *systemd.Notifier
	sup   *supervisor.Supervisor
}

// New loads cfgPath and builds the daemon. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var sender logx.Sender
	if tc, ok := mapTelegram(cfg); ok {
		alerter, err := telegram.New(tc)
		if err != nil {
			return nil, err
		}
		sender = alerter
	}
	logs, root := logx.New(mapLogging(cfg), sender)
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	core, err := NewCore(ctx, cfg, root)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgm: cfgm,
		logs: logs,
		log:  root.With(logx.String("comp", "app")),
		core: core,
		sd:   systemd.NewNotifier(root.With(logx.String("comp", "systemd"))),
	}
	a.sched = scheduler.New(mapScheduler(cfg), a.scheduledTick, root.With(logx.String("comp", "scheduler")))

	if hc, ok := mapHTTP(cfg); ok {
		a.http = httpapi.New(hc, httpapi.Deps{
			Store:     core.Store,
			Audit:     core.Store,
			Tick:      a.TickNow,
			Scheduler: a.sched,
			Metrics:   core.Metrics.Handler(),
			Channel:   core.Channel.Name(),
		}, root.With(logx.String("comp", "http")))
	}
	return a, nil
}

func (a *App) Core() *Core { return a.core }

// Done is closed when the app stops, either by Stop or by a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	if err := a.sched.Start(sctx); err != nil {
		return err
	}
	if a.http != nil {
		if err := a.http.Start(sctx); err != nil {
			return err
		}
		a.sup.Go("http.status", func(c context.Context) error {
			a.http.Track(c, a.core.Bus)
			return nil
		})
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("systemd.watchdog", a.watchdogLoop)

	a.sd.Ready()
	a.log.Info("started", logx.String("config", a.cfgm.Path()), logx.Bool("scheduler", a.sched.Enabled()), logx.Bool("http", a.http != nil))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.sd.Stopping()
	a.log.Info("stopping")

	a.sched.Stop(ctx)
	if a.http != nil {
		a.http.Stop(ctx)
	}
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.core.Close(); cerr != nil {
		a.log.Warn("close failed", logx.Err(cerr))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// TickNow runs one tick immediately, sharing the scheduler's overlap guard.
func (a *App) TickNow(ctx context.Context) (tick.Result, error) {
	var res tick.Result
	err := a.sched.RunNow(ctx, func(c context.Context) error {
		var err error
		res, err = a.core.Runner.Run(c)
		return err
	})
	return res, err
}

func (a *App) scheduledTick(ctx context.Context) error {
	_, err := a.core.Runner.Run(ctx)
	a.sd.Watchdog()
	return err
}

// watchdogLoop feeds the systemd watchdog at half its interval, between
// and independent of ticks.
func (a *App) watchdogLoop(ctx context.Context) error {
	every := a.sd.WatchdogInterval() / 2
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.sd.Watchdog()
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)

	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(applied, cfg)
			applied = cfg
		}
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	changed, fields := config.SummarizeChange(old, cfg)
	if len(changed) == 0 {
		a.log.Debug("config reload without effective changes")
		return
	}
	a.sd.Reloading()
	defer a.sd.Ready()

	a.log.Info("config applied", append([]logx.Field{logx.Strings("changed", changed)}, fields...)...)
	if restart := config.RequiresRestart(changed); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogging(cfg))
	a.core.Apply(cfg)
	a.sched.Apply(mapScheduler(cfg))
	a.core.Bus.Publish(eventbus.Event{Type: eventbus.ConfigReload, Data: changed})
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.core.Bus.Subscribe(32)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}
