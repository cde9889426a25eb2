package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"pushalert/internal/clock"
	"pushalert/internal/compose"
	"pushalert/internal/config"
	"pushalert/internal/dispatch"
	"pushalert/internal/evaluator"
	"pushalert/internal/eventbus"
	"pushalert/internal/lease"
	"pushalert/internal/metrics"
	"pushalert/internal/push"
	"pushalert/internal/storage"
	"pushalert/internal/tick"
	logx "pushalert/pkg/logx"
)

// Core is the tick pipeline and everything it needs. The daemon and the
// one-shot CLI commands build the same Core, so a manual tick behaves
// exactly like a scheduled one.
type Core struct {
	Store      *storage.SQLStore
	Registry   *evaluator.Registry
	Builtins   *evaluator.Builtins
	Composer   *compose.Composer
	Dispatcher *dispatch.Dispatcher
	Runner     *tick.Runner
	Metrics    *metrics.Metrics
	Bus        eventbus.Bus
	Channel    push.Channel

	clock clock.Provider
	zone  *zoneClock // nil when a fixed clock was injected
	lease *lease.Redis
	log   logx.Logger
}

type CoreOption func(*coreOptions)

type coreOptions struct {
	clock   clock.Provider
	channel push.Channel
}

// WithClock replaces the zone clock, e.g. to replay a past minute.
func WithClock(p clock.Provider) CoreOption {
	return func(o *coreOptions) { o.clock = p }
}

// WithChannel replaces the configured push channel.
func WithChannel(ch push.Channel) CoreOption {
	return func(o *coreOptions) { o.channel = ch }
}

// NewCore opens and migrates storage, then builds the pipeline from cfg.
func NewCore(ctx context.Context, cfg *config.Config, log logx.Logger, opts ...CoreOption) (*Core, error) {
	var o coreOptions
	for _, fn := range opts {
		fn(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Core{log: log.With(logx.String("comp", "core"))}
	if o.clock != nil {
		c.clock = o.clock
	} else {
		z, err := newZoneClock(cfg.Scheduler.Timezone)
		if err != nil {
			return nil, err
		}
		c.zone = z
		c.clock = z
	}

	st, err := storage.Open(ctx, mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	c.Store = st
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	ch := o.channel
	if ch == nil {
		ch, err = newChannel(ctx, cfg, log.With(logx.String("comp", "push")))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	c.Channel = ch

	if lc, ok := mapLease(cfg); ok {
		l, err := lease.NewRedis(ctx, lc, log.With(logx.String("comp", "lease")))
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		c.lease = l
	}

	c.Registry = evaluator.NewRegistry()
	c.Registry.SetTimeout(evaluatorTimeout(cfg))
	c.Builtins = evaluator.NewBuiltins(st, mapThresholds(cfg))
	c.Builtins.Register(c.Registry)

	c.Composer = compose.New(mapCompose(cfg))
	c.Dispatcher = dispatch.New(ch, c.Composer, mapDispatch(cfg), log.With(logx.String("comp", "dispatch")))
	c.Metrics = metrics.New()
	c.Bus = eventbus.New()

	deps := tick.Deps{
		Clock:      c.clock,
		Rules:      st,
		Tokens:     st,
		Audit:      st,
		Evaluator:  c.Registry,
		Composer:   c.Composer,
		Dispatcher: c.Dispatcher,
		Observer:   c.Metrics,
		Bus:        c.Bus,
		Log:        log.With(logx.String("comp", "tick")),
	}
	if c.lease != nil {
		deps.Lease = c.lease
	}
	c.Runner = tick.New(deps, mapTick(cfg))

	c.log.Info("pipeline ready",
		logx.String("storage", mapStorage(cfg).Driver),
		logx.String("channel", ch.Name()),
		logx.String("tz", strings.TrimSpace(cfg.Scheduler.Timezone)),
		logx.Bool("lease", c.lease != nil),
	)
	return c, nil
}

func (c *Core) Now() clock.Moment { return c.clock.Now() }

// Apply pushes hot-reloadable settings into the running pipeline.
func (c *Core) Apply(cfg *config.Config) {
	c.Registry.SetTimeout(evaluatorTimeout(cfg))
	c.Builtins.Apply(mapThresholds(cfg))
	c.Composer.Apply(mapCompose(cfg))
	c.Dispatcher.Apply(mapDispatch(cfg))
	c.Runner.Apply(mapTick(cfg))
	if c.zone != nil {
		if err := c.zone.set(cfg.Scheduler.Timezone); err != nil {
			c.log.Warn("timezone not applied", logx.Err(err))
		}
	}
}

func (c *Core) Close() error {
	var errs *multierror.Error
	if c.lease != nil {
		errs = multierror.Append(errs, c.lease.Close())
	}
	if c.Store != nil {
		errs = multierror.Append(errs, c.Store.Close())
	}
	return errs.ErrorOrNil()
}

func newChannel(ctx context.Context, cfg *config.Config, log logx.Logger) (push.Channel, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Push.Driver)) {
	case "log":
		return push.NewLogChannel(log), nil
	case "fcm":
		return push.NewFCM(ctx, mapFCM(cfg), log)
	default:
		return nil, fmt.Errorf("push.driver: unknown driver %q", cfg.Push.Driver)
	}
}

// zoneClock is a clock.Provider whose zone can change on config reload.
type zoneClock struct {
	r atomic.Pointer[clock.Resolver]
}

func newZoneClock(zone string) (*zoneClock, error) {
	z := &zoneClock{}
	if err := z.set(zone); err != nil {
		return nil, err
	}
	return z, nil
}

func (z *zoneClock) set(zone string) error {
	r, err := clock.NewResolver(zone)
	if err != nil {
		return err
	}
	z.r.Store(r)
	return nil
}

func (z *zoneClock) Now() clock.Moment { return z.r.Load().Now() }
