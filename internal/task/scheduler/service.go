package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "pushalert/pkg/logx"
)

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		job:     job,
		log:     log,
		parser:  newParser(),
		baseCtx: context.Background(),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins triggering. It fails on an invalid spec or zone; with
// Enabled=false it does nothing. Runs use ctx as their parent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; waiting for external triggers")
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = DefaultSpec
	}
	parsed, err := ParseSchedule(spec)
	if err != nil {
		return err
	}
	sched, err := parsed.Schedule()
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(strings.TrimSpace(s.cfg.Timezone))
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}

	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.trigger))
	s.c.Start()
	s.log.Info("scheduler started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts triggering and waits for an in-flight run until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a run in flight")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply takes a new config. A changed spec, zone or enabled flag restarts
// the cron trigger; an invalid new schedule keeps the old one running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	restart := old.Enabled != cfg.Enabled ||
		strings.TrimSpace(old.Spec) != strings.TrimSpace(cfg.Spec) ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)
	if !restart {
		return
	}

	prev := s.c
	s.c = nil
	if cfg.Enabled {
		if err := s.startLocked(); err != nil {
			s.log.Warn("scheduler restart failed; keeping previous schedule", logx.Err(err))
			s.cfg = old
			s.c = prev
			return
		}
	}
	if prev != nil {
		// In-flight runs finish on their own; the running flag still guards
		// them against the new trigger.
		prev.Stop()
	}
	if !cfg.Enabled {
		s.log.Info("scheduler disabled")
	}
}

// RunNow runs job (or the scheduled job when nil) immediately under the
// overlap guard, returning ErrBusy if a run is in progress.
func (s *Service) RunNow(ctx context.Context, job Job) error {
	if job == nil {
		job = s.job
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.running.Store(false)
	return s.run(ctx, job)
}

func (s *Service) trigger() {
	if !s.running.CompareAndSwap(false, true) {
		s.statsMu.Lock()
		s.stats.skipped++
		s.statsMu.Unlock()
		s.log.Warn("previous tick still running; trigger skipped")
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if err := s.run(ctx, s.job); err != nil {
		s.log.Debug("scheduled run returned error", logx.Err(err))
	}
}

func (s *Service) run(ctx context.Context, job Job) (err error) {
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tick panicked: %v", p)
			s.log.Error("tick panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		s.record(start, err)
	}()
	return job(ctx)
}

func (s *Service) record(start time.Time, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.runs++
	s.stats.lastStart = start
	s.stats.lastDur = time.Since(start)
	s.stats.lastErr = ""
	if err != nil {
		s.stats.failures++
		s.stats.lastErr = err.Error()
	}
}
