// Package tick runs one pass of the notification pipeline: resolve local
// time, claim and evaluate due rules, compose intents, then fan them out to
// every recipient token.
package tick

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"pushalert/internal/clock"
	"pushalert/internal/compose"
	"pushalert/internal/dispatch"
	"pushalert/internal/evaluator"
	"pushalert/internal/eventbus"
	"pushalert/internal/rules"
	"pushalert/internal/storage"
	logx "pushalert/pkg/logx"
)

var (
	ErrRuleLoad  = errors.New("rule load failed")
	ErrTokenLoad = errors.New("token load failed")
)

// Lease guards a tick minute across replicas. Acquire reports whether the
// caller owns key.
type Lease interface {
	Acquire(ctx context.Context, key string) (bool, error)
}

// Observer receives per-tick measurements.
type Observer interface {
	ObserveClaim(outcome rules.Outcome)
	ObserveFired(kind rules.Kind)
	ObserveTick(res Result)
}

// Deps are the collaborators of a Runner. Audit, Lease, Observer and Bus
// are optional.
type Deps struct {
	Clock      clock.Provider
	Rules      storage.RuleStore
	Tokens     storage.TokenStore
	Evaluator  *evaluator.Registry
	Composer   *compose.Composer
	Dispatcher *dispatch.Dispatcher

	Audit    storage.AuditStore
	Lease    Lease
	Observer Observer
	Bus      eventbus.Bus
	Log      logx.Logger
}

type Options struct {
	RuleConcurrency  int  // 0 means 1
	ReleaseOnFailure bool // undo claims whose rule produced nothing deliverable
	Audit            bool
}

// Result summarizes one tick. It is published on the event bus and served
// by the admin status endpoint.
type Result struct {
	TickID     string                `json:"tick_id"`
	At         time.Time             `json:"at"`
	LocalDate  string                `json:"local_date"`
	Minute     string                `json:"minute"`
	Skipped    string                `json:"skipped,omitempty"`
	Aborted    bool                  `json:"aborted,omitempty"`
	RulesTotal int                   `json:"rules_total"`
	Claims     map[rules.Outcome]int `json:"claims,omitempty"`
	Fired      []string              `json:"fired,omitempty"`
	Silent     []string              `json:"silent,omitempty"`
	Released   []string              `json:"released,omitempty"`
	Tokens     int                   `json:"tokens"`
	Dispatch   dispatch.Result       `json:"dispatch"`
	Errors     []string              `json:"errors,omitempty"`
	Duration   time.Duration         `json:"duration"`

	ruleErrs *multierror.Error
}

// RuleErrors returns the accumulated per-rule errors, or nil.
func (r Result) RuleErrors() error { return r.ruleErrs.ErrorOrNil() }

type Runner struct {
	deps Deps
	gate *rules.Gate
	log  logx.Logger

	mu   sync.RWMutex
	opts Options
}

func New(deps Deps, opts Options) *Runner {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		deps: deps,
		gate: rules.NewGate(deps.Rules),
		log:  log,
		opts: opts,
	}
}

// Apply swaps options for subsequent ticks.
func (r *Runner) Apply(opts Options) {
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

func (r *Runner) options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// fired is a granted rule whose condition triggered.
type fired struct {
	rule   rules.Rule
	intent compose.Intent
}

// ruleOutcome is what one rule contributed to a tick.
type ruleOutcome struct {
	hit      *fired
	claim    rules.Outcome
	silent   bool // triggered with push disabled
	released bool
	err      error
}

// Run executes one tick. The returned error is non-nil only when the tick
// aborted (rules or tokens could not be loaded); per-rule failures are
// collected in Result.RuleErrors and never stop other rules.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	now := r.deps.Clock.Now()
	opts := r.options()

	res := Result{
		TickID:    uuid.NewString(),
		At:        now.Instant,
		LocalDate: now.LocalDate,
		Minute:    now.MinuteOfDay,
		Claims:    map[rules.Outcome]int{},
	}
	log := r.log.With(logx.String("tick", res.TickID))

	if r.deps.Lease != nil {
		key := now.LocalDate + "T" + now.MinuteOfDay
		ok, err := r.deps.Lease.Acquire(ctx, key)
		switch {
		case err != nil:
			// The claim update still prevents double sends, so run anyway.
			log.Warn("tick lease unavailable; running unguarded", logx.Err(err))
		case !ok:
			log.Debug("tick minute owned by another replica", logx.String("key", key))
			res.Skipped = "lease"
			return r.finish(ctx, log, res, start, opts, nil), nil
		}
	}

	enabled, err := r.deps.Rules.ListEnabledRules(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRuleLoad, err)
		log.Error("tick aborted", logx.Err(err))
		res.Aborted = true
		return r.finish(ctx, log, res, start, opts, err), err
	}
	res.RulesTotal = len(enabled)

	hits := r.evaluateAll(ctx, log, enabled, now, opts, &res)
	if len(hits) == 0 {
		return r.finish(ctx, log, res, start, opts, nil), nil
	}

	tokens, err := r.deps.Tokens.ListTokens(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTokenLoad, err)
		log.Error("tick aborted", logx.Err(err), logx.Int("fired", len(hits)))
		res.Aborted = true
		if opts.ReleaseOnFailure {
			r.releaseAll(ctx, log, hits, now, &res)
		}
		return r.finish(ctx, log, res, start, opts, err), err
	}
	res.Tokens = len(tokens)
	if len(tokens) == 0 {
		log.Info("no recipient tokens; nothing sent", logx.Int("fired", len(hits)))
		return r.finish(ctx, log, res, start, opts, nil), nil
	}

	intents := make([]compose.Intent, len(hits))
	for i, h := range hits {
		intents[i] = h.intent
	}
	res.Dispatch = r.deps.Dispatcher.Dispatch(ctx, intents, tokens)
	for _, tok := range res.Dispatch.InvalidTokens {
		log.Warn("recipient token rejected as unregistered", logx.String("token_tail", tail(tok)))
	}

	if opts.ReleaseOnFailure {
		var undelivered []fired
		for _, h := range hits {
			if res.Dispatch.PerRule[h.rule.ID].Success == 0 {
				undelivered = append(undelivered, h)
			}
		}
		r.releaseAll(ctx, log, undelivered, now, &res)
	}

	return r.finish(ctx, log, res, start, opts, nil), nil
}

// evaluateAll claims and evaluates every rule, at most opts.RuleConcurrency
// at a time. Each rule's claim always precedes its evaluation. Hits are
// returned in rule load order.
func (r *Runner) evaluateAll(ctx context.Context, log logx.Logger, enabled []rules.Rule, now clock.Moment, opts Options, res *Result) []fired {
	limit := opts.RuleConcurrency
	if limit <= 0 {
		limit = 1
	}

	outs := make([]ruleOutcome, len(enabled))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, rule := range enabled {
		g.Go(func() error {
			outs[i] = r.evaluateOne(ctx, log, rule, now, opts)
			return nil
		})
	}
	_ = g.Wait()

	var hits []fired
	for i, o := range outs {
		id := enabled[i].ID
		res.Claims[o.claim]++
		if o.err != nil {
			res.ruleErrs = multierror.Append(res.ruleErrs, o.err)
		}
		if o.released {
			res.Released = append(res.Released, id)
		}
		if o.silent {
			res.Silent = append(res.Silent, id)
		}
		if o.hit != nil {
			hits = append(hits, *o.hit)
			res.Fired = append(res.Fired, id)
		}
	}
	return hits
}

func (r *Runner) evaluateOne(ctx context.Context, log logx.Logger, rule rules.Rule, now clock.Moment, opts Options) ruleOutcome {
	rlog := log.With(logx.String("rule", rule.ID))

	claim, err := r.gate.Claim(ctx, rule, now)
	r.observeClaim(claim)
	if err != nil {
		rlog.Warn("rule skipped", logx.String("outcome", string(claim)), logx.Err(err))
		return ruleOutcome{claim: claim, err: err}
	}
	if claim != rules.OutcomeGranted {
		rlog.Trace("rule not due", logx.String("outcome", string(claim)))
		return ruleOutcome{claim: claim}
	}

	out, err := r.deps.Evaluator.Evaluate(ctx, evaluator.Input{Rule: rule, Now: now})
	if err != nil {
		err = fmt.Errorf("evaluate rule %q: %w", rule.ID, err)
		rlog.Warn("rule evaluation failed", logx.Err(err))
		o := ruleOutcome{claim: claim, err: err}
		if opts.ReleaseOnFailure {
			if rerr := r.gate.Release(ctx, rule, now); rerr != nil {
				rlog.Warn("claim release failed", logx.Err(rerr))
			} else {
				o.released = true
			}
		}
		return o
	}
	if !out.ShouldSend {
		rlog.Debug("rule condition not met", logx.Int("count", out.Count))
		return ruleOutcome{claim: claim}
	}
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveFired(rule.Kind())
	}
	if !rule.PushEnabled {
		rlog.Info("rule fired with push disabled", logx.String("message", out.Message))
		return ruleOutcome{claim: claim, silent: true}
	}

	rlog.Info("rule fired", logx.Int("count", out.Count))
	return ruleOutcome{claim: claim, hit: &fired{rule: rule, intent: r.deps.Composer.Intent(rule, out)}}
}

func (r *Runner) releaseAll(ctx context.Context, log logx.Logger, hits []fired, now clock.Moment, res *Result) {
	for _, h := range hits {
		if err := r.gate.Release(ctx, h.rule, now); err != nil {
			log.Warn("claim release failed", logx.String("rule", h.rule.ID), logx.Err(err))
			continue
		}
		res.Released = append(res.Released, h.rule.ID)
		log.Info("claim released", logx.String("rule", h.rule.ID))
	}
}

func (r *Runner) observeClaim(o rules.Outcome) {
	if r.deps.Observer != nil {
		r.deps.Observer.ObserveClaim(o)
	}
}

// finish stamps the result, logs the summary and fans it out to audit,
// metrics and the event bus.
func (r *Runner) finish(ctx context.Context, log logx.Logger, res Result, start time.Time, opts Options, fatal error) Result {
	res.Duration = time.Since(start)
	var errText []string
	if fatal != nil {
		errText = append(errText, fatal.Error())
	}
	if res.ruleErrs != nil {
		for _, e := range res.ruleErrs.Errors {
			errText = append(errText, e.Error())
		}
	}
	res.Errors = errText

	fields := []logx.Field{
		logx.String("date", res.LocalDate),
		logx.String("minute", res.Minute),
		logx.Int("rules", res.RulesTotal),
		logx.Int("fired", len(res.Fired)),
		logx.Int("units", res.Dispatch.Units),
		logx.Int("success", res.Dispatch.Success),
		logx.Int("failure", res.Dispatch.Failure),
		logx.Duration("dur", res.Duration),
	}
	switch {
	case res.Skipped != "", fatal != nil:
		// skipped ticks are silent; aborts were logged where they happened
	case len(errText) > 0 || res.Dispatch.Failure > 0:
		log.Warn("tick finished with errors", append(fields, logx.Int("errors", len(errText)))...)
	case len(res.Fired) > 0:
		log.Info("tick finished", fields...)
	default:
		log.Debug("tick finished", fields...)
	}

	if opts.Audit && r.deps.Audit != nil && res.Skipped == "" {
		entry := storage.AuditEntry{
			TickID:     res.TickID,
			At:         res.At,
			LocalDate:  res.LocalDate,
			Minute:     res.Minute,
			RulesTotal: res.RulesTotal,
			RulesFired: len(res.Fired),
			Units:      res.Dispatch.Units,
			Success:    res.Dispatch.Success,
			Failure:    res.Dispatch.Failure,
			Error:      strings.Join(errText, "; "),
		}
		if err := r.deps.Audit.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
			log.Warn("tick audit write failed", logx.Err(err))
		}
	}

	if r.deps.Observer != nil {
		r.deps.Observer.ObserveTick(res)
	}
	if r.deps.Bus != nil {
		typ := eventbus.TickFinished
		if res.Aborted {
			typ = eventbus.TickAborted
		}
		r.deps.Bus.Publish(eventbus.Event{Type: typ, Data: res})
	}
	return res
}

func tail(tok string) string {
	if len(tok) <= 8 {
		return "****"
	}
	return tok[len(tok)-8:]
}
