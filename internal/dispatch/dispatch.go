// Package dispatch fans notification intents out to every recipient token
// and submits the result to a push channel as one logical batch.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pushalert/internal/compose"
	"pushalert/internal/push"
	logx "pushalert/pkg/logx"
)

// Renderer builds the message for one intent and one token.
type Renderer interface {
	Message(in compose.Intent, token string) push.Message
}

// Config tunes the fan-out. Zero values take defaults: BatchSize is capped
// by the channel limit, RatePerSec 0 means unpaced, Timeout 0 means none.
type Config struct {
	BatchSize  int
	RatePerSec float64
	Timeout    time.Duration
}

// Counts is a success/failure pair.
type Counts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Result aggregates one Dispatch call. Units is intents × tokens.
type Result struct {
	Units         int               `json:"units"`
	Success       int               `json:"success"`
	Failure       int               `json:"failure"`
	Calls         int               `json:"calls"`
	CallErrors    int               `json:"call_errors"`
	InvalidTokens []string          `json:"invalid_tokens,omitempty"`
	PerRule       map[string]Counts `json:"per_rule,omitempty"`
}

type Dispatcher struct {
	channel push.Channel
	render  Renderer
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(channel push.Channel, render Renderer, cfg Config, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{channel: channel, render: render, log: log}
	d.Apply(cfg)
	return d
}

// Apply swaps pacing and batch settings for subsequent calls.
func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	} else {
		d.limiter = nil
	}
}

// Dispatch sends every intent to every token. With no intents or no tokens
// nothing is sent and the zero Result is returned.
//
// Failures never abort the fan-out: a failed message is counted, a failed
// call is logged and all its messages are counted as failed. Nothing is
// retried.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []compose.Intent, tokens []string) Result {
	if len(intents) == 0 || len(tokens) == 0 {
		return Result{}
	}

	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	d.mu.Unlock()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	msgs := make([]push.Message, 0, len(intents)*len(tokens))
	ruleOf := make([]string, 0, cap(msgs))
	for _, in := range intents {
		for _, tok := range tokens {
			msgs = append(msgs, d.render.Message(in, tok))
			ruleOf = append(ruleOf, in.RuleID)
		}
	}

	res := Result{Units: len(msgs), PerRule: make(map[string]Counts, len(intents))}
	size := batchSize(cfg.BatchSize, d.channel.MaxBatch())
	invalid := map[string]struct{}{}

	for off := 0; off < len(msgs); off += size {
		end := min(off+size, len(msgs))
		chunk := msgs[off:end]

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				d.log.Warn("push fan-out interrupted", logx.Int("unsent", len(msgs)-off), logx.Err(err))
				for i := off; i < len(msgs); i++ {
					res.fail(ruleOf[i])
				}
				break
			}
		}

		res.Calls++
		br, err := d.channel.SendBatch(ctx, chunk)
		if err != nil {
			res.CallErrors++
			d.log.Warn("push batch failed",
				logx.String("channel", d.channel.Name()),
				logx.Int("size", len(chunk)),
				logx.Err(err),
			)
			for i := off; i < end; i++ {
				res.fail(ruleOf[i])
			}
			continue
		}
		for i, r := range br.Responses {
			if off+i >= end {
				break
			}
			if r.Success {
				res.succeed(ruleOf[off+i])
				continue
			}
			res.fail(ruleOf[off+i])
			if r.Unregistered {
				invalid[r.Token] = struct{}{}
			}
			d.log.Debug("push message failed", logx.String("rule", ruleOf[off+i]), logx.Err(r.Err))
		}
		// A channel that returned fewer responses than messages lost them.
		for i := off + len(br.Responses); i < end; i++ {
			res.fail(ruleOf[i])
		}
	}

	for tok := range invalid {
		res.InvalidTokens = append(res.InvalidTokens, tok)
	}
	sort.Strings(res.InvalidTokens)

	fields := []logx.Field{
		logx.String("channel", d.channel.Name()),
		logx.Int("intents", len(intents)),
		logx.Int("tokens", len(tokens)),
		logx.Int("units", res.Units),
		logx.Int("success", res.Success),
		logx.Int("failure", res.Failure),
		logx.Int("calls", res.Calls),
		logx.Duration("dur", time.Since(start)),
	}
	if len(res.InvalidTokens) > 0 {
		fields = append(fields, logx.Int("invalid_tokens", len(res.InvalidTokens)))
	}
	if res.Failure > 0 {
		d.log.Warn("dispatch finished with failures", fields...)
	} else {
		d.log.Info("dispatch finished", fields...)
	}
	return res
}

func (r *Result) succeed(rule string) {
	r.Success++
	c := r.PerRule[rule]
	c.Success++
	r.PerRule[rule] = c
}

func (r *Result) fail(rule string) {
	r.Failure++
	c := r.PerRule[rule]
	c.Failure++
	r.PerRule[rule] = c
}

func batchSize(configured, channelMax int) int {
	if channelMax <= 0 {
		channelMax = push.FCMMaxBatch
	}
	if configured <= 0 || configured > channelMax {
		return channelMax
	}
	return configured
}
