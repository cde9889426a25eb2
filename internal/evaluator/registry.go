// Package evaluator decides whether a claimed rule should notify and with
// what message. Handlers are registered per rule kind.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"pushalert/internal/clock"
	"pushalert/internal/rules"
)

var (
	ErrUnknownKind = errors.New("no handler for rule kind")
	ErrPanic       = errors.New("handler panicked")
)

type Input struct {
	Rule rules.Rule
	Now  clock.Moment
}

// Result is a handler's verdict. Count is the number of matching records
// for data-driven rules and zero for custom reminders.
type Result struct {
	ShouldSend bool
	Count      int
	Message    string
}

type Handler interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

type HandlerFunc func(ctx context.Context, in Input) (Result, error)

func (f HandlerFunc) Evaluate(ctx context.Context, in Input) (Result, error) { return f(ctx, in) }

type Registry struct {
	mu       sync.RWMutex
	handlers map[rules.Kind]Handler
	timeout  time.Duration
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[rules.Kind]Handler{}}
}

// SetTimeout bounds each Evaluate call; zero disables the bound.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Register installs h for kind, replacing any previous handler.
func (r *Registry) Register(kind rules.Kind, h Handler) {
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
}

// Has reports whether a handler is registered for kind.
func (r *Registry) Has(kind rules.Kind) bool {
	r.mu.RLock()
	_, ok := r.handlers[kind]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) Kinds() []rules.Kind {
	r.mu.RLock()
	out := make([]rules.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Evaluate runs the handler for in.Rule's kind. A handler panic is returned
// as an error wrapping ErrPanic; callers treat every error as "no trigger"
// for that rule only.
func (r *Registry) Evaluate(ctx context.Context, in Input) (res Result, err error) {
	kind := in.Rule.Kind()
	r.mu.RLock()
	h, ok := r.handlers[kind]
	timeout := r.timeout
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			res = Result{}
			err = fmt.Errorf("%w: %s: %v\n%s", ErrPanic, kind, p, debug.Stack())
		}
	}()
	res, err = h.Evaluate(ctx, in)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
