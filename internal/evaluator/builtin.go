package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"pushalert/internal/rules"
	"pushalert/internal/storage"
)

const (
	statusPendingPayment = "pending_payment"
	statusActive         = "active"
	statusPaid           = "paid"
)

// Thresholds tune the data-driven rules. Zero fields take the defaults.
type Thresholds struct {
	ExpiringDays    int // enrollments ending within this many days
	BalanceAgeDays  int // draft deposits older than this many days
	LowSessionsMax  int // remaining lessons at or below this
	InstallmentDays int // unpaid installments due within this many days
}

func DefaultThresholds() Thresholds {
	return Thresholds{ExpiringDays: 7, BalanceAgeDays: 30, LowSessionsMax: 2, InstallmentDays: 45}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ExpiringDays <= 0 {
		t.ExpiringDays = d.ExpiringDays
	}
	if t.BalanceAgeDays <= 0 {
		t.BalanceAgeDays = d.BalanceAgeDays
	}
	if t.LowSessionsMax <= 0 {
		t.LowSessionsMax = d.LowSessionsMax
	}
	if t.InstallmentDays <= 0 {
		t.InstallmentDays = d.InstallmentDays
	}
	return t
}

// Builtins holds the handlers for the system rule kinds. Thresholds can be
// swapped while ticks run.
type Builtins struct {
	store storage.BusinessStore
	th    atomic.Pointer[Thresholds]
}

func NewBuiltins(store storage.BusinessStore, th Thresholds) *Builtins {
	b := &Builtins{store: store}
	b.Apply(th)
	return b
}

func (b *Builtins) Apply(th Thresholds) {
	th = th.withDefaults()
	b.th.Store(&th)
}

func (b *Builtins) Thresholds() Thresholds { return *b.th.Load() }

// Register installs every built-in handler into reg.
func (b *Builtins) Register(reg *Registry) {
	reg.Register(rules.KindCustom, HandlerFunc(b.custom))
	reg.Register(rules.KindPaymentPending, HandlerFunc(b.paymentPending))
	reg.Register(rules.KindExpiringSoon, HandlerFunc(b.expiringSoon))
	reg.Register(rules.KindBalanceOutstanding, HandlerFunc(b.balanceOutstanding))
	reg.Register(rules.KindLowSessions, HandlerFunc(b.lowSessions))
	reg.Register(rules.KindInstallmentDue, HandlerFunc(b.installmentDue))
}

// custom reminders always fire with the operator's text.
func (b *Builtins) custom(_ context.Context, in Input) (Result, error) {
	return Result{ShouldSend: true, Message: in.Rule.Description}, nil
}

func (b *Builtins) paymentPending(ctx context.Context, _ Input) (Result, error) {
	n, err := b.store.CountEnrollmentsByStatus(ctx, statusPendingPayment)
	if err != nil {
		return Result{}, err
	}
	return counted(n, fmt.Sprintf("%d %s pending payment.", n, plural(n, "enrollment is", "enrollments are"))), nil
}

func (b *Builtins) expiringSoon(ctx context.Context, in Input) (Result, error) {
	days := b.Thresholds().ExpiringDays
	n, err := b.store.CountEnrollmentsEndingBetween(ctx, statusActive, in.Now.LocalDate, in.Now.AddDays(days))
	if err != nil {
		return Result{}, err
	}
	return counted(n, fmt.Sprintf("%d %s within %d days.", n, plural(n, "enrollment expires", "enrollments expire"), days)), nil
}

func (b *Builtins) balanceOutstanding(ctx context.Context, in Input) (Result, error) {
	days := b.Thresholds().BalanceAgeDays
	n, err := b.store.CountStaleDepositInvoices(ctx, in.Now.AddDays(-days))
	if err != nil {
		return Result{}, err
	}
	return counted(n, fmt.Sprintf("%d deposit %s in draft for over %d days.", n, plural(n, "invoice has been", "invoices have been"), days)), nil
}

func (b *Builtins) lowSessions(ctx context.Context, _ Input) (Result, error) {
	limit := b.Thresholds().LowSessionsMax
	n, err := b.store.CountEnrollmentsWithLessonsAtMost(ctx, statusActive, limit)
	if err != nil {
		return Result{}, err
	}
	return counted(n, fmt.Sprintf("%d %s %d or fewer lessons left.", n, plural(n, "student has", "students have"), limit)), nil
}

// installmentDue counts unpaid installments of paid quotes due between
// today and today+InstallmentDays, both inclusive.
func (b *Builtins) installmentDue(ctx context.Context, in Input) (Result, error) {
	days := b.Thresholds().InstallmentDays
	quotes, err := b.store.ListQuotesByStatus(ctx, statusPaid)
	if err != nil {
		return Result{}, err
	}
	from, to := in.Now.LocalDate, in.Now.AddDays(days)
	n := 0
	for _, q := range quotes {
		for _, inst := range q.Installments {
			if inst.IsPaid {
				continue
			}
			due := datePrefix(inst.DueDate)
			if due != "" && due >= from && due <= to {
				n++
			}
		}
	}
	return counted(n, fmt.Sprintf("%d %s due within %d days.", n, plural(n, "installment is", "installments are"), days)), nil
}

func counted(n int, msg string) Result {
	if n <= 0 {
		return Result{}
	}
	return Result{ShouldSend: true, Count: n, Message: msg}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func datePrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return ""
	}
	return s[:10]
}
