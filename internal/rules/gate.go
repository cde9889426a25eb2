package rules

import (
	"context"
	"fmt"

	"pushalert/internal/clock"
)

// Outcome is the result of checking or claiming a rule for a tick.
type Outcome string

const (
	OutcomeGranted       Outcome = "granted"
	OutcomeWrongDay      Outcome = "wrong_day"
	OutcomeOutsideWindow Outcome = "outside_window"
	OutcomeAlreadySent   Outcome = "already_sent"
	OutcomeLost          Outcome = "lost"
	OutcomeInvalid       Outcome = "invalid"
)

// Due reports whether r may fire at now, without touching storage.
//
// The rule must list now's weekday, now must be 0..WindowMinutes minutes
// past the rule time (same local day, no wrap across midnight), and the rule
// must not have fired on now's local date.
func Due(r Rule, now clock.Moment) (Outcome, error) {
	if err := r.Validate(); err != nil {
		return OutcomeInvalid, fmt.Errorf("rule %q: %w", r.ID, err)
	}
	if !r.firesOn(now.DayOfWeek) {
		return OutcomeWrongDay, nil
	}
	at, _ := clock.ClockMinutes(r.Time)
	diff := now.Minutes() - at
	if diff < 0 || diff > WindowMinutes {
		return OutcomeOutsideWindow, nil
	}
	if r.SentOn(now.LocalDate) {
		return OutcomeAlreadySent, nil
	}
	return OutcomeGranted, nil
}

// ClaimStore persists the per-rule sent date.
//
// ClaimRule sets last_sent_date to date unless it already equals date and
// reports whether this call changed it. ReleaseRule restores prev, but only
// while the stored value is still date.
type ClaimStore interface {
	ClaimRule(ctx context.Context, id, date string) (bool, error)
	ReleaseRule(ctx context.Context, id, date string, prev *string) error
}

// Gate enforces at most one firing per rule per local date. The claim is
// durable before Claim returns, so the evaluation that follows runs at most
// once even if the process dies mid-tick.
type Gate struct {
	store ClaimStore
}

func NewGate(store ClaimStore) *Gate { return &Gate{store: store} }

func (g *Gate) Claim(ctx context.Context, r Rule, now clock.Moment) (Outcome, error) {
	out, err := Due(r, now)
	if out != OutcomeGranted {
		return out, err
	}
	ok, err := g.store.ClaimRule(ctx, r.ID, now.LocalDate)
	if err != nil {
		return OutcomeInvalid, fmt.Errorf("claim rule %q: %w", r.ID, err)
	}
	if !ok {
		return OutcomeLost, nil
	}
	return OutcomeGranted, nil
}

// Release undoes a granted claim, restoring the date loaded with r.
func (g *Gate) Release(ctx context.Context, r Rule, now clock.Moment) error {
	if err := g.store.ReleaseRule(ctx, r.ID, now.LocalDate, r.LastSentDate); err != nil {
		return fmt.Errorf("release rule %q: %w", r.ID, err)
	}
	return nil
}
