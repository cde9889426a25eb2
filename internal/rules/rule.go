// Package rules holds the trigger rule model, the firing-window check and
// the once-per-day claim gate.
package rules

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"pushalert/internal/clock"
)

// Kind selects the condition handler that evaluates a rule.
type Kind string

const (
	KindCustom             Kind = "custom"
	KindPaymentPending     Kind = "payment_pending"
	KindExpiringSoon       Kind = "expiring_soon"
	KindBalanceOutstanding Kind = "balance_outstanding"
	KindLowSessions        Kind = "low_sessions"
	KindInstallmentDue     Kind = "installment_due"
)

// WindowMinutes is how late a tick may run after a rule's time and still
// fire it.
const WindowMinutes = 5

// Rule is a persisted trigger. LastSentDate is only written through Gate.
type Rule struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Description  string  `json:"description"`
	Enabled      bool    `json:"enabled"`
	Days         []int   `json:"days"`
	Time         string  `json:"time"`
	LastSentDate *string `json:"lastSentDate,omitempty"`
	IsCustom     bool    `json:"isCustom"`
	PushEnabled  bool    `json:"pushEnabled"`
}

// Kind is "custom" for user-defined reminders; system rules are keyed by ID.
func (r Rule) Kind() Kind {
	if r.IsCustom {
		return KindCustom
	}
	return Kind(r.ID)
}

// SentOn reports whether the rule already fired on the given local date.
func (r Rule) SentOn(date string) bool {
	return r.LastSentDate != nil && *r.LastSentDate == date
}

func (r Rule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required),
		validation.Field(&r.Label, validation.Required),
		validation.Field(&r.Description, validation.When(r.IsCustom, validation.Required)),
		validation.Field(&r.Time, validation.Required, validation.By(validClock)),
		validation.Field(&r.Days, validation.Each(validation.Min(0), validation.Max(6))),
	)
}

func validClock(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if _, err := clock.ClockMinutes(s); err != nil {
		return errors.New("must be HH:MM")
	}
	return nil
}

func (r Rule) firesOn(dow int) bool {
	for _, d := range r.Days {
		if d == dow {
			return true
		}
	}
	return false
}
