package storage

import (
	"context"
	"errors"
	"time"

	"pushalert/internal/rules"
)

var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	MaxOpenConns int           // postgres only; 0 means 4
}

// RuleStore loads trigger rules and persists their sent date.
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]rules.Rule, error)
	rules.ClaimStore
}

// TokenStore is the recipient token registry.
type TokenStore interface {
	ListTokens(ctx context.Context) ([]string, error)
}

// BusinessStore answers the read-only questions asked by rule handlers.
// Dates are local YYYY-MM-DD strings; ranges are inclusive.
type BusinessStore interface {
	CountEnrollmentsByStatus(ctx context.Context, status string) (int, error)
	CountEnrollmentsEndingBetween(ctx context.Context, status, from, to string) (int, error)
	CountEnrollmentsWithLessonsAtMost(ctx context.Context, status string, maxLessons int) (int, error)
	CountStaleDepositInvoices(ctx context.Context, issuedBefore string) (int, error)
	ListQuotesByStatus(ctx context.Context, status string) ([]Quote, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// Quote is a paid or pending quote with its installment plan.
type Quote struct {
	ID           string
	Status       string
	Installments []Installment
}

type Installment struct {
	DueDate string `json:"dueDate"`
	IsPaid  bool   `json:"isPaid"`
}

// AuditEntry is one tick_audit row.
type AuditEntry struct {
	TickID     string    `json:"tick_id"`
	At         time.Time `json:"at"`
	LocalDate  string    `json:"local_date"`
	Minute     string    `json:"minute"`
	RulesTotal int       `json:"rules_total"`
	RulesFired int       `json:"rules_fired"`
	Units      int       `json:"units"`
	Success    int       `json:"success"`
	Failure    int       `json:"failure"`
	Error      string    `json:"error,omitempty"`
}
