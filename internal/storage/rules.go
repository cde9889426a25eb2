package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"pushalert/internal/rules"
	logx "pushalert/pkg/logx"
)

const ruleColumns = `id, label, description, enabled, days, fire_time, last_sent_date, is_custom, push_enabled`

func (s *SQLStore) ListEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled = 1 ORDER BY id`)
}

// ListRules returns all rules, enabled or not.
func (s *SQLStore) ListRules(ctx context.Context) ([]rules.Rule, error) {
	return s.listRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
}

func (s *SQLStore) listRules(ctx context.Context, q string) ([]rules.Rule, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r                              rules.Rule
			enabled, isCustom, pushEnabled int
			days                           string
			lastSent                       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Label, &r.Description, &enabled, &days, &r.Time, &lastSent, &isCustom, &pushEnabled); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Enabled = enabled != 0
		r.IsCustom = isCustom != 0
		r.PushEnabled = pushEnabled != 0
		if lastSent.Valid && lastSent.String != "" {
			v := lastSent.String
			r.LastSentDate = &v
		}
		if err := json.Unmarshal([]byte(days), &r.Days); err != nil {
			// Keep the rule; with no days it never fires.
			s.log.Warn("rule has malformed days", logx.String("rule", r.ID), logx.Err(err))
			r.Days = nil
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return out, nil
}

// ClaimRule sets last_sent_date = date with a conditional update, so only
// one of several concurrent claimers sees a changed row.
func (s *SQLStore) ClaimRule(ctx context.Context, id, date string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE rules SET last_sent_date = ? WHERE id = ? AND (last_sent_date IS NULL OR last_sent_date <> ?)`,
		date, id, date,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLStore) ReleaseRule(ctx context.Context, id, date string, prev *string) error {
	var p any
	if prev != nil {
		p = *prev
	}
	_, err := s.exec(ctx,
		`UPDATE rules SET last_sent_date = ? WHERE id = ? AND last_sent_date = ?`,
		p, id, date,
	)
	return err
}

// UpsertRule inserts or replaces a rule definition. last_sent_date is kept
// on update; it belongs to the claim gate.
func (s *SQLStore) UpsertRule(ctx context.Context, r rules.Rule) error {
	days, err := json.Marshal(r.Days)
	if err != nil {
		return err
	}
	if r.Days == nil {
		days = []byte("[]")
	}
	var last any
	if r.LastSentDate != nil {
		last = *r.LastSentDate
	}
	_, err = s.exec(ctx,
		`INSERT INTO rules(`+ruleColumns+`) VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET label = excluded.label, description = excluded.description,
		   enabled = excluded.enabled, days = excluded.days, fire_time = excluded.fire_time,
		   is_custom = excluded.is_custom, push_enabled = excluded.push_enabled`,
		r.ID, r.Label, r.Description, boolInt(r.Enabled), string(days), r.Time, last, boolInt(r.IsCustom), boolInt(r.PushEnabled),
	)
	return err
}

// SystemRules are the built-in rule definitions, disabled until an operator
// enables them.
func SystemRules() []rules.Rule {
	weekdays := []int{1, 2, 3, 4, 5}
	return []rules.Rule{
		{ID: string(rules.KindPaymentPending), Label: "Pending payments", Description: "Enrollments waiting for payment", Days: weekdays, Time: "09:00", PushEnabled: true},
		{ID: string(rules.KindExpiringSoon), Label: "Expiring enrollments", Description: "Active enrollments ending within a week", Days: weekdays, Time: "09:00", PushEnabled: true},
		{ID: string(rules.KindBalanceOutstanding), Label: "Outstanding deposits", Description: "Deposit invoices left in draft", Days: []int{1}, Time: "09:00", PushEnabled: true},
		{ID: string(rules.KindLowSessions), Label: "Low sessions", Description: "Students running out of lessons", Days: weekdays, Time: "09:00", PushEnabled: true},
		{ID: string(rules.KindInstallmentDue), Label: "Installments due", Description: "Unpaid installments coming due", Days: []int{1}, Time: "09:00", PushEnabled: true},
	}
}

// SeedSystemRules inserts SystemRules that do not exist yet and returns how
// many were added.
func (s *SQLStore) SeedSystemRules(ctx context.Context) (int, error) {
	added := 0
	for _, r := range SystemRules() {
		days, _ := json.Marshal(r.Days)
		res, err := s.exec(ctx,
			`INSERT INTO rules(`+ruleColumns+`) VALUES(?,?,?,?,?,?,?,?,?) ON CONFLICT(id) DO NOTHING`,
			r.ID, r.Label, r.Description, 0, string(days), r.Time, nil, 0, boolInt(r.PushEnabled),
		)
		if err != nil {
			return added, fmt.Errorf("seed rule %q: %w", r.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}
