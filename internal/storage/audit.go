package storage

import (
	"context"
	"time"
)

func (s *SQLStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO tick_audit(tick_id, at, local_date, minute, rules_total, rules_fired, units, success, failure, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.TickID, e.At.UTC().Format(time.RFC3339Nano), e.LocalDate, e.Minute,
		e.RulesTotal, e.RulesFired, e.Units, e.Success, e.Failure, nullStr(e.Error),
	)
	return err
}

// RecentAudit returns the newest tick_audit rows, newest first.
func (s *SQLStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.query(ctx,
		`SELECT tick_id, at, local_date, minute, rules_total, rules_fired, units, success, failure, COALESCE(err, '')
		 FROM tick_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&e.TickID, &at, &e.LocalDate, &e.Minute, &e.RulesTotal, &e.RulesFired, &e.Units, &e.Success, &e.Failure, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
