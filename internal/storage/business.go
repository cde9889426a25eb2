package storage

import (
	"context"
	"encoding/json"
	"fmt"

	logx "pushalert/pkg/logx"
)

// Date columns may hold full timestamps; only the date prefix is compared.

func (s *SQLStore) CountEnrollmentsByStatus(ctx context.Context, status string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM enrollments WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountEnrollmentsEndingBetween(ctx context.Context, status, from, to string) (int, error) {
	n, err := s.count(ctx,
		`SELECT COUNT(*) FROM enrollments
		 WHERE status = ? AND end_date IS NOT NULL
		   AND substr(end_date, 1, 10) >= ? AND substr(end_date, 1, 10) <= ?`,
		status, from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("count expiring enrollments: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CountEnrollmentsWithLessonsAtMost(ctx context.Context, status string, maxLessons int) (int, error) {
	n, err := s.count(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE status = ? AND lessons_remaining IS NOT NULL AND lessons_remaining <= ?`,
		status, maxLessons,
	)
	if err != nil {
		return 0, fmt.Errorf("count low-session enrollments: %w", err)
	}
	return n, nil
}

// CountStaleDepositInvoices counts live draft deposit ("ghost") invoices
// issued strictly before issuedBefore.
func (s *SQLStore) CountStaleDepositInvoices(ctx context.Context, issuedBefore string) (int, error) {
	n, err := s.count(ctx,
		`SELECT COUNT(*) FROM invoices
		 WHERE is_ghost = 1 AND status = 'draft' AND is_deleted = 0
		   AND issue_date IS NOT NULL AND substr(issue_date, 1, 10) < ?`,
		issuedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("count stale deposit invoices: %w", err)
	}
	return n, nil
}

// ListQuotesByStatus returns quotes with decoded installment plans. A quote
// whose plan cannot be decoded is logged and returned without installments.
func (s *SQLStore) ListQuotesByStatus(ctx context.Context, status string) ([]Quote, error) {
	rows, err := s.query(ctx, `SELECT id, status, installments FROM quotes WHERE status = ? ORDER BY id`, status)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	var out []Quote
	for rows.Next() {
		var (
			q   Quote
			raw string
		)
		if err := rows.Scan(&q.ID, &q.Status, &raw); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &q.Installments); err != nil {
			s.log.Warn("quote has malformed installments", logx.String("quote", q.ID), logx.Err(err))
			q.Installments = nil
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	return out, nil
}
