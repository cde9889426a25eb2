package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ListTokens returns every registered push token, blank and duplicate
// entries removed. An empty registry is not an error.
func (s *SQLStore) ListTokens(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT token FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	var out []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// AddToken registers a token; re-adding is a no-op. Token registration
// normally happens in the client-facing app; this exists for operators and
// tests.
func (s *SQLStore) AddToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("add token: empty token")
	}
	_, err := s.exec(ctx,
		`INSERT INTO tokens(token, created_at) VALUES(?, ?) ON CONFLICT(token) DO NOTHING`,
		token, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
