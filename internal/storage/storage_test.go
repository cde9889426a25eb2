package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushalert/internal/rules"
	logx "pushalert/pkg/logx"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustExec(t *testing.T, st *SQLStore, q string, args ...any) {
	t.Helper()
	_, err := st.db.Exec(q, args...)
	require.NoError(t, err)
}

func TestRuleRoundTripAndEnabledFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	last := "2024-03-01"
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "low_sessions", Label: "Low", Enabled: true, Days: []int{1, 3}, Time: "09:30", LastSentDate: &last, PushEnabled: true}))
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "c1", Label: "Call supplier", Description: "Call the supplier", Enabled: true, Days: []int{0}, Time: "18:00", IsCustom: true}))
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "payment_pending", Label: "Pending", Enabled: false, Time: "09:00"}))

	got, err := st.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "c1", got[0].ID)
	assert.True(t, got[0].IsCustom)
	assert.False(t, got[0].PushEnabled)
	assert.Nil(t, got[0].LastSentDate)

	assert.Equal(t, "low_sessions", got[1].ID)
	assert.Equal(t, []int{1, 3}, got[1].Days)
	assert.Equal(t, "09:30", got[1].Time)
	require.NotNil(t, got[1].LastSentDate)
	assert.Equal(t, last, *got[1].LastSentDate)

	all, err := st.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMalformedDaysNeverFires(t *testing.T) {
	st := openTestStore(t)
	mustExec(t, st, `INSERT INTO rules(id, label, enabled, days, fire_time) VALUES('x', 'X', 1, 'mon', '09:00')`)
	got, err := st.ListEnabledRules(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Days)
}

func TestClaimRuleIsConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "r", Label: "R", Enabled: true, Time: "09:00"}))

	ok, err := st.ClaimRule(ctx, "r", "2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimRule(ctx, "r", "2024-03-04")
	require.NoError(t, err)
	assert.False(t, ok, "second claim on the same date must lose")

	ok, err = st.ClaimRule(ctx, "r", "2024-03-05")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ClaimRule(ctx, "missing", "2024-03-05")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimRuleConcurrent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "r", Label: "R", Enabled: true, Time: "09:00"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.ClaimRule(ctx, "r", "2024-03-04")
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestReleaseRuleRestoresPrevious(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	prev := "2024-03-01"
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "r", Label: "R", Enabled: true, Time: "09:00", LastSentDate: &prev}))

	ok, err := st.ClaimRule(ctx, "r", "2024-03-04")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, st.ReleaseRule(ctx, "r", "2024-03-04", &prev))

	got, err := st.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.NotNil(t, got[0].LastSentDate)
	assert.Equal(t, prev, *got[0].LastSentDate)

	// Releasing to nil clears the column.
	_, _ = st.ClaimRule(ctx, "r", "2024-03-04")
	require.NoError(t, st.ReleaseRule(ctx, "r", "2024-03-04", nil))
	got, _ = st.ListEnabledRules(ctx)
	assert.Nil(t, got[0].LastSentDate)
}

func TestUpsertKeepsLastSentDate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "r", Label: "R", Enabled: true, Time: "09:00"}))
	_, err := st.ClaimRule(ctx, "r", "2024-03-04")
	require.NoError(t, err)
	require.NoError(t, st.UpsertRule(ctx, rules.Rule{ID: "r", Label: "Renamed", Enabled: true, Time: "10:00"}))

	got, err := st.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got[0].Label)
	require.NotNil(t, got[0].LastSentDate)
	assert.Equal(t, "2024-03-04", *got[0].LastSentDate)
}

func TestSeedSystemRules(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	n, err := st.SeedSystemRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(SystemRules()), n)

	n, err = st.SeedSystemRules(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	enabled, err := st.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled, "seeded rules start disabled")
}

func TestListTokensDropsBlankAndDuplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.AddToken(ctx, "tok-b"))
	require.NoError(t, st.AddToken(ctx, "tok-a"))
	require.NoError(t, st.AddToken(ctx, "tok-a"))
	mustExec(t, st, `INSERT INTO tokens(token) VALUES(' ')`)
	mustExec(t, st, `INSERT INTO tokens(token) VALUES(' tok-b')`)
	assert.Error(t, st.AddToken(ctx, "  "))

	got, err := st.ListTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, got)
}

func TestListTokensEmpty(t *testing.T) {
	st := openTestStore(t)
	got, err := st.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBusinessQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mustExec(t, st, `INSERT INTO enrollments(id, status, end_date, lessons_remaining) VALUES
		('e1', 'pending_payment', NULL, NULL),
		('e2', 'pending_payment', NULL, NULL),
		('e3', 'active', '2024-03-04', 1),
		('e4', 'active', '2024-03-11T23:00:00Z', 2),
		('e5', 'active', '2024-03-12', 5),
		('e6', 'active', '2024-03-03', NULL),
		('e7', 'finished', '2024-03-05', 0)`)
	mustExec(t, st, `INSERT INTO invoices(id, is_ghost, status, is_deleted, issue_date) VALUES
		('i1', 1, 'draft', 0, '2024-02-01'),
		('i2', 1, 'draft', 0, '2024-02-03'),
		('i3', 1, 'draft', 1, '2024-01-01'),
		('i4', 0, 'draft', 0, '2024-01-01'),
		('i5', 1, 'sent', 0, '2024-01-01')`)
	mustExec(t, st, `INSERT INTO quotes(id, status, installments) VALUES
		('q1', 'paid', '[{"dueDate":"2024-03-10","isPaid":false},{"dueDate":"2024-02-10","isPaid":true}]'),
		('q2', 'paid', 'not json'),
		('q3', 'draft', '[{"dueDate":"2024-03-10","isPaid":false}]')`)

	n, err := st.CountEnrollmentsByStatus(ctx, "pending_payment")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountEnrollmentsEndingBetween(ctx, "active", "2024-03-04", "2024-03-11")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountEnrollmentsWithLessonsAtMost(ctx, "active", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.CountStaleDepositInvoices(ctx, "2024-02-03")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	quotes, err := st.ListQuotesByStatus(ctx, "paid")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Len(t, quotes[0].Installments, 2)
	assert.Equal(t, Installment{DueDate: "2024-03-10", IsPaid: false}, quotes[0].Installments[0])
	assert.Empty(t, quotes[1].Installments)
}

func TestAuditAppendAndRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{TickID: "t1", LocalDate: "2024-03-04", Minute: "09:00", RulesTotal: 3, RulesFired: 1, Units: 2, Success: 2}))
	require.NoError(t, st.AppendAudit(ctx, AuditEntry{TickID: "t2", LocalDate: "2024-03-04", Minute: "09:01", Error: "token load failed"}))

	got, err := st.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].TickID)
	assert.Equal(t, "token load failed", got[0].Error)
	assert.Equal(t, 2, got[1].Success)
	assert.False(t, got[1].At.IsZero())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestRebind(t *testing.T) {
	q := `UPDATE rules SET a = ? WHERE id = ? AND b <> ?`
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, `UPDATE rules SET a = $1 WHERE id = $2 AND b <> $3`, dialectPostgres.rebind(q))
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, true, logx.Nop()), mock
}

func TestPostgresClaimUsesNumberedPlaceholders(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE rules SET last_sent_date = $1 WHERE id = $2 AND (last_sent_date IS NULL OR last_sent_date <> $3)`)).
		WithArgs("2024-03-04", "low_sessions", "2024-03-04").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE rules SET last_sent_date = $1 WHERE id = $2 AND (last_sent_date IS NULL OR last_sent_date <> $3)`)).
		WithArgs("2024-03-04", "low_sessions", "2024-03-04").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := st.ClaimRule(context.Background(), "low_sessions", "2024-03-04")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = st.ClaimRule(context.Background(), "low_sessions", "2024-03-04")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTokenLoadError(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT token FROM tokens`)).WillReturnError(sql.ErrConnDone)

	_, err := st.ListTokens(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}
