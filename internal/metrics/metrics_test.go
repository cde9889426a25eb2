package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushalert/internal/dispatch"
	"pushalert/internal/rules"
	"pushalert/internal/tick"
)

func TestObserveTickOutcomes(t *testing.T) {
	m := New()

	m.ObserveTick(tick.Result{Duration: time.Second, Dispatch: dispatch.Result{Units: 3, Success: 2, Failure: 1, InvalidTokens: []string{"x"}}})
	m.ObserveTick(tick.Result{Aborted: true})
	m.ObserveTick(tick.Result{Skipped: "lease"})
	m.ObserveTick(tick.Result{})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("errors")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalid))
}

func TestObserveClaimAndFired(t *testing.T) {
	m := New()
	m.ObserveClaim(rules.OutcomeGranted)
	m.ObserveClaim(rules.OutcomeGranted)
	m.ObserveClaim(rules.OutcomeAlreadySent)
	m.ObserveFired(rules.KindLowSessions)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.claims.WithLabelValues("granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claims.WithLabelValues("already_sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fired.WithLabelValues("low_sessions")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveClaim(rules.OutcomeLost)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pushalert_rule_claims_total{outcome="lost"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
