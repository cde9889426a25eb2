package logx

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	got := formatAlert([]byte(`{"level":"error","message":"tick aborted","comp":"tick","err":"db down","time":"x"}`))
	assert.Equal(t, "[ERROR] tick aborted\n- comp=tick\n- err=db down", got)
}

func TestFormatAlertNonJSON(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plain line", formatAlert([]byte("  plain line \n")))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	require.True(t, l.IsZero())
	assert.NotPanics(t, func() {
		l.Info("ignored", String("k", "v"))
		l.With(Int("n", 1)).Error("ignored")
	})
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "test"))
	l.Info("hello", Int("count", 3))
	out := buf.String()
	for _, want := range []string{`"comp":"test"`, `"count":3`, `"message":"hello"`} {
		assert.Contains(t, out, want)
	}
}

func TestServiceForwardsAlertsAboveMinLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level: "debug",
		Alert: AlertConfig{Enabled: true, MinLevel: "error", RatePerSec: 10},
	}, sender)
	t.Cleanup(func() { _ = svc.Close() })

	log.Warn("not forwarded")
	log.Error("forwarded", String("rule", "low_sessions"))

	require.Eventually(t, func() bool { return len(sender.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	msgs := sender.snapshot()
	require.Len(t, msgs, 1)
	assert.True(t, strings.HasPrefix(msgs[0], "[ERROR] forwarded"), msgs[0])
}

func TestApplySwitchesLogFileWithoutLosingRecords(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	t.Cleanup(func() { _ = svc.Close() })
	log.Info("before switch")

	oldFile := svc.file
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("after switch")

	require.NotNil(t, svc.file)
	assert.NotSame(t, oldFile, svc.file)
	// The replaced file is closed once the new logger is in place.
	_, err := oldFile.Write([]byte("x"))
	assert.Error(t, err)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(a), "before switch")
	assert.NotContains(t, string(a), "after switch")
	assert.Contains(t, string(b), "after switch")
}
