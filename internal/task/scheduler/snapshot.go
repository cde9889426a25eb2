package scheduler

import (
	"strings"
	"time"
)

// Snapshot is a point-in-time view of the trigger for status output.
type Snapshot struct {
	Enabled      bool          `json:"enabled"`
	Spec         string        `json:"spec"`
	Timezone     string        `json:"timezone"`
	Running      bool          `json:"running"`
	Next         time.Time     `json:"next,omitempty"`
	LastStart    time.Time     `json:"last_start,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	Skipped      uint64        `json:"skipped"`
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	spec := strings.TrimSpace(s.cfg.Spec)
	if spec == "" {
		spec = DefaultSpec
	}
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Spec:     spec,
		Timezone: strings.TrimSpace(s.cfg.Timezone),
	}
	if s.c != nil {
		snap.Next = s.c.Entry(s.entry).Next
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()

	s.statsMu.Lock()
	snap.Runs = s.stats.runs
	snap.Failures = s.stats.failures
	snap.Skipped = s.stats.skipped
	snap.LastStart = s.stats.lastStart
	snap.LastDuration = s.stats.lastDur
	snap.LastError = s.stats.lastErr
	s.statsMu.Unlock()
	return snap
}
