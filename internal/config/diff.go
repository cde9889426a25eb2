package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pushalert/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe fields
// for logging. Secrets (tokens, passwords, DSNs) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert", newCfg.Logging.Alert.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.spec", strings.TrimSpace(newCfg.Scheduler.Spec)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Tick, newCfg.Tick) {
		changed = append(changed, "tick")
		attrs = append(attrs,
			logx.Int("tick.rule_concurrency", newCfg.Tick.RuleConcurrency),
			logx.Bool("tick.release_on_failure", newCfg.Tick.ReleaseOnFailure),
		)
	}
	if oldCfg.Evaluator != newCfg.Evaluator {
		changed = append(changed, "evaluator")
	}
	if oldCfg.Compose != newCfg.Compose {
		changed = append(changed, "compose")
		attrs = append(attrs, logx.String("compose.link", newCfg.Compose.Link))
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.batch_size", newCfg.Dispatch.BatchSize),
			logx.Any("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}
	if oldCfg.Push != newCfg.Push {
		changed = append(changed, "push")
		attrs = append(attrs, logx.String("push.driver", newCfg.Push.Driver))
	}
	if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
		oldCfg.Storage.Path != newCfg.Storage.Path ||
		oldCfg.Storage.DSN != newCfg.Storage.DSN ||
		oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout ||
		oldCfg.Storage.MaxOpenConns != newCfg.Storage.MaxOpenConns {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Lease, newCfg.Lease) {
		changed = append(changed, "lease")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied to a running
// process. The daemon logs them and keeps the old values.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "push", "storage", "lease", "http", "telegram":
			out = append(out, s)
		}
	}
	return out
}
