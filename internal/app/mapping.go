package app

import (
	"strings"
	"time"

	"pushalert/internal/compose"
	"pushalert/internal/config"
	"pushalert/internal/dispatch"
	"pushalert/internal/evaluator"
	"pushalert/internal/httpapi"
	"pushalert/internal/lease"
	"pushalert/internal/push"
	"pushalert/internal/storage"
	"pushalert/internal/task/scheduler"
	"pushalert/internal/tick"
	"pushalert/internal/transport/telegram"
	logx "pushalert/pkg/logx"
)

const (
	defaultSchedulerTimeout = 50 * time.Second
	defaultEvaluatorTimeout = 10 * time.Second
	defaultDispatchTimeout  = 30 * time.Second
	defaultDispatchRate     = 5.0
)

// Every mapper assumes cfg passed config.Validate.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:       strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:         cfg.Storage.Path,
		DSN:          cfg.Storage.DSN,
		BusyTimeout:  config.DurationOr(cfg.Storage.BusyTimeout, 0),
		MaxOpenConns: cfg.Storage.MaxOpenConns,
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Spec:     cfg.Scheduler.Spec,
		Timezone: cfg.Scheduler.Timezone,
		Timeout:  config.DurationOr(cfg.Scheduler.Timeout, defaultSchedulerTimeout),
	}
}

func mapTick(cfg *config.Config) tick.Options {
	audit := true
	if cfg.Tick.Audit != nil {
		audit = *cfg.Tick.Audit
	}
	return tick.Options{
		RuleConcurrency:  cfg.Tick.RuleConcurrency,
		ReleaseOnFailure: cfg.Tick.ReleaseOnFailure,
		Audit:            audit,
	}
}

func mapThresholds(cfg *config.Config) evaluator.Thresholds {
	return evaluator.Thresholds{
		ExpiringDays:    cfg.Evaluator.ExpiringDays,
		BalanceAgeDays:  cfg.Evaluator.BalanceAgeDays,
		LowSessionsMax:  cfg.Evaluator.LowSessionsMax,
		InstallmentDays: cfg.Evaluator.InstallmentDays,
	}
}

func evaluatorTimeout(cfg *config.Config) time.Duration {
	return config.DurationOr(cfg.Evaluator.Timeout, defaultEvaluatorTimeout)
}

func mapCompose(cfg *config.Config) compose.Options {
	return compose.Options{
		Link:    cfg.Compose.Link,
		BaseURL: cfg.Compose.BaseURL,
		Icon:    cfg.Compose.Icon,
		Badge:   cfg.Compose.Badge,
	}
}

func mapDispatch(cfg *config.Config) dispatch.Config {
	rps := cfg.Dispatch.RatePerSec
	if rps == 0 {
		rps = defaultDispatchRate
	}
	return dispatch.Config{
		BatchSize:  cfg.Dispatch.BatchSize,
		RatePerSec: rps,
		Timeout:    config.DurationOr(cfg.Dispatch.Timeout, defaultDispatchTimeout),
	}
}

func mapFCM(cfg *config.Config) push.FCMConfig {
	return push.FCMConfig{
		ProjectID:       cfg.Push.ProjectID,
		CredentialsFile: cfg.Push.CredentialsFile,
	}
}

// mapLease returns false when the lease is not configured.
func mapLease(cfg *config.Config) (lease.Config, bool) {
	if cfg.Lease == nil || !cfg.Lease.Enabled {
		return lease.Config{}, false
	}
	return lease.Config{
		Addr:     cfg.Lease.Addr,
		Password: cfg.Lease.Password,
		DB:       cfg.Lease.DB,
		Prefix:   cfg.Lease.Prefix,
		TTL:      config.DurationOr(cfg.Lease.TTL, lease.DefaultTTL),
	}, true
}

func mapHTTP(cfg *config.Config) (httpapi.Config, bool) {
	if cfg.HTTP == nil || !cfg.HTTP.Enabled {
		return httpapi.Config{}, false
	}
	return httpapi.Config{
		Addr:         cfg.HTTP.Addr,
		Token:        cfg.HTTP.Token,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		ReadTimeout:  config.DurationOr(cfg.HTTP.ReadTimeout, 10*time.Second),
		WriteTimeout: config.DurationOr(cfg.HTTP.WriteTimeout, 60*time.Second),
		Profiler:     cfg.HTTP.Profiler,
	}, true
}

func mapTelegram(cfg *config.Config) (telegram.Config, bool) {
	if cfg.Telegram == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, false
	}
	return telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadID,
	}, true
}
