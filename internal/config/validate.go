package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks cross-field constraints that the strict decoder cannot.
// It is used both at startup and as the Watch validator, so a broken edit
// never replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		errs = append(errs, errors.New("scheduler.timezone: required"))
	} else if _, err := time.LoadLocation(tz); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}

	durations := map[string]string{
		"scheduler.timeout":    cfg.Scheduler.Timeout,
		"evaluator.timeout":    cfg.Evaluator.Timeout,
		"dispatch.timeout":     cfg.Dispatch.Timeout,
		"storage.busy_timeout": cfg.Storage.BusyTimeout,
	}
	if cfg.Lease != nil {
		durations["lease.ttl"] = cfg.Lease.TTL
	}
	if cfg.HTTP != nil {
		durations["http.read_timeout"] = cfg.HTTP.ReadTimeout
		durations["http.write_timeout"] = cfg.HTTP.WriteTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Push.Driver)) {
	case "fcm":
		if err := validateBaseURL(cfg.Compose.BaseURL); err != nil {
			errs = append(errs, err)
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("push.driver: unknown driver %q", cfg.Push.Driver))
	}

	if cfg.Dispatch.BatchSize < 0 || cfg.Dispatch.BatchSize > 500 {
		errs = append(errs, errors.New("dispatch.batch_size: must be within 0..500"))
	}
	if cfg.Dispatch.RatePerSec < 0 {
		errs = append(errs, errors.New("dispatch.rate_per_sec: must be >= 0"))
	}
	if cfg.Tick.RuleConcurrency < 0 {
		errs = append(errs, errors.New("tick.rule_concurrency: must be >= 0"))
	}

	if cfg.Lease != nil && cfg.Lease.Enabled && strings.TrimSpace(cfg.Lease.Addr) == "" {
		errs = append(errs, errors.New("lease.addr: required when lease is enabled"))
	}
	if cfg.Logging.Alert.Enabled {
		if cfg.Telegram == nil || strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("logging.alert: requires telegram.token and telegram.chat_id"))
		}
	}
	return errors.Join(errs...)
}

// validateBaseURL requires an absolute https origin: FCM drops web push
// click-through links that are relative or plain http.
func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("compose.base_url: required when push.driver is fcm")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("compose.base_url: %q is not an absolute https URL", raw)
	}
	return nil
}
