package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pushalert/internal/config"
	"pushalert/internal/lease"
)

func TestMapSchedulerDefaults(t *testing.T) {
	cfg := &config.Config{Scheduler: config.SchedulerConfig{Enabled: true, Timezone: "Asia/Jakarta"}}
	got := mapScheduler(cfg)
	assert.True(t, got.Enabled)
	assert.Equal(t, "Asia/Jakarta", got.Timezone)
	assert.Equal(t, defaultSchedulerTimeout, got.Timeout)

	cfg.Scheduler.Timeout = "20s"
	assert.Equal(t, 20*time.Second, mapScheduler(cfg).Timeout)
}

func TestMapTickAuditDefaultsOn(t *testing.T) {
	cfg := &config.Config{}
	assert.True(t, mapTick(cfg).Audit)

	off := false
	cfg.Tick = config.TickConfig{RuleConcurrency: 3, ReleaseOnFailure: true, Audit: &off}
	got := mapTick(cfg)
	assert.False(t, got.Audit)
	assert.True(t, got.ReleaseOnFailure)
	assert.Equal(t, 3, got.RuleConcurrency)
}

func TestMapDispatch(t *testing.T) {
	tests := []struct {
		name string
		in   config.DispatchConfig
		rate float64
		wait time.Duration
	}{
		{name: "defaults", rate: defaultDispatchRate, wait: defaultDispatchTimeout},
		{name: "explicit", in: config.DispatchConfig{BatchSize: 100, RatePerSec: 2, Timeout: "5s"}, rate: 2, wait: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapDispatch(&config.Config{Dispatch: tt.in})
			assert.Equal(t, tt.in.BatchSize, got.BatchSize)
			assert.Equal(t, tt.rate, got.RatePerSec)
			assert.Equal(t, tt.wait, got.Timeout)
		})
	}
}

func TestOptionalSections(t *testing.T) {
	cfg := &config.Config{}
	_, ok := mapLease(cfg)
	assert.False(t, ok)
	_, ok = mapHTTP(cfg)
	assert.False(t, ok)
	_, ok = mapTelegram(cfg)
	assert.False(t, ok)

	cfg.Lease = &config.LeaseConfig{Enabled: true, Addr: "localhost:6379"}
	cfg.HTTP = &config.HTTPConfig{Enabled: true, Token: "s3cret"}
	cfg.Telegram = &config.TelegramConfig{Token: "123:abc", ChatID: 42}

	lc, ok := mapLease(cfg)
	assert.True(t, ok)
	assert.Equal(t, lease.DefaultTTL, lc.TTL)

	hc, ok := mapHTTP(cfg)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", hc.Token)
	assert.Equal(t, 10*time.Second, hc.ReadTimeout)

	tc, ok := mapTelegram(cfg)
	assert.True(t, ok)
	assert.Equal(t, int64(42), tc.ChatID)
}

func TestMapStorageNormalizesDriver(t *testing.T) {
	got := mapStorage(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "x.db", BusyTimeout: "2s"}})
	assert.Equal(t, "sqlite", got.Driver)
	assert.Equal(t, 2*time.Second, got.BusyTimeout)
}
