package config

// Config is the on-disk configuration (YAML or JSON). Unknown keys are
// rejected. String values may reference environment variables as ${NAME}.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tick      TickConfig      `json:"tick"`
	Evaluator EvaluatorConfig `json:"evaluator"`
	Compose   ComposeConfig   `json:"compose"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Push      PushConfig      `json:"push"`
	Storage   StorageConfig   `json:"storage"`

	// Optional sections. Omitted means disabled.
	Lease    *LeaseConfig    `json:"lease,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards high-severity records to the telegram section's chat.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the tick trigger.
//
// With enabled=false no in-process trigger runs; an external scheduler is
// expected to invoke "pushalert tick" once per minute instead.
//
// Defaults:
//   - spec: "* * * * *" (every minute, on the minute)
//   - timeout: "50s"
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`

	// Timezone is the business zone (IANA name). Required: all dates and
	// minutes are resolved in this zone, never in the host zone.
	Timezone string `json:"timezone"`

	Timeout string `json:"timeout,omitempty"`
}

type TickConfig struct {
	// RuleConcurrency bounds how many rules are claimed and evaluated at once.
	RuleConcurrency int `json:"rule_concurrency,omitempty"`

	// ReleaseOnFailure restores a rule's previous last_sent_date when its
	// evaluation fails or nothing could be delivered.
	ReleaseOnFailure bool `json:"release_on_failure,omitempty"`

	// Audit writes one tick_audit row per tick.
	Audit *bool `json:"audit,omitempty"`
}

// EvaluatorConfig holds built-in rule thresholds. Zero means default.
type EvaluatorConfig struct {
	ExpiringDays    int    `json:"expiring_days,omitempty"`    // default 7
	BalanceAgeDays  int    `json:"balance_age_days,omitempty"` // default 30
	LowSessionsMax  int    `json:"low_sessions_max,omitempty"` // default 2
	InstallmentDays int    `json:"installment_days,omitempty"` // default 45
	Timeout         string `json:"timeout,omitempty"`          // per rule, default "10s"
}

// ComposeConfig shapes notification content. Web push click-through needs
// an absolute https URL, built as base_url + link, so base_url is required
// with the fcm driver.
type ComposeConfig struct {
	Link    string `json:"link,omitempty"` // default "/notifications"
	BaseURL string `json:"base_url,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Badge   string `json:"badge,omitempty"`
}

type DispatchConfig struct {
	BatchSize  int     `json:"batch_size,omitempty"`   // default 500
	RatePerSec float64 `json:"rate_per_sec,omitempty"` // batch calls per second, default 5
	Timeout    string  `json:"timeout,omitempty"`      // whole fan-out, default "30s"
}

// PushConfig selects the delivery channel.
//
// Driver values:
//   - "fcm": Firebase Cloud Messaging (credentials_file or ADC)
//   - "log": log messages instead of sending
type PushConfig struct {
	Driver          string `json:"driver"`
	ProjectID       string `json:"project_id,omitempty"`
	CredentialsFile string `json:"credentials_file,omitempty"`
}

// StorageConfig selects the database.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/pushalert.db }
//	storage: { driver: postgres, dsn: "${DATABASE_URL}" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// LeaseConfig enables the cross-replica tick lease in Redis.
type LeaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"` // default "pushalert:tick:"
	TTL      string `json:"ttl,omitempty"`    // default "2m"
}

// HTTPConfig controls the admin server.
//
// Without token the server only starts on a loopback addr; /status and
// POST /tick are then open to local callers.
type HTTPConfig struct {
	Enabled      bool     `json:"enabled"`
	Addr         string   `json:"addr,omitempty"` // default "127.0.0.1:8089"
	Token        string   `json:"token,omitempty"`
	CORSOrigins  []string `json:"cors_origins,omitempty"`
	ReadTimeout  string   `json:"read_timeout,omitempty"`
	WriteTimeout string   `json:"write_timeout,omitempty"`
	Profiler     bool     `json:"profiler,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
