package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "pushalert/pkg/logx"
)

const DefaultSpec = "* * * * *"

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("tick already running")

// Config controls the trigger.
type Config struct {
	Enabled  bool
	Spec     string        // cron expression, descriptor or interval; default every minute
	Timezone string        // IANA zone the cron expression is evaluated in
	Timeout  time.Duration // per run; 0 means none
}

// Job is one run of the scheduled work.
type Job func(ctx context.Context) error

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	job    Job
	parser cron.Parser

	baseCtx context.Context
	c       *cron.Cron
	entry   cron.EntryID
	loc     *time.Location

	running atomic.Bool

	statsMu sync.Mutex
	stats   runStats
}

type runStats struct {
	runs, failures, skipped uint64
	lastStart               time.Time
	lastDur                 time.Duration
	lastErr                 string
}
