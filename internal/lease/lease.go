// Package lease lets exactly one replica run a given tick minute. A lease is
// a Redis key set with NX and a TTL; it is never released early, so a second
// replica asking for the same minute is refused until the key expires.
package lease

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	logx "pushalert/pkg/logx"
)

const (
	DefaultPrefix = "pushalert:tick:"
	DefaultTTL    = 2 * time.Minute
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type Redis struct {
	client setNXer
	close  func() error
	prefix string
	ttl    time.Duration
	owner  string
	log    logx.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config, log logx.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lease: ping %s: %w", cfg.Addr, err)
	}
	l := newRedis(client, cfg, log)
	l.close = client.Close
	return l, nil
}

func newRedis(client setNXer, cfg Config, log logx.Logger) *Redis {
	if log.IsZero() {
		log = logx.Nop()
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	host, _ := os.Hostname()
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		owner:  host + "/" + uuid.NewString(),
		log:    log,
	}
}

// Acquire reports whether this process now owns key.
func (l *Redis) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		l.log.Debug("lease held elsewhere", logx.String("key", l.prefix+key))
	}
	return ok, nil
}

func (l *Redis) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}
