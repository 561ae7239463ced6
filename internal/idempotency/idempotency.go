// Package idempotency suppresses duplicate processing of the same external
// event by remembering event ids for a short TTL.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "surveybot/pkg/logx"
)

// Cache claims keys. The first Claim of a key within its TTL returns true;
// later claims return false until it expires. Empty keys always claim.
//
// Release forgets a claim whose work failed so a redelivery is processed
// again.
type Cache interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Driver     string // memory|redis
	Addr       string
	Password   string
	DB         int
	Prefix     string
	TTL        time.Duration
	MaxEntries int
}

const DefaultTTL = 10 * time.Minute

// Open builds the configured cache.
func Open(cfg Config, log logx.Logger) (Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "idempotency"))
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(cfg.MaxEntries), nil
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown idempotency driver: " + cfg.Driver)
	}
}
