// Package store provides the key-value command contract the gateway relies on
// for quota counters, request locks, the response cache and the user allow-list.
//
// Two implementations exist: RedisStore for deployments and MemoryStore for
// tests and single-process development.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Well-known keys and key prefixes.
const (
	AllowListKey     = "users:list"
	LockPrefix       = "lock:"
	MinutePrefix     = "minute:"
	DailyPrefix      = "daily:"
	TeamDailyKey     = "global:daily"
	CachePrefix      = "cache:"
	DailyScanPattern = DailyPrefix + "*"
)

// ErrNotConfigured is returned when a store is required but no URL is set.
var ErrNotConfigured = errors.New("store not configured")

// Store is the set of atomic key-value commands used by the gateway.
// Every check-and-increment is a single store operation.
type Store interface {
	// Incr atomically increments key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// IncrExpire increments key and, when the increment created it, sets its
	// TTL in the same atomic step. A counter therefore never exists unbounded.
	IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SetNX sets key only if it does not exist. Returns true if set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEx sets key with a TTL.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error

	SIsMember(ctx context.Context, set, member string) (bool, error)
	// SAdd returns the number of members actually added (0 if already present).
	SAdd(ctx context.Context, set, member string) (int64, error)
	SRem(ctx context.Context, set, member string) (int64, error)
	SMembers(ctx context.Context, set string) ([]string, error)

	// Scan returns all keys matching a glob pattern.
	Scan(ctx context.Context, match string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a store implementation.
type Config struct {
	// URL is a redis:// or rediss:// URL. An https:// Upstash REST URL is
	// converted to its TLS Redis endpoint using Token as the password.
	URL   string
	Token string

	Logger *slog.Logger
}

// New returns a RedisStore when a URL is configured, otherwise a MemoryStore.
func New(cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if strings.TrimSpace(cfg.URL) == "" {
		logger.Warn("no store URL configured, using in-memory store")
		return NewMemoryStore(nil), nil
	}

	redisURL, err := RedisURL(cfg.URL, cfg.Token)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(RedisConfig{URL: redisURL, Logger: logger})
}

// RedisURL normalizes a configured store URL into a redis:// URL.
func RedisURL(raw, token string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid store URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		if token != "" && u.User == nil {
			u.User = url.UserPassword("default", token)
		}
		return u.String(), nil
	case "https", "http":
		// Upstash exposes the same database over TLS Redis on 6379.
		host := u.Hostname()
		if host == "" {
			return "", fmt.Errorf("invalid store URL: missing host")
		}
		out := &url.URL{Scheme: "rediss", Host: host + ":6379"}
		if token != "" {
			out.User = url.UserPassword("default", token)
		}
		return out.String(), nil
	default:
		return "", fmt.Errorf("unsupported store URL scheme %q", u.Scheme)
	}
}
