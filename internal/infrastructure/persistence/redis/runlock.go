// Package redis implements run coordination on Redis. Pipeline runs share
// the override store and the remote assignment namespace, so only one run
// may execute at a time; the lock serializes them across processes.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yuribz/grades-dsc/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to ping: %w", err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN LOCK
// ══════════════════════════════════════════════════════════════════════════════

// lockKey namespaces the pipeline run lock.
const lockKey = "gradesync:run_lock"

// RunLock is a Redis-backed mutual exclusion lock for pipeline runs.
// The lock value is a per-acquisition token so release cannot delete a
// lock another process took after this one's TTL expired.
type RunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// RunLockConfig contains configuration for the run lock.
type RunLockConfig struct {
	// Key is the Redis key. Empty uses the default.
	Key string

	// TTL bounds how long a crashed run can hold the lock.
	TTL time.Duration
}

// DefaultRunLockConfig returns default configuration. The TTL must exceed
// the longest plausible run; a class-sized publication at a few requests
// per second stays well under it.
func DefaultRunLockConfig() RunLockConfig {
	return RunLockConfig{
		Key: lockKey,
		TTL: 30 * time.Minute,
	}
}

// NewRunLock creates a new RunLock.
func NewRunLock(client *redis.Client, cfg RunLockConfig) *RunLock {
	if cfg.Key == "" {
		cfg.Key = lockKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	return &RunLock{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
	}
}

// releaseScript deletes the lock only if this acquisition still holds it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Acquire takes the lock or fails with shared.ErrRunInProgress when
// another run holds it. The returned release function is idempotent.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, shared.WrapError("redis", "Acquire", shared.ErrExternalService, "set run lock", err)
	}
	if !ok {
		return nil, shared.ErrRunInProgress
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// Best effort; the TTL reclaims the lock if this fails.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err()
		})
	}
	return release, nil
}

// Held reports whether any run currently holds the lock.
func (l *RunLock) Held(ctx context.Context) (bool, error) {
	n, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, shared.WrapError("redis", "Held", shared.ErrExternalService, "check run lock", err)
	}
	return n > 0, nil
}
