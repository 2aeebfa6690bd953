// Package instance keeps a second taskpilot process from running the
// scheduler against the same store.
package instance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tgifai/taskpilot/internal/config"
)

// ErrLocked is returned by Acquire when another instance holds the guard.
var ErrLocked = errors.New("scheduler is already running in another instance")

// Guard is a process-wide exclusive lock around the scheduler.
type Guard interface {
	// Acquire takes the guard or fails with ErrLocked.
	Acquire(ctx context.Context) error
	// Release gives the guard up. Releasing an unheld guard is a no-op.
	Release(ctx context.Context) error
	// Held reports whether this process currently owns the guard.
	Held() bool
}

// Noop always succeeds; it is the single-instance default.
type Noop struct{}

func (Noop) Acquire(context.Context) error { return nil }
func (Noop) Release(context.Context) error { return nil }
func (Noop) Held() bool                    { return true }

// New builds the guard selected by cfg.Guard.
func New(ctx context.Context, cfg config.InstanceConfig) (Guard, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Guard)) {
	case "", "none":
		return Noop{}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
		}
		return NewRedisGuard(rdb, cfg.Key, time.Duration(cfg.TTLSec)*time.Second, ""), nil
	default:
		return nil, fmt.Errorf("unsupported instance guard: %s", cfg.Guard)
	}
}

// ID returns a process identifier unique across hosts and restarts.
func ID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}
