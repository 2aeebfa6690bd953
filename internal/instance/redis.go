package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tgifai/taskpilot/internal/pkg/logs"
)

const (
	defaultKey = "taskpilot:scheduler:leader"
	defaultTTL = 30 * time.Second
)

var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisGuard holds a TTL'd key in redis and renews it while held. If a
// renewal finds the key owned by someone else the guard is dropped and
// Held turns false.
type RedisGuard struct {
	rdb      *redis.Client
	key      string
	ttl      time.Duration
	instance string

	held   atomic.Bool
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(rdb *redis.Client, key string, ttl time.Duration, instanceID string) *RedisGuard {
	if key == "" {
		key = defaultKey
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if instanceID == "" {
		instanceID = ID()
	}
	return &RedisGuard{rdb: rdb, key: key, ttl: ttl, instance: instanceID}
}

func (g *RedisGuard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held.Load() {
		return nil
	}

	ok, err := g.rdb.SetNX(ctx, g.key, g.instance, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire %s: %w", g.key, err)
	}
	if !ok {
		owner, _ := g.rdb.Get(ctx, g.key).Result()
		return fmt.Errorf("%w (owner %s)", ErrLocked, owner)
	}

	g.held.Store(true)
	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.renew(renewCtx, g.done)

	logs.CtxInfo(ctx, "[instance] acquired %s as %s", g.key, g.instance)
	return nil
}

func (g *RedisGuard) renew(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := renewScript.Run(ctx, g.rdb, []string{g.key}, g.instance, g.ttl.Milliseconds()).Int()
		switch {
		case errors.Is(err, context.Canceled):
			return
		case err != nil:
			// Transient; the key survives until its TTL runs out.
			logs.CtxWarn(ctx, "[instance] renew %s failed: %v", g.key, err)
		case n == 0:
			g.held.Store(false)
			logs.CtxError(ctx, "[instance] lost %s to another instance", g.key)
			return
		}
	}
}

func (g *RedisGuard) Release(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel == nil {
		return nil
	}
	g.cancel()
	<-g.done
	g.cancel, g.done = nil, nil

	wasHeld := g.held.Swap(false)
	if !wasHeld {
		return nil
	}
	if err := releaseScript.Run(ctx, g.rdb, []string{g.key}, g.instance).Err(); err != nil {
		return fmt.Errorf("release %s: %w", g.key, err)
	}
	logs.CtxInfo(ctx, "[instance] released %s", g.key)
	return nil
}

func (g *RedisGuard) Held() bool {
	return g.held.Load()
}
