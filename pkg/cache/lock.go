package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another owner")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short-lived exclusive locks. With a Redis client the lock
// spans processes; without one it falls back to an in-process table.
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu    sync.Mutex
	local map[string]string
}

// NewLocker builds a locker. client may be nil.
func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl, local: make(map[string]string)}
}

// Acquire takes the lock for key and returns the release function.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	token := uuid.NewString()

	if l.client == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, held := l.local[full]; held {
			return nil, ErrLockHeld
		}
		l.local[full] = token
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.local[full] == token {
				delete(l.local, full)
			}
		}, nil
	}

	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", full, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// release must survive a cancelled caller context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{full}, token).Err()
	}, nil
}
