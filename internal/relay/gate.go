package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	lockKeyPrefix    = "mindful:persist:"
	lockPollInterval = 25 * time.Millisecond
	defaultLockTTL   = 15 * time.Second
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Gate serializes persistence per user. Within a process a weighted
// semaphore per userID is enough; when a Redis client is configured a
// SET NX PX lock extends the guarantee across instances.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry

	redis   *redis.Client
	lockTTL time.Duration
	logger  *zap.SugaredLogger
}

type gateEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewGate(client *redis.Client, lockTTL time.Duration, logger *zap.SugaredLogger) *Gate {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	return &Gate{
		entries: make(map[string]*gateEntry),
		redis:   client,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Acquire blocks until userID's gate is free or ctx ends. The returned
// release func is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context, userID string) (func(), error) {
	entry := g.ref(userID)
	if err := entry.sem.Acquire(ctx, 1); err != nil {
		g.unref(userID)
		return nil, fmt.Errorf("relay: wait for persist gate %s: %w", userID, err)
	}

	unlock := func() {}
	if g.redis != nil {
		var err error
		unlock, err = g.lock(ctx, userID)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			entry.sem.Release(1)
			g.unref(userID)
			return nil, fmt.Errorf("relay: wait for persist lock %s: %w", userID, err)
		default:
			// Redis trouble must not block the write; the local semaphore
			// still orders this instance.
			g.logger.Warnw("distributed persist lock unavailable", "user_id", userID, "error", err)
			unlock = func() {}
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			entry.sem.Release(1)
			g.unref(userID)
		})
	}, nil
}

func (g *Gate) ref(userID string) *gateEntry {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[userID]
	if !ok {
		entry = &gateEntry{sem: semaphore.NewWeighted(1)}
		g.entries[userID] = entry
	}
	entry.refs++
	return entry
}

func (g *Gate) unref(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(g.entries, userID)
	}
}

func (g *Gate) lock(ctx context.Context, userID string) (func(), error) {
	key := lockKeyPrefix + userID
	token := uuid.NewString()

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := g.redis.SetNX(ctx, key, token, g.lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		// The caller's ctx may already be done; releasing must still happen.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, g.redis, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			g.logger.Warnw("failed to release persist lock", "user_id", userID, "error", err)
		}
	}, nil
}
