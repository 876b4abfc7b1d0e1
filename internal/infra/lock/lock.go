// Package lock provides port.Locker implementations: a Redis SET NX lock
// shared across instances and an in-process lock for single-node runs.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/lending-bfa-go/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "lending:lock:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisClient builds a client and pings it with a short timeout.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Redis is a best-effort distributed mutex keyed by string.
type Redis struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (l *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	fullKey := keyPrefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "redis", Err: err}
	}
	if !ok {
		return nil, &domain.ErrLocked{Key: key}
	}

	release := func() {
		// The caller's context may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, nil
}

// Local is an in-process lock with the same contract as Redis. A
// non-positive ttl holds the key until released.
type Local struct {
	mu   sync.Mutex
	held map[string]localHold
	seq  uint64
	now  func() time.Time
}

type localHold struct {
	id  uint64
	exp time.Time // zero: no expiry
}

func (h localHold) activeAt(now time.Time) bool {
	return h.exp.IsZero() || now.Before(h.exp)
}

func NewLocal() *Local {
	return &Local{held: make(map[string]localHold), now: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && h.activeAt(now) {
		return nil, &domain.ErrLocked{Key: key}
	}
	l.seq++
	hold := localHold{id: l.seq}
	if ttl > 0 {
		hold.exp = now.Add(ttl)
	}
	l.held[key] = hold

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key].id == hold.id {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
