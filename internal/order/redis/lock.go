package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	lockKeyPrefix  = "order_confirm_lock:"
	defaultLockTTL = 30 * time.Second
)

var ErrLockNotHeld = errors.New("order lock not held")

// unlockScript deletes the key only if it still holds our token, so an
// expired lock that someone else re-acquired is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis serializes confirmation processing per order. The lock is held only
// while one confirmation is processed, never across gateway calls.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Redis{Client: client, TTL: ttl, Logger: log}
}

// LockOrder returns a token when the lock was acquired, or ok=false when
// another worker holds it.
func (r *Redis) LockOrder(ctx context.Context, orderID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKeyPrefix+orderID, token, r.TTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	if !ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("Order %s is locked by another confirmation", orderID))
		return "", false, nil
	}
	return token, true, nil
}

// UnlockOrder releases the lock if token still owns it.
func (r *Redis) UnlockOrder(ctx context.Context, orderID, token string) error {
	n, err := unlockScript.Run(ctx, r.Client, []string{lockKeyPrefix + orderID}, token).Int()
	if err != nil {
		return fmt.Errorf("unlock order %s: %w", orderID, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
