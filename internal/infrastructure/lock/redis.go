package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// only the holder that set the token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the Redis-backed locker
type RedisConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
}

// RedisLocker is a per-purchase lock shared by every instance using the same Redis
type RedisLocker struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLocker creates a new RedisLocker
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger) *RedisLocker {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "shipment:lock:purchase"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{client: client, cfg: cfg, logger: logger}
}

// Lock polls SET NX until the key is free or ctx is done. The key expires
// after TTL so a crashed holder cannot block the purchase forever.
func (l *RedisLocker) Lock(ctx context.Context, purchaseID string) (func(), error) {
	key := l.key(purchaseID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("acquire lock %s: %w", key, ctxErr)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}, nil
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("Failed to release purchase lock", zap.String("key", key), zap.Error(err))
		return
	}
	if deleted == 0 {
		l.logger.Warn("Purchase lock expired before release", zap.String("key", key))
	}
}

func (l *RedisLocker) key(purchaseID string) string {
	return l.cfg.KeyPrefix + ":" + purchaseID
}

// Verify interface compliance
var _ port.PurchaseLocker = (*RedisLocker)(nil)
