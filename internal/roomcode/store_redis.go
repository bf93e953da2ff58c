package roomcode

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:room:"

// RedisAllocator reserves codes with SETNX.
// 같은 Redis를 공유하는 여러 릴레이 프로세스가 동일 코드를 발급하지 않도록 함.
type RedisAllocator struct {
	rdb    *redis.Client
	length int
	ttl    time.Duration
	owner  string
	gen    func(int) (string, error)
}

// NewRedisAllocator stores owner as the key value; ttl bounds how long an
// abandoned reservation survives a crashed process.
func NewRedisAllocator(rdb *redis.Client, length int, ttl time.Duration, owner string) *RedisAllocator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisAllocator{rdb: rdb, length: length, ttl: ttl, owner: owner, gen: Generate}
}

func key(code string) string { return keyPrefix + Normalize(code) }

func (a *RedisAllocator) Reserve(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := a.gen(a.length)
		if err != nil {
			return "", err
		}
		ok, err := a.rdb.SetNX(ctx, key(code), a.owner, a.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("roomcode: setnx: %w", err)
		}
		if ok {
			return code, nil
		}
	}
	return "", ErrExhausted
}

func (a *RedisAllocator) Release(ctx context.Context, code string) error {
	if err := a.rdb.Del(ctx, key(code)).Err(); err != nil {
		return fmt.Errorf("roomcode: del: %w", err)
	}
	return nil
}
