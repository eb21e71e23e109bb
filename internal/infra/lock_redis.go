package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rxverify-service/internal/domain"
)

const (
	redisLockPrefix    = "rxverify:lot-lock:"
	redisLockRetryWait = 25 * time.Millisecond
)

// 自分が取得したロックだけを解放する
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLotLocker は複数インスタンス間でロット単位の排他を行う。
// キーにはTTLを付け、プロセスが落ちてもロックが残り続けないようにする。
type RedisLotLocker struct {
	client  *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

// NewRedisLotLocker は新しいRedisLotLockerを生成する。
func NewRedisLotLocker(addr, password string, db int, timeout, ttl time.Duration) (*RedisLotLocker, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLotLocker{client: client, timeout: timeout, ttl: ttl}, nil
}

// Ping はRedisへの疎通を確認する。
func (l *RedisLotLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Lock はロットのロックを取得する。timeout 内に取得できなければ domain.ErrConcurrencyConflict。
func (l *RedisLotLocker) Lock(ctx context.Context, lotID string) (func(), error) {
	key := redisLockPrefix + lotID
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring redis lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: lot %s locked for more than %s", domain.ErrConcurrencyConflict, lotID, l.timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redisLockRetryWait):
		}
	}

	return func() {
		// リクエストがキャンセルされていても解放は行う
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := redisUnlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			slog.WarnContext(ctx, "failed to release redis lot lock",
				"operation", "unlock_lot",
				"lot_id", lotID,
				"error", err,
			)
		}
	}, nil
}

// Close はRedisクライアントを閉じる。
func (l *RedisLotLocker) Close() error {
	return l.client.Close()
}
