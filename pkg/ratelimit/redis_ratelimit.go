package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 슬라이딩 윈도우 로그: 윈도우 밖의 기록을 지우고, 남은 개수가 limit 미만이면 기록을 추가.
// 반환값 {allowed, remaining, 가장 오래된 기록이 윈도우를 벗어나기까지 남은 ms}
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
	local count = redis.call('ZCARD', key)

	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now, member)
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, window)

	local reset = 0
	if allowed == 0 then
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if #oldest > 0 then
			reset = tonumber(oldest[2]) + window - now
		end
	end

	return {allowed, limit - count, reset}
`)

// RedisRateLimiter 여러 API 인스턴스가 같은 한도를 공유하는 분산 Rate Limiter
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// NewRedisRateLimiter keyPrefix 가 비어 있으면 "ratelimit:"
func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (r *RedisRateLimiter) key(rule Rule, key string) string {
	return r.keyPrefix + rule.Name + ":" + key
}

// Allow 요청 허용 여부와 남은 횟수
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, rule Rule) (*Result, error) {
	now := r.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.New().String())

	result, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.key(rule, key)},
		now, rule.Window.Milliseconds(), rule.Limit, member,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis script execution failed: %w", err)
	}
	if len(result) < 3 {
		return nil, fmt.Errorf("invalid script result")
	}

	res := &Result{
		Allowed:    result[0] == 1,
		Limit:      rule.Limit,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, nil
}

// Reset 특정 키의 기록 초기화
func (r *RedisRateLimiter) Reset(ctx context.Context, rule Rule, key string) error {
	if err := r.client.Del(ctx, r.key(rule, key)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
