package distributed

import (
	"context"
	"errors"
	"fmt"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisQueueIndex 모드별 대기 순서를 Redis List 로 유지하는 인덱스.
// 권위 있는 상태는 Postgres 에 있고 여기 값은 위치/길이 조회용이다.
type RedisQueueIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisQueueIndex prefix 가 비어 있으면 "queue"
func NewRedisQueueIndex(client *redis.Client, prefix string) *RedisQueueIndex {
	if prefix == "" {
		prefix = "queue"
	}
	return &RedisQueueIndex{
		client: client,
		prefix: prefix,
	}
}

func (i *RedisQueueIndex) key(mode models.QueueMode) string {
	return fmt.Sprintf("%s:%s", i.prefix, mode)
}

// Push 맨 뒤에 추가. 이미 있던 id 는 먼저 지워 중복되지 않게 한다
func (i *RedisQueueIndex) Push(ctx context.Context, mode models.QueueMode, entryID string) error {
	key := i.key(mode)
	_, err := i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 0, entryID)
		pipe.RPush(ctx, key, entryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push to queue index: %w", err)
	}
	return nil
}

// Remove 없는 id 여도 에러가 아니다
func (i *RedisQueueIndex) Remove(ctx context.Context, mode models.QueueMode, entryID string) error {
	if err := i.client.LRem(ctx, i.key(mode), 0, entryID).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue index: %w", err)
	}
	return nil
}

func (i *RedisQueueIndex) Length(ctx context.Context, mode models.QueueMode) (int, error) {
	n, err := i.client.LLen(ctx, i.key(mode)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue index length: %w", err)
	}
	return int(n), nil
}

// PositionOf 1부터 시작하는 위치, 없으면 0 (LPOS, Redis 6.0.6+)
func (i *RedisQueueIndex) PositionOf(ctx context.Context, mode models.QueueMode, entryID string) (int, error) {
	pos, err := i.client.LPos(ctx, i.key(mode), entryID, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get queue index position: %w", err)
	}
	return int(pos) + 1, nil
}

// Clear 모드 인덱스를 비운다 (재구성용)
func (i *RedisQueueIndex) Clear(ctx context.Context, mode models.QueueMode) error {
	if err := i.client.Del(ctx, i.key(mode)).Err(); err != nil {
		return fmt.Errorf("failed to clear queue index: %w", err)
	}
	return nil
}
