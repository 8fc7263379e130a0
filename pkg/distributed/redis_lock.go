package distributed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

// 자신이 획득한 락만 해제
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// 자신이 획득한 락만 TTL 연장
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock Redis 기반 분산 락
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// RedisLockManager 인스턴스 간 스위퍼 실행을 하나로 제한하는 락 관리자
type RedisLockManager struct {
	client     *redis.Client
	instanceID string
}

// NewRedisLockManager instanceID 가 비어 있으면 uuid 를 생성한다
func NewRedisLockManager(client *redis.Client, instanceID string) *RedisLockManager {
	if instanceID == "" {
		instanceID = uuid.New().String()
	}
	return &RedisLockManager{
		client:     client,
		instanceID: instanceID,
	}
}

// InstanceID 락 값에 쓰이는 인스턴스 식별자
func (m *RedisLockManager) InstanceID() string {
	return m.instanceID
}

// AcquireLock 분산 락 획득 시도
func (m *RedisLockManager) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (*RedisLock, error) {
	// SET NX 로 원자적 획득
	success, err := m.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return nil, err
	}

	if !success {
		return nil, ErrLockNotAcquired
	}

	return &RedisLock{
		client: m.client,
		key:    key,
		value:  value,
		ttl:    ttl,
	}, nil
}

// TryLock 한 번만 시도한다. 다른 인스턴스가 잡고 있으면 acquired=false, err=nil.
// 락 값은 인스턴스 id 와 획득마다 새로 만든 토큰을 합친 것이라 같은 인스턴스의 이전 락을 풀지 않는다.
func (m *RedisLockManager) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	lock, err := m.AcquireLock(ctx, key, m.instanceID+":"+uuid.New().String(), ttl)
	if errors.Is(err, ErrLockNotAcquired) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	release := func(ctx context.Context) {
		// TTL 로 이미 만료됐으면 ErrLockNotHeld, 무시해도 된다
		_ = lock.Release(ctx)
	}
	return release, true, nil
}

// Release 락 해제 (Lua 스크립트로 안전하게)
func (l *RedisLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	return nil
}

// Extend 락 TTL 연장
func (l *RedisLock) Extend(ctx context.Context, extension time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, extension.Milliseconds()).Int()
	if err != nil {
		return err
	}

	if result == 0 {
		return ErrLockNotHeld
	}

	l.ttl = extension
	return nil
}

// IsHeld 락이 현재 유효한지 확인
func (l *RedisLock) IsHeld(ctx context.Context) (bool, error) {
	value, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return value == l.value, nil
}
