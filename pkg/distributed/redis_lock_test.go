package distributed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available:", err)
	}

	// 테스트 전 DB 초기화
	client.FlushDB(ctx)

	return client
}

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "instance1")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "lock:queue-sweeper", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// 같은 키는 다시 잡을 수 없음
	lock2, err := manager.AcquireLock(ctx, "lock:queue-sweeper", "instance2", 5*time.Second)
	assert.Equal(t, ErrLockNotAcquired, err)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	lock3, err := manager.AcquireLock(ctx, "lock:queue-sweeper", "instance3", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock3)
	defer lock3.Release(ctx)
}

func TestRedisLock_AutoExpire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:expire", "instance1", 1*time.Second)
	require.NoError(t, err)

	held, err := lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)

	time.Sleep(1500 * time.Millisecond)

	held, err = lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.False(t, held)

	lock2, err := manager.AcquireLock(ctx, "test:expire", "instance2", 5*time.Second)
	assert.NoError(t, err)
	assert.NotNil(t, lock2)
	defer lock2.Release(ctx)
}

func TestRedisLock_ExtendTTL(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:extend", "instance1", 2*time.Second)
	require.NoError(t, err)
	defer lock.Release(ctx)

	time.Sleep(1 * time.Second)
	require.NoError(t, lock.Extend(ctx, 10*time.Second))

	// 원래 TTL이었다면 만료됐을 시점
	time.Sleep(2 * time.Second)

	held, err := lock.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_SafeRelease(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:safe", "instance1", 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "test:safe", "instance2", 5*time.Second)
	require.NoError(t, err)
	defer lock2.Release(ctx)

	// 만료된 락은 다른 인스턴스의 락을 지우지 못함
	assert.Equal(t, ErrLockNotHeld, lock1.Release(ctx))

	held, err := lock2.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLockManager_TryLock(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	a := NewRedisLockManager(client, "api-1")
	b := NewRedisLockManager(client, "api-2")

	release, acquired, err := a.TryLock(ctx, "lock:queue-sweeper", 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	value, err := client.Get(ctx, "lock:queue-sweeper").Result()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(value, "api-1:"))

	// 다른 인스턴스는 에러 없이 실패
	_, acquired, err = b.TryLock(ctx, "lock:queue-sweeper", 5*time.Second)
	assert.NoError(t, err)
	assert.False(t, acquired)

	release(ctx)

	releaseB, acquired, err := b.TryLock(ctx, "lock:queue-sweeper", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	releaseB(ctx)
}

func TestRedisLockManager_TryLockReleaseAfterExpiry(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	a := NewRedisLockManager(client, "api-1")
	b := NewRedisLockManager(client, "api-2")

	releaseA, acquired, err := a.TryLock(ctx, "lock:queue-sweeper", 500*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(700 * time.Millisecond)

	releaseB, acquired, err := b.TryLock(ctx, "lock:queue-sweeper", 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)
	defer releaseB(ctx)

	// 늦게 호출된 해제는 b 의 락에 영향이 없다
	releaseA(ctx)

	exists, err := client.Exists(ctx, "lock:queue-sweeper").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRedisLock_ConcurrentAcquire(t *testing.T) {
	client := setupRedisClient(t)
	defer client.Close()

	manager := NewRedisLockManager(client, "")

	const numGoroutines = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		start   = make(chan struct{})
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			<-start
			instanceID := fmt.Sprintf("instance%d", id)
			if _, err := manager.AcquireLock(context.Background(), "test:concurrent", instanceID, 5*time.Second); err == nil {
				mu.Lock()
				winners = append(winners, instanceID)
				mu.Unlock()
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Len(t, winners, 1, "Only one instance should acquire the lock")
}

func BenchmarkRedisLock_AcquireRelease(b *testing.B) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		b.Skip("Redis not available")
	}
	defer client.Close()

	manager := NewRedisLockManager(client, "bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lockKey := fmt.Sprintf("bench:lock:%d", i)
		lock, err := manager.AcquireLock(ctx, lockKey, "bench", 5*time.Second)
		if err != nil {
			b.Fatal(err)
		}
		lock.Release(ctx)
	}
}
