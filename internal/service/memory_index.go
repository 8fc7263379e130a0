package service

import (
	"context"
	"sync"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

// MemoryQueueIndex Redis 없이 동작할 때 쓰는 프로세스 내 인덱스
type MemoryQueueIndex struct {
	mu     sync.RWMutex
	queues map[models.QueueMode][]string
}

func NewMemoryQueueIndex() *MemoryQueueIndex {
	return &MemoryQueueIndex{queues: make(map[models.QueueMode][]string)}
}

// Push 이미 있던 ID 는 빼고 맨 뒤에 추가 (RedisQueueIndex 와 같은 LREM+RPUSH 의미)
func (m *MemoryQueueIndex) Push(_ context.Context, mode models.QueueMode, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(mode, entryID)
	m.queues[mode] = append(m.queues[mode], entryID)
	return nil
}

func (m *MemoryQueueIndex) Remove(_ context.Context, mode models.QueueMode, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(mode, entryID)
	return nil
}

// remove caller holds mu
func (m *MemoryQueueIndex) remove(mode models.QueueMode, entryID string) {
	ids := m.queues[mode]
	kept := ids[:0]
	for _, id := range ids {
		if id != entryID {
			kept = append(kept, id)
		}
	}
	m.queues[mode] = kept
}

func (m *MemoryQueueIndex) Length(_ context.Context, mode models.QueueMode) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues[mode]), nil
}

func (m *MemoryQueueIndex) PositionOf(_ context.Context, mode models.QueueMode, entryID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i, id := range m.queues[mode] {
		if id == entryID {
			return i + 1, nil
		}
	}
	return 0, nil
}
