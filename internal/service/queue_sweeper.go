package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

const sweeperLockKey = "lock:queue-sweeper"

type SweeperConfig struct {
	Interval     time.Duration
	StuckTimeout time.Duration
	Batch        int
}

// SweepResult 한 번의 정리 결과
type SweepResult struct {
	Expired     int  `json:"expired"`
	Recovered   int  `json:"recovered"`
	Resubmitted int  `json:"resubmitted"`
	Skipped     bool `json:"skipped"` // 다른 인스턴스가 락 보유
}

// QueueSweeper 주기적으로 만료 엔트리 정리, matching 고착 복구, 대기 엔트리 재시도
type QueueSweeper struct {
	queue     QueueStore
	index     QueueIndex
	relay     Relay
	submitter MatchSubmitter
	locker    Locker
	cfg       SweeperConfig
	logger    *zap.Logger
	now       Clock

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewQueueSweeper(
	queue QueueStore,
	index QueueIndex,
	relay Relay,
	submitter MatchSubmitter,
	locker Locker,
	cfg SweeperConfig,
	logger *zap.Logger,
	now Clock,
) *QueueSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = 2 * time.Minute
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &QueueSweeper{
		queue:     queue,
		index:     index,
		relay:     relay,
		submitter: submitter,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		now:       now,
		stopChan:  make(chan struct{}),
	}
}

// Start 스위퍼 시작
func (s *QueueSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting QueueSweeper", zap.Duration("interval", s.cfg.Interval))

	s.wg.Add(1)
	go s.loop()
}

// Stop 스위퍼 중지
func (s *QueueSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("QueueSweeper stopped")
}

func (s *QueueSweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Queue sweep failed", zap.Error(err))
			}
			cancel()
		case <-s.stopChan:
			return
		}
	}
}

// SweepOnce 정리 한 번 실행
func (s *QueueSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, sweeperLockKey, s.cfg.Interval)
		if err != nil {
			return result, fmt.Errorf("failed to acquire sweeper lock: %w", err)
		}
		if !acquired {
			result.Skipped = true
			return result, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	now := s.now()

	// 1. 최대 대기 시간 초과 엔트리 timeout 처리
	expired, err := s.queue.ExpireOverdue(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to expire overdue entries: %w", err)
	}
	for _, entry := range expired {
		s.removeFromIndex(ctx, entry)
		s.publish(ctx, entry, EventQueueTimeout)
	}
	result.Expired = len(expired)

	// 2. 너무 오래 matching 에 머문 엔트리 복구
	recovered, err := s.queue.RecoverStuck(ctx, now.Add(-s.cfg.StuckTimeout))
	if err != nil {
		return result, fmt.Errorf("failed to recover stuck entries: %w", err)
	}
	result.Recovered = len(recovered)

	// 3. 대기 중인 엔트리 재시도
	if s.submitter != nil {
		waiting, err := s.queue.ListWaiting(ctx, s.cfg.Batch)
		if err != nil {
			return result, fmt.Errorf("failed to list waiting entries: %w", err)
		}
		for _, entry := range waiting {
			if err := s.submitter.Submit(entry.ID); err != nil {
				break
			}
			result.Resubmitted++
		}
	}

	if result.Expired > 0 || result.Recovered > 0 {
		s.logger.Info("Queue sweep completed",
			zap.Int("expired", result.Expired),
			zap.Int("recovered", result.Recovered),
			zap.Int("resubmitted", result.Resubmitted))
	}

	return result, nil
}

func (s *QueueSweeper) removeFromIndex(ctx context.Context, entry *models.QueueEntry) {
	if s.index == nil {
		return
	}
	if err := s.index.Remove(ctx, entry.Mode, entry.ID); err != nil {
		s.logger.Warn("Failed to remove expired entry from index", zap.String("entryId", entry.ID), zap.Error(err))
	}
}

func (s *QueueSweeper) publish(ctx context.Context, entry *models.QueueEntry, event string) {
	if s.relay == nil {
		return
	}
	payload := map[string]string{"queueId": entry.ID, "status": string(entry.Status)}
	if err := s.relay.Publish(ctx, QueueChannel(entry.ID), event, payload); err != nil {
		s.logger.Warn("Failed to publish queue event", zap.String("entryId", entry.ID), zap.Error(err))
	}
}
