package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

// dequeue 시 waiting <-> matching 경합으로 CAS 가 실패하면 재시도하는 횟수
const dequeueAttempts = 5

// EnqueueResult Existing=true 면 이미 활성 엔트리가 있어 그 엔트리를 돌려준 것
type EnqueueResult struct {
	Entry    *models.QueueEntry
	Existing bool
}

// QueueModeStats 모드별 대기열 현황
type QueueModeStats struct {
	Mode          models.QueueMode `json:"mode"`
	Waiting       int              `json:"waiting"`
	IndexLength   int              `json:"indexLength"`
	EstimatedWait int              `json:"estimatedWait"`
}

// QueueService 큐 참가/이탈/상태 조회와 비동기 매칭 트리거
type QueueService struct {
	queue     QueueStore
	index     QueueIndex
	engine    *MatchingEngine
	submitter MatchSubmitter
	relay     Relay
	logger    *zap.Logger
	now       Clock
}

func NewQueueService(
	queue QueueStore,
	index QueueIndex,
	engine *MatchingEngine,
	submitter MatchSubmitter,
	relay Relay,
	logger *zap.Logger,
	now Clock,
) *QueueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &QueueService{
		queue:     queue,
		index:     index,
		engine:    engine,
		submitter: submitter,
		relay:     relay,
		logger:    logger,
		now:       now,
	}
}

// Enqueue 큐 참가. 이미 활성 엔트리가 있으면 새로 만들지 않고 그 엔트리를 반환
func (s *QueueService) Enqueue(ctx context.Context, userID string, mode models.QueueMode, params models.QueueParams) (*EnqueueResult, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if mode == "" {
		mode = models.QueueModeRandom
	}
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	existing, err := s.queue.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active entry: %w", err)
	}
	if existing != nil {
		return &EnqueueResult{Entry: existing, Existing: true}, nil
	}

	now := s.now()
	entry := &models.QueueEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Mode:      mode,
		Params:    params.Normalize(),
		Status:    models.QueueStatusWaiting,
		WaitStart: now,
		Heartbeat: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := s.queue.Insert(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	if !inserted {
		// 동시 참가 요청에서 다른 요청이 먼저 삽입
		existing, err := s.queue.FindActiveByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load active entry: %w", err)
		}
		if existing == nil {
			return nil, ErrActiveEntryExists
		}
		return &EnqueueResult{Entry: existing, Existing: true}, nil
	}

	if s.index != nil {
		if err := s.index.Push(ctx, entry.Mode, entry.ID); err != nil {
			s.logger.Warn("Failed to push entry to index", zap.String("entryId", entry.ID), zap.Error(err))
		}
	}

	s.logger.Info("User joined queue",
		zap.String("userId", userID),
		zap.String("entryId", entry.ID),
		zap.String("mode", string(mode)))

	s.AttemptMatch(entry.ID)

	return &EnqueueResult{Entry: entry}, nil
}

// Dequeue 활성 엔트리를 cancelled 로 전환. 활성 엔트리가 없으면 (nil, nil)
//
// 진행 중인 매칭 시도는 확정 직전 재확인에서 실패하므로 엔트리는 cancelled 로 남는다.
func (s *QueueService) Dequeue(ctx context.Context, userID string) (*models.QueueEntry, error) {
	for attempt := 0; attempt < dequeueAttempts; attempt++ {
		entry, err := s.queue.FindActiveByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to find active entry: %w", err)
		}
		if entry == nil {
			return nil, nil
		}

		ok, err := s.queue.UpdateStatusIfCurrent(ctx, entry.ID, entry.Status, models.QueueStatusCancelled)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel entry: %w", err)
		}
		if !ok {
			continue
		}

		entry.Status = models.QueueStatusCancelled
		if s.index != nil {
			if err := s.index.Remove(ctx, entry.Mode, entry.ID); err != nil {
				s.logger.Warn("Failed to remove entry from index", zap.String("entryId", entry.ID), zap.Error(err))
			}
		}
		s.publish(ctx, QueueChannel(entry.ID), EventQueueLeft, map[string]string{"queueId": entry.ID})

		s.logger.Info("User left queue", zap.String("userId", userID), zap.String("entryId", entry.ID))
		return entry, nil
	}

	return nil, fmt.Errorf("%w: entry kept changing state", ErrInvalidTransition)
}

// AttemptMatch 매칭 시도를 디스패처에 넘기고 바로 반환 (fire-and-forget)
func (s *QueueService) AttemptMatch(entryID string) {
	if s.submitter == nil {
		return
	}
	if err := s.submitter.Submit(entryID); err != nil {
		// 스위퍼가 주기적으로 다시 제출
		s.logger.Warn("Failed to submit match attempt", zap.String("entryId", entryID), zap.Error(err))
	}
}

// EstimateWait 모드별 예상 대기 시간 (초)
func (s *QueueService) EstimateWait(ctx context.Context, mode models.QueueMode) (int, error) {
	if !mode.Valid() {
		return 0, ErrInvalidMode
	}
	return s.engine.EstimateWaitTime(ctx, mode)
}

// PositionInQueue 엔트리의 대기 순번 (1부터, 인덱스에 없으면 0)
func (s *QueueService) PositionInQueue(ctx context.Context, entryID string) (int, error) {
	entry, err := s.queue.FindByID(ctx, entryID)
	if err != nil {
		return 0, fmt.Errorf("failed to load queue entry: %w", err)
	}
	if entry == nil {
		return 0, ErrQueueEntryNotFound
	}
	return s.engine.PositionInQueue(ctx, entry), nil
}

// OwnsEntry 웹소켓 queue 구독 권한 확인용
func (s *QueueService) OwnsEntry(ctx context.Context, userID, entryID string) (bool, error) {
	entry, err := s.queue.FindByID(ctx, entryID)
	if err != nil {
		return false, fmt.Errorf("failed to load queue entry: %w", err)
	}
	return entry != nil && entry.UserID == userID, nil
}

// Status 사용자의 활성 엔트리와 순번, 예상 대기 시간
func (s *QueueService) Status(ctx context.Context, userID string) (*models.QueueStatusView, error) {
	entry, err := s.queue.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active entry: %w", err)
	}
	if entry == nil {
		return &models.QueueStatusView{InQueue: false}, nil
	}

	wait, err := s.engine.EstimateWaitTime(ctx, entry.Mode)
	if err != nil {
		s.logger.Warn("Failed to estimate wait time", zap.String("entryId", entry.ID), zap.Error(err))
	}

	return &models.QueueStatusView{
		InQueue:       true,
		Entry:         entry,
		Position:      s.engine.PositionInQueue(ctx, entry),
		EstimatedWait: wait,
	}, nil
}

// Heartbeat 활성 엔트리의 마지막 확인 시각 갱신
func (s *QueueService) Heartbeat(ctx context.Context, userID string) (*models.QueueEntry, error) {
	entry, err := s.queue.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active entry: %w", err)
	}
	if entry == nil {
		return nil, ErrQueueEntryNotFound
	}

	now := s.now()
	ok, err := s.queue.Touch(ctx, entry.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update heartbeat: %w", err)
	}
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	entry.Heartbeat = now
	return entry, nil
}

// Stats 모드별 대기 현황
func (s *QueueService) Stats(ctx context.Context) ([]QueueModeStats, error) {
	stats := make([]QueueModeStats, 0, len(models.QueueModes))
	for _, mode := range models.QueueModes {
		waiting, err := s.queue.CountWaiting(ctx, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s entries: %w", mode, err)
		}
		st := QueueModeStats{Mode: mode, Waiting: waiting}
		if s.index != nil {
			if n, err := s.index.Length(ctx, mode); err == nil {
				st.IndexLength = n
			}
		}
		if wait, err := s.engine.EstimateWaitTime(ctx, mode); err == nil {
			st.EstimatedWait = wait
		}
		stats = append(stats, st)
	}
	return stats, nil
}

func (s *QueueService) publish(ctx context.Context, channel, event string, payload interface{}) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Publish(ctx, channel, event, payload); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}
