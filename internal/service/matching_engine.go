package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

const (
	// 한 번의 시도에서 평가하는 최대 후보 수
	candidateLimit = 10
	// random 모드 후보가 가져야 하는 최소 남은 대기 시간
	minRemainingForRandom = 60 * time.Second
	// 대기 인원 1명당 예상 대기 시간
	waitPerEntry = 30 * time.Second
)

// MatchOutcome 매칭 시도 결과 (Matched=false 면 엔트리는 다시 waiting)
type MatchOutcome struct {
	Matched bool
	Session *models.Session
	Partner *models.QueueEntry
	Score   int
}

type candidate struct {
	entry *models.QueueEntry
	score int
}

// MatchingEngine 엔트리 하나에 대한 매칭 시도와 waiting -> matching -> matched|waiting 전이를 담당
type MatchingEngine struct {
	queue   QueueStore
	users   ProfileReader
	factory *SessionFactory
	index   QueueIndex
	logger  *zap.Logger
	now     Clock
}

type EngineOption func(*MatchingEngine)

// WithEngineClock 현재 시각 함수 교체
func WithEngineClock(c Clock) EngineOption {
	return func(e *MatchingEngine) { e.now = c }
}

func NewMatchingEngine(
	queue QueueStore,
	users ProfileReader,
	factory *SessionFactory,
	index QueueIndex,
	logger *zap.Logger,
	opts ...EngineOption,
) *MatchingEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &MatchingEngine{
		queue:   queue,
		users:   users,
		factory: factory,
		index:   index,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttemptMatch 엔트리 하나에 대해 매칭을 시도
//
// waiting 이 아닌 엔트리나 다른 시도가 먼저 matching 으로 바꾼 엔트리는 아무것도 하지 않는다.
// 매칭이 없거나 실패하면 matching -> waiting 으로 되돌린다.
//
// 두 엔트리가 동시에 matching 이면 서로를 후보로 보지 못한다. 이때 먼저 들어온 쪽만
// ErrMatchContended 를 받아 재시도하고 늦게 들어온 쪽은 매칭 없음으로 끝난다.
func (e *MatchingEngine) AttemptMatch(ctx context.Context, entryID string) (*MatchOutcome, error) {
	entry, err := e.queue.FindByID(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue entry: %w", err)
	}
	if entry == nil {
		return nil, ErrQueueEntryNotFound
	}
	if entry.Status != models.QueueStatusWaiting {
		return &MatchOutcome{}, nil
	}

	// 재진입 가드: 원자적 CAS 로 matching 선점
	acquired, err := e.queue.UpdateStatusIfCurrent(ctx, entry.ID, models.QueueStatusWaiting, models.QueueStatusMatching)
	if err != nil {
		return nil, fmt.Errorf("failed to mark entry as matching: %w", err)
	}
	if !acquired {
		e.logger.Debug("Entry already taken by another attempt", zap.String("entryId", entry.ID))
		return &MatchOutcome{}, nil
	}
	entry.Status = models.QueueStatusMatching

	best, err := e.findCandidate(ctx, entry)
	if err != nil {
		e.revert(ctx, entry)
		return nil, err
	}
	if best == nil {
		contended, err := e.queue.HasNewerMatching(ctx, entry)
		e.revert(ctx, entry)
		if err != nil {
			return nil, err
		}
		if contended {
			return nil, ErrMatchContended
		}
		return &MatchOutcome{}, nil
	}

	session, err := e.factory.Create(ctx, entry, best.entry, best.score)
	if err != nil {
		e.revert(ctx, entry)
		return nil, err
	}

	e.logger.Info("Match created",
		zap.String("entryId", entry.ID),
		zap.String("partnerEntryId", best.entry.ID),
		zap.String("sessionId", session.ID),
		zap.String("mode", string(entry.Mode)),
		zap.Int("score", best.score))

	return &MatchOutcome{
		Matched: true,
		Session: session,
		Partner: best.entry,
		Score:   best.score,
	}, nil
}

// findCandidate 모드별 전략으로 최고 점수 후보 선택 (없으면 nil)
func (e *MatchingEngine) findCandidate(ctx context.Context, entry *models.QueueEntry) (*candidate, error) {
	switch entry.Mode {
	case models.QueueModeRandom:
		return e.findRandom(ctx, entry)
	case models.QueueModeSkill:
		if len(entry.Params.Languages) == 0 {
			return nil, nil
		}
		return e.findScored(ctx, entry, CandidateFilter{LanguagesAny: entry.Params.Languages},
			func(me, other *models.User) int {
				return SkillSimilarity(me, other, entry.Params.Languages)
			})
	case models.QueueModeGoal:
		if len(entry.Params.Goals) == 0 {
			return nil, nil
		}
		return e.findScored(ctx, entry, CandidateFilter{GoalsAny: entry.Params.Goals},
			func(me, other *models.User) int {
				return GoalCompatibility(me, other, entry.Params.Goals)
			})
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, entry.Mode)
	}
}

// findRandom 남은 대기 시간이 충분한 가장 오래된 엔트리 (FIFO)
func (e *MatchingEngine) findRandom(ctx context.Context, entry *models.QueueEntry) (*candidate, error) {
	entries, err := e.queue.FindCandidates(ctx, CandidateFilter{
		Mode:         models.QueueModeRandom,
		ExcludeID:    entry.ID,
		MinRemaining: minRemainingForRandom,
		Now:          e.now(),
		Limit:        1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find random candidates: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &candidate{entry: entries[0], score: RandomMatchScore}, nil
}

// findScored 후보마다 점수를 계산해 임계값 이상 중 최고점 선택.
// 후보는 오래 기다린 순으로 오고 더 높은 점수만 교체하므로 동점이면 오래 기다린 쪽이 이긴다.
func (e *MatchingEngine) findScored(
	ctx context.Context,
	entry *models.QueueEntry,
	filter CandidateFilter,
	score func(me, other *models.User) int,
) (*candidate, error) {
	me, err := e.users.FindByID(ctx, entry.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requester profile: %w", err)
	}
	if me == nil {
		return nil, nil
	}

	filter.Mode = entry.Mode
	filter.ExcludeID = entry.ID
	filter.Now = e.now()
	filter.Limit = candidateLimit

	entries, err := e.queue.FindCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s candidates: %w", entry.Mode, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(entries))
	for _, c := range entries {
		ids = append(ids, c.UserID)
	}
	profiles, err := e.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate profiles: %w", err)
	}

	var best *candidate
	for _, c := range entries {
		other, ok := profiles[c.UserID]
		if !ok || other == nil {
			continue
		}
		s := score(me, other)
		if s < MatchThreshold {
			continue
		}
		if best == nil || s > best.score {
			best = &candidate{entry: c, score: s}
		}
	}
	return best, nil
}

// revert matching -> waiting. 그 사이 취소된 엔트리는 그대로 둔다.
func (e *MatchingEngine) revert(ctx context.Context, entry *models.QueueEntry) {
	ctx = context.WithoutCancel(ctx)

	ok, err := e.queue.UpdateStatusIfCurrent(ctx, entry.ID, models.QueueStatusMatching, models.QueueStatusWaiting)
	if err != nil {
		// 스위퍼가 stuck 엔트리로 복구
		e.logger.Error("Failed to revert entry to waiting",
			zap.String("entryId", entry.ID), zap.Error(err))
		return
	}
	if !ok {
		e.logger.Debug("Entry left matching state during attempt", zap.String("entryId", entry.ID))
		return
	}
	entry.Status = models.QueueStatusWaiting
}

// EstimateWaitTime 모드별 예상 대기 시간 (초) = 대기 인원 * 30초
func (e *MatchingEngine) EstimateWaitTime(ctx context.Context, mode models.QueueMode) (int, error) {
	n, err := e.queueLength(ctx, mode)
	if err != nil {
		return 0, err
	}
	return n * int(waitPerEntry/time.Second), nil
}

// queueLength 인덱스 길이, 인덱스를 쓸 수 없으면 저장소의 waiting 수
func (e *MatchingEngine) queueLength(ctx context.Context, mode models.QueueMode) (int, error) {
	if e.index != nil {
		n, err := e.index.Length(ctx, mode)
		if err == nil {
			return n, nil
		}
		e.logger.Warn("Queue index unavailable, falling back to store count",
			zap.String("mode", string(mode)), zap.Error(err))
	}
	n, err := e.queue.CountWaiting(ctx, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return n, nil
}

// PositionInQueue 인덱스 내 1부터 시작하는 위치 (없거나 인덱스를 쓸 수 없으면 0)
func (e *MatchingEngine) PositionInQueue(ctx context.Context, entry *models.QueueEntry) int {
	if e.index == nil || entry == nil {
		return 0
	}
	pos, err := e.index.PositionOf(ctx, entry.Mode, entry.ID)
	if err != nil {
		e.logger.Warn("Failed to read queue position",
			zap.String("entryId", entry.ID), zap.Error(err))
		return 0
	}
	return pos
}
