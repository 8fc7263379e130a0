package service

import (
	"context"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

// 조회 메서드는 대상이 없으면 (nil, nil)을 반환한다.
// 조건부 갱신 메서드의 bool 결과는 실제로 행이 바뀌었는지를 뜻한다.

// CandidateFilter 매칭 후보 조회 조건
type CandidateFilter struct {
	Mode      models.QueueMode
	ExcludeID string
	// 하나라도 겹치면 후보 (비어 있으면 조건 없음)
	LanguagesAny []string
	GoalsAny     []string
	// 남은 대기 시간이 이 값 이상인 엔트리만 (0이면 조건 없음)
	MinRemaining time.Duration
	Now          time.Time
	Limit        int
}

// internal/repository.QueueRepository 가 구현
type QueueStore interface {
	// Insert 활성 엔트리가 이미 있으면 false
	Insert(ctx context.Context, entry *models.QueueEntry) (bool, error)
	FindByID(ctx context.Context, id string) (*models.QueueEntry, error)
	FindActiveByUser(ctx context.Context, userID string) (*models.QueueEntry, error)
	// FindCandidates waiting 상태 엔트리를 wait_start, id 오름차순으로 반환
	FindCandidates(ctx context.Context, f CandidateFilter) ([]*models.QueueEntry, error)
	UpdateStatusIfCurrent(ctx context.Context, id string, expected, next models.QueueStatus) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
	ListWaiting(ctx context.Context, limit int) ([]*models.QueueEntry, error)
	// ExpireOverdue 최대 대기 시간을 넘긴 waiting 엔트리를 timeout으로 바꾸고 반환
	ExpireOverdue(ctx context.Context, now time.Time) ([]*models.QueueEntry, error)
	// RecoverStuck olderThan 이전부터 matching인 엔트리를 waiting으로 되돌리고 반환
	RecoverStuck(ctx context.Context, olderThan time.Time) ([]*models.QueueEntry, error)
	CountWaiting(ctx context.Context, mode models.QueueMode) (int, error)
	// HasNewerMatching entry 보다 늦게 들어온 (wait_start, id 순) 같은 모드 엔트리가 matching 인지
	HasNewerMatching(ctx context.Context, entry *models.QueueEntry) (bool, error)
}

// MatchCommit 매칭 확정에 필요한 값
type MatchCommit struct {
	Session   *models.Session
	Requester *models.QueueEntry
	Partner   *models.QueueEntry
	Score     int
	MatchedAt time.Time
}

// MatchCommitter 세션 생성과 두 엔트리의 matched 전이를 한 번에 수행.
// 요청자가 matching, 상대가 waiting이 아니면 아무것도 쓰지 않고 false.
type MatchCommitter interface {
	CommitMatch(ctx context.Context, c MatchCommit) (bool, error)
}

// ProfileReader 매칭 점수 계산용 사용자 조회
type ProfileReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}

// internal/repository.UserRepository 가 구현
type UserStore interface {
	ProfileReader
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByIdentity(ctx context.Context, provider, providerUserID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdateAvailability(ctx context.Context, id string, availability models.Availability, at time.Time) error
	UpdateSettings(ctx context.Context, id string, settings models.UserSettings) error
	UpdateVerification(ctx context.Context, id string, v models.Verification) error
	UpsertIdentity(ctx context.Context, identity *models.Identity) error
	Search(ctx context.Context, q models.UserSearch) ([]*models.User, error)
	// ApplyFeedback 평점 평균/개수와 평판 점수를 원자적으로 갱신
	ApplyFeedback(ctx context.Context, userID string, rating, reputation int) (*models.UserStats, error)
	SetReputationLevel(ctx context.Context, userID string, level models.ReputationLevel) error
	AddSessionStats(ctx context.Context, userIDs []string, completed bool, minutes int) error
}

// internal/repository.SessionRepository 가 구현
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByRoomID(ctx context.Context, roomID string) (*models.Session, error)
	ListOpenByUser(ctx context.Context, userID string) ([]*models.Session, error)
	ListHistory(ctx context.Context, f models.SessionHistoryFilter) ([]*models.Session, int, error)
	// Activate waiting 세션을 active로 바꾸고 start_time 기록
	Activate(ctx context.Context, id string, at time.Time) (bool, error)
	UpdateStatusIfCurrent(ctx context.Context, id string, expected, next models.SessionStatus) (bool, error)
	MarkParticipantJoined(ctx context.Context, id, userID string, at time.Time) error
	MarkParticipantLeft(ctx context.Context, id, userID string, at time.Time) error
	RemoveParticipant(ctx context.Context, id, userID string) (int, error)
	// Finish 세션 종료 (completed, ended_early, reported)
	Finish(ctx context.Context, id string, status models.SessionStatus, end time.Time, durationMinutes int) (bool, error)
	UpdateDetails(ctx context.Context, id string, req models.UpdateSessionRequest) error
	SaveEvent(ctx context.Context, event *models.CollaborationEvent) error
	ListEvents(ctx context.Context, sessionID string, kind models.CollaborationKind) ([]*models.CollaborationEvent, error)
	Delete(ctx context.Context, id string) error
}

// internal/repository.FeedbackRepository 가 구현
type FeedbackStore interface {
	// Insert 같은 세션에서 같은 대상에게 이미 남겼으면 false
	Insert(ctx context.Context, f *models.Feedback) (bool, error)
	ListReceived(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error)
	ListGiven(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Feedback, error)
	Delete(ctx context.Context, id string) error
}

// QueueIndex 모드별 빠른 조회용 보조 인덱스 (권위 있는 저장소가 아님)
type QueueIndex interface {
	Push(ctx context.Context, mode models.QueueMode, entryID string) error
	Remove(ctx context.Context, mode models.QueueMode, entryID string) error
	Length(ctx context.Context, mode models.QueueMode) (int, error)
	// PositionOf 1부터 시작, 없으면 0
	PositionOf(ctx context.Context, mode models.QueueMode, entryID string) (int, error)
}

// Relay 세션/큐 구독자에게 이벤트 전달 (best-effort)
type Relay interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// Locker 인스턴스 간 상호 배제
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
}

// Clock 테스트에서 시간을 고정하기 위한 함수 타입
type Clock func() time.Time
