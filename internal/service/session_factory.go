package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

// 실시간 이벤트 이름
const (
	EventMatchFound   = "match:found"
	EventQueueTimeout = "queue:timeout"
	EventQueueLeft    = "queue:left"
)

// QueueChannel 큐 엔트리 구독 채널
func QueueChannel(entryID string) string { return "queue:" + entryID }

// SessionChannel 세션 참가자 채널
func SessionChannel(sessionID string) string { return "session:" + sessionID }

// UserChannel 사용자 개인 채널
func UserChannel(userID string) string { return "user:" + userID }

// MatchFoundPayload match:found 이벤트 본문
type MatchFoundPayload struct {
	EntryID     string   `json:"queueId"`
	SessionID   string   `json:"sessionId"`
	RoomID      string   `json:"roomId"`
	MatchedWith []string `json:"matchedWith"`
	Score       int      `json:"score"`
}

// SessionFactory 매칭된 두 엔트리로 세션을 만들고 두 엔트리를 matched 로 확정
type SessionFactory struct {
	commits MatchCommitter
	index   QueueIndex
	relay   Relay
	logger  *zap.Logger
	now     Clock
}

func NewSessionFactory(commits MatchCommitter, index QueueIndex, relay Relay, logger *zap.Logger, now Clock) *SessionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionFactory{
		commits: commits,
		index:   index,
		relay:   relay,
		logger:  logger,
		now:     now,
	}
}

// NewRoomID 128비트 난수를 hex 로 인코딩한 방 ID
func NewRoomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate room id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create requester(matching)와 partner(waiting)로 세션 생성
//
// 커밋 직전 두 엔트리 상태를 저장소에서 다시 확인하며, 어느 한쪽이라도
// 자격을 잃었으면 아무것도 쓰지 않고 ErrStaleMatch 를 반환한다.
// 인덱스 제거와 알림은 커밋 이후 best-effort 로 수행한다.
func (f *SessionFactory) Create(
	ctx context.Context,
	requester, partner *models.QueueEntry,
	score int,
) (*models.Session, error) {
	roomID, err := NewRoomID()
	if err != nil {
		return nil, err
	}

	now := f.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		MatchType: models.MatchType(requester.Mode),
		Participants: []models.Participant{
			{UserID: requester.UserID, Role: models.RoleCollaborator, JoinedAt: now},
			{UserID: partner.UserID, Role: models.RoleCollaborator, JoinedAt: now},
		},
		Status:    models.SessionStatusWaiting,
		Goals:     append([]string{}, requester.Params.Goals...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(requester.Params.Languages) > 0 {
		session.Language = requester.Params.Languages[0]
	}

	committed, err := f.commits.CommitMatch(ctx, MatchCommit{
		Session:   session,
		Requester: requester,
		Partner:   partner,
		Score:     score,
		MatchedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit match: %w", err)
	}
	if !committed {
		return nil, ErrStaleMatch
	}

	requester.Status = models.QueueStatusMatched
	requester.Match = &models.QueueMatch{
		SessionID:   session.ID,
		MatchedWith: []string{partner.UserID},
		Score:       score,
		MatchedAt:   now,
	}
	partner.Status = models.QueueStatusMatched
	partner.Match = &models.QueueMatch{
		SessionID:   session.ID,
		MatchedWith: []string{requester.UserID},
		Score:       score,
		MatchedAt:   now,
	}

	f.removeFromIndex(ctx, requester)
	f.removeFromIndex(ctx, partner)
	f.notify(ctx, requester, session)
	f.notify(ctx, partner, session)

	return session, nil
}

func (f *SessionFactory) removeFromIndex(ctx context.Context, entry *models.QueueEntry) {
	if f.index == nil {
		return
	}
	if err := f.index.Remove(ctx, entry.Mode, entry.ID); err != nil {
		f.logger.Warn("Failed to remove matched entry from index",
			zap.String("entryId", entry.ID), zap.Error(err))
	}
}

func (f *SessionFactory) notify(ctx context.Context, entry *models.QueueEntry, session *models.Session) {
	if f.relay == nil {
		return
	}
	payload := MatchFoundPayload{
		EntryID:     entry.ID,
		SessionID:   session.ID,
		RoomID:      session.RoomID,
		MatchedWith: entry.Match.MatchedWith,
		Score:       entry.Match.Score,
	}
	if err := f.relay.Publish(ctx, QueueChannel(entry.ID), EventMatchFound, payload); err != nil {
		f.logger.Warn("Failed to publish match event",
			zap.String("entryId", entry.ID), zap.Error(err))
	}
}
