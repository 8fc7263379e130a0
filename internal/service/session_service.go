package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

// 세션 이벤트 이름
const (
	EventSessionAccepted   = "session:accepted"
	EventSessionDeclined   = "session:declined"
	EventParticipantJoined = "session:user-joined"
	EventParticipantLeft   = "session:user-left"
	EventSessionPaused     = "session:paused"
	EventSessionResumed    = "session:resumed"
	EventSessionUpdated    = "session:updated"
	EventSessionEnded      = "session:ended"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// closedStatuses 히스토리에 포함되는 종료 상태
var closedStatuses = []models.SessionStatus{
	models.SessionStatusCompleted,
	models.SessionStatusEndedEarly,
	models.SessionStatusReported,
}

// SessionAnalyticsView 세션 분석 응답
type SessionAnalyticsView struct {
	Analytics models.SessionAnalytics `json:"analytics"`
	Duration  int                     `json:"duration"`
}

type SessionService struct {
	sessions SessionStore
	users    UserStore
	relay    Relay
	logger   *zap.Logger
	now      Clock
}

func NewSessionService(sessions SessionStore, users UserStore, relay Relay, logger *zap.Logger, now Clock) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &SessionService{
		sessions: sessions,
		users:    users,
		relay:    relay,
		logger:   logger,
		now:      now,
	}
}

// Get 참가자만 조회 가능
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.loadForParticipant(ctx, userID, sessionID)
}

// GetByRoom roomId 로 조회
func (s *SessionService) GetByRoom(ctx context.Context, userID, roomID string) (*models.Session, error) {
	session, err := s.sessions.FindByRoomID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return session, nil
}

// ListActive 진행 중인 세션 (waiting, active, paused)
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	sessions, err := s.sessions.ListOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return sessions, nil
}

// Accept 매칭 수락. waiting 세션이면 active 로 시작
func (s *SessionService) Accept(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionStatusWaiting {
		if _, err := s.sessions.Activate(ctx, session.ID, s.now()); err != nil {
			return nil, fmt.Errorf("failed to activate session: %w", err)
		}
		if session, err = s.reload(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, SessionChannel(session.ID), EventSessionAccepted, participantEvent(session.ID, userID))
	return session, nil
}

// Decline 매칭 거절. 참가자가 모두 빠지면 ended_early
func (s *SessionService) Decline(ctx context.Context, userID, sessionID string) error {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Open() {
		return ErrInvalidSessionState
	}

	remaining, err := s.sessions.RemoveParticipant(ctx, session.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	if remaining == 0 {
		if _, err := s.sessions.Finish(ctx, session.ID, models.SessionStatusEndedEarly, s.now(), 0); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
	}

	payload := participantEvent(session.ID, userID)
	s.publish(ctx, SessionChannel(session.ID), EventSessionDeclined, payload)
	for _, p := range session.OtherParticipants(userID) {
		s.publish(ctx, UserChannel(p.UserID), EventSessionDeclined, payload)
	}

	s.logger.Info("Match declined", zap.String("sessionId", session.ID), zap.String("userId", userID))
	return nil
}

// Join 세션 입장. waiting 세션이면 시작
func (s *SessionService) Join(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.Open() {
		return nil, ErrInvalidSessionState
	}

	now := s.now()
	if err := s.sessions.MarkParticipantJoined(ctx, session.ID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to mark participant joined: %w", err)
	}
	if session.Status == models.SessionStatusWaiting {
		if _, err := s.sessions.Activate(ctx, session.ID, now); err != nil {
			return nil, fmt.Errorf("failed to activate session: %w", err)
		}
	}

	session, err = s.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, SessionChannel(session.ID), EventParticipantJoined, participantEvent(session.ID, userID))
	return session, nil
}

// Leave 세션 퇴장. 모두 나가면 completed 로 종료하고 참가자 통계 갱신
func (s *SessionService) Leave(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.sessions.MarkParticipantLeft(ctx, session.ID, userID, now); err != nil {
		return nil, fmt.Errorf("failed to mark participant left: %w", err)
	}

	session, err = s.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, SessionChannel(session.ID), EventParticipantLeft, participantEvent(session.ID, userID))

	if !session.AllLeft() || !session.Status.Open() {
		return session, nil
	}

	start := now
	if session.StartTime != nil {
		start = *session.StartTime
	}
	minutes := int(now.Sub(start) / time.Minute)

	finished, err := s.sessions.Finish(ctx, session.ID, models.SessionStatusCompleted, now, minutes)
	if err != nil {
		return nil, fmt.Errorf("failed to complete session: %w", err)
	}
	if !finished {
		// 다른 요청이 먼저 종료
		return s.reload(ctx, session.ID)
	}

	ids := make([]string, 0, len(session.Participants))
	for _, p := range session.Participants {
		ids = append(ids, p.UserID)
	}
	if err := s.users.AddSessionStats(ctx, ids, true, minutes); err != nil {
		s.logger.Warn("Failed to update session stats", zap.String("sessionId", session.ID), zap.Error(err))
	}

	s.publish(ctx, SessionChannel(session.ID), EventSessionEnded, map[string]interface{}{
		"sessionId": session.ID,
		"status":    models.SessionStatusCompleted,
		"duration":  minutes,
	})
	s.logger.Info("Session completed", zap.String("sessionId", session.ID), zap.Int("minutes", minutes))

	return s.reload(ctx, session.ID)
}

// Pause active -> paused
func (s *SessionService) Pause(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.transition(ctx, userID, sessionID, models.SessionStatusActive, models.SessionStatusPaused, EventSessionPaused)
}

// Resume paused -> active
func (s *SessionService) Resume(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	return s.transition(ctx, userID, sessionID, models.SessionStatusPaused, models.SessionStatusActive, EventSessionResumed)
}

func (s *SessionService) transition(
	ctx context.Context,
	userID, sessionID string,
	from, to models.SessionStatus,
	event string,
) (*models.Session, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != from {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidSessionState, session.Status)
	}

	ok, err := s.sessions.UpdateStatusIfCurrent(ctx, session.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	if !ok {
		return nil, ErrInvalidSessionState
	}
	session.Status = to

	s.publish(ctx, SessionChannel(session.ID), event, participantEvent(session.ID, userID))
	return session, nil
}

// Update 주제, 목표, 언어 변경
func (s *SessionService) Update(ctx context.Context, userID, sessionID string, req models.UpdateSessionRequest) (*models.Session, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.UpdateDetails(ctx, session.ID, req); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	session, err = s.reload(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, SessionChannel(session.ID), EventSessionUpdated, session)
	return session, nil
}

// SaveCollaboration 협업 이벤트 저장 (분석 카운터는 저장소가 함께 갱신)
func (s *SessionService) SaveCollaboration(
	ctx context.Context,
	userID, sessionID string,
	req models.SaveCollaborationRequest,
) (*models.CollaborationEvent, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: invalid collaboration type", ErrInvalidInput)
	}
	if !isJSONObject(req.Data) {
		return nil, fmt.Errorf("%w: data must be an object", ErrInvalidInput)
	}

	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	event := &models.CollaborationEvent{
		SessionID: session.ID,
		UserID:    userID,
		Kind:      req.Type,
		Payload:   req.Data,
		CreatedAt: s.now(),
	}
	if err := s.sessions.SaveEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to save collaboration event: %w", err)
	}
	return event, nil
}

// Collaboration 저장된 협업 이벤트 (kind 가 비어 있으면 전체)
func (s *SessionService) Collaboration(
	ctx context.Context,
	userID, sessionID string,
	kind models.CollaborationKind,
) ([]*models.CollaborationEvent, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: invalid collaboration type", ErrInvalidInput)
	}
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	events, err := s.sessions.ListEvents(ctx, session.ID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaboration events: %w", err)
	}
	if events == nil {
		events = []*models.CollaborationEvent{}
	}
	return events, nil
}

// Analytics 세션 분석 지표
func (s *SessionService) Analytics(ctx context.Context, userID, sessionID string) (*SessionAnalyticsView, error) {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionAnalyticsView{Analytics: session.Analytics, Duration: session.Duration}, nil
}

// History 종료된 세션 목록. status 가 비어 있으면 completed, ended_early, reported 전부
func (s *SessionService) History(
	ctx context.Context,
	userID string,
	status models.SessionStatus,
	limit, offset int,
) (*models.SessionPage, error) {
	statuses := closedStatuses
	if status != "" {
		if status.Open() || !isClosedStatus(status) {
			return nil, fmt.Errorf("%w: invalid status", ErrInvalidInput)
		}
		statuses = []models.SessionStatus{status}
	}
	return s.history(ctx, userID, statuses, limit, offset)
}

// MatchHistory 매칭 기록 (completed, ended_early)
func (s *SessionService) MatchHistory(ctx context.Context, userID string, limit, offset int) (*models.SessionPage, error) {
	return s.history(ctx, userID,
		[]models.SessionStatus{models.SessionStatusCompleted, models.SessionStatusEndedEarly}, limit, offset)
}

func (s *SessionService) history(
	ctx context.Context,
	userID string,
	statuses []models.SessionStatus,
	limit, offset int,
) (*models.SessionPage, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 1 || limit > maxHistoryLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, maxHistoryLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must be non-negative", ErrInvalidInput)
	}

	sessions, total, err := s.sessions.ListHistory(ctx, models.SessionHistoryFilter{
		UserID:   userID,
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list session history: %w", err)
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	return &models.SessionPage{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		HasMore:  offset+len(sessions) < total,
	}, nil
}

// Delete 종료된 세션만 삭제 가능
func (s *SessionService) Delete(ctx context.Context, userID, sessionID string) error {
	session, err := s.loadForParticipant(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Open() {
		return fmt.Errorf("%w: cannot delete an open session", ErrInvalidSessionState)
	}
	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// IsParticipant 웹소켓 room 입장 권한 확인용
func (s *SessionService) IsParticipant(ctx context.Context, userID, sessionID string) (bool, error) {
	_, err := s.loadForParticipant(ctx, userID, sessionID)
	switch {
	case err == nil:
		return true, nil
	case isAny(err, ErrSessionNotFound, ErrNotParticipant):
		return false, nil
	default:
		return false, err
	}
}

func (s *SessionService) loadForParticipant(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return session, nil
}

func (s *SessionService) reload(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, channel, event string, payload interface{}) {
	if s.relay == nil {
		return
	}
	if err := s.relay.Publish(ctx, channel, event, payload); err != nil {
		s.logger.Warn("Failed to publish session event",
			zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}

func participantEvent(sessionID, userID string) map[string]string {
	return map[string]string{"sessionId": sessionID, "userId": userID}
}

func isClosedStatus(status models.SessionStatus) bool {
	for _, s := range closedStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &obj) == nil && obj != nil
}
