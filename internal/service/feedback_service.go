package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

const (
	EventFeedbackReceived = "feedback:received"

	defaultFeedbackLimit = 20
	maxFeedbackLimit     = 100
)

// FeedbackService 세션 종료 후 상호 평가와 평판 계산
type FeedbackService struct {
	feedback FeedbackStore
	sessions SessionStore
	users    UserStore
	relay    Relay
	logger   *zap.Logger
	now      Clock
}

func NewFeedbackService(
	feedback FeedbackStore,
	sessions SessionStore,
	users UserStore,
	relay Relay,
	logger *zap.Logger,
	now Clock,
) *FeedbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &FeedbackService{
		feedback: feedback,
		sessions: sessions,
		users:    users,
		relay:    relay,
		logger:   logger,
		now:      now,
	}
}

// Submit 세션 상대에게 피드백 제출
//
// 대상이 비어 있으면 유일한 상대 참가자로 정한다. 같은 세션에서 같은 대상에게는 한 번만 가능하다.
func (s *FeedbackService) Submit(
	ctx context.Context,
	fromUserID, sessionID string,
	req models.SubmitFeedbackRequest,
) (*models.Feedback, error) {
	rating := models.DefaultFeedbackRating
	if req.Rating != nil {
		rating = *req.Rating
	}
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.HasParticipant(fromUserID) {
		return nil, ErrNotParticipant
	}
	if session.Status == models.SessionStatusWaiting {
		return nil, fmt.Errorf("%w: session has not started", ErrInvalidSessionState)
	}

	toUserID, err := feedbackTarget(session, fromUserID, req.ToUserID)
	if err != nil {
		return nil, err
	}

	fb := &models.Feedback{
		ID:                uuid.NewString(),
		SessionID:         session.ID,
		FromUserID:        fromUserID,
		ToUserID:          toUserID,
		Rating:            rating,
		Comments:          strings.TrimSpace(req.Comments),
		SkillsEndorsed:    req.SkillsEndorsed,
		WouldConnectAgain: req.WouldConnectAgain,
		Reported:          req.Reported,
		ReportReason:      strings.TrimSpace(req.ReportReason),
		CreatedAt:         s.now(),
	}
	if fb.SkillsEndorsed == nil {
		fb.SkillsEndorsed = []string{}
	}

	inserted, err := s.feedback.Insert(ctx, fb)
	if err != nil {
		return nil, fmt.Errorf("failed to save feedback: %w", err)
	}
	if !inserted {
		return nil, ErrFeedbackExists
	}

	if err := s.applyReputation(ctx, fb); err != nil {
		// 평점이 반영되지 않았으므로 피드백도 지워 재시도할 수 있게 한다
		if derr := s.feedback.Delete(context.WithoutCancel(ctx), fb.ID); derr != nil {
			s.logger.Error("Failed to roll back feedback",
				zap.String("feedbackId", fb.ID), zap.Error(derr))
		}
		return nil, err
	}

	if fb.Reported {
		if _, err := s.sessions.Finish(ctx, session.ID, models.SessionStatusReported, s.now(), session.Duration); err != nil {
			return nil, fmt.Errorf("failed to mark session reported: %w", err)
		}
		s.logger.Warn("Session reported",
			zap.String("sessionId", session.ID),
			zap.String("from", fromUserID),
			zap.String("to", toUserID))
	}

	if s.relay != nil {
		payload := map[string]interface{}{"sessionId": session.ID, "from": fromUserID, "rating": rating}
		if err := s.relay.Publish(ctx, UserChannel(toUserID), EventFeedbackReceived, payload); err != nil {
			s.logger.Warn("Failed to publish feedback event", zap.String("to", toUserID), zap.Error(err))
		}
	}

	return fb, nil
}

// applyReputation 평점 평균, 평판 점수, 레벨 갱신.
// 레벨은 점수에서 다시 계산되는 값이라 저장 실패는 로그만 남기고 다음 피드백 때 맞춰진다.
func (s *FeedbackService) applyReputation(ctx context.Context, fb *models.Feedback) error {
	stats, err := s.users.ApplyFeedback(ctx, fb.ToUserID, fb.Rating, fb.ReputationGain())
	if err != nil {
		return fmt.Errorf("failed to apply feedback to user stats: %w", err)
	}
	if stats == nil {
		return ErrUserNotFound
	}

	level := models.ReputationLevelFor(stats.ReputationPoints)
	if level == stats.ReputationLevel {
		return nil
	}
	if err := s.users.SetReputationLevel(ctx, fb.ToUserID, level); err != nil {
		s.logger.Warn("Failed to update reputation level",
			zap.String("userId", fb.ToUserID), zap.String("level", string(level)), zap.Error(err))
		return nil
	}
	s.logger.Info("Reputation level changed",
		zap.String("userId", fb.ToUserID),
		zap.String("from", string(stats.ReputationLevel)),
		zap.String("to", string(level)))
	return nil
}

// Received 내가 받은 피드백
func (s *FeedbackService) Received(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	limit, offset, err := feedbackPage(limit, offset)
	if err != nil {
		return nil, err
	}
	list, err := s.feedback.ListReceived(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list received feedback: %w", err)
	}
	return nonNilFeedback(list), nil
}

// Given 내가 남긴 피드백
func (s *FeedbackService) Given(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	limit, offset, err := feedbackPage(limit, offset)
	if err != nil {
		return nil, err
	}
	list, err := s.feedback.ListGiven(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list given feedback: %w", err)
	}
	return nonNilFeedback(list), nil
}

// ForSession 세션 참가자만 조회 가능
func (s *FeedbackService) ForSession(ctx context.Context, userID, sessionID string) ([]*models.Feedback, error) {
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

	list, err := s.feedback.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session feedback: %w", err)
	}
	return nonNilFeedback(list), nil
}

func feedbackTarget(session *models.Session, fromUserID, requested string) (string, error) {
	if requested == "" {
		others := session.OtherParticipants(fromUserID)
		if len(others) != 1 {
			return "", fmt.Errorf("%w: feedback target is required", ErrInvalidInput)
		}
		return others[0].UserID, nil
	}
	if requested == fromUserID {
		return "", fmt.Errorf("%w: cannot rate yourself", ErrInvalidInput)
	}
	if !session.HasParticipant(requested) {
		return "", fmt.Errorf("%w: target is not a participant", ErrInvalidInput)
	}
	return requested, nil
}

func feedbackPage(limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = defaultFeedbackLimit
	}
	if limit < 1 || limit > maxFeedbackLimit || offset < 0 {
		return 0, 0, ErrInvalidInput
	}
	return limit, offset, nil
}

func nonNilFeedback(list []*models.Feedback) []*models.Feedback {
	if list == nil {
		return []*models.Feedback{}
	}
	return list
}
