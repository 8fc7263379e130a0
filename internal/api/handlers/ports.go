package handlers

import (
	"context"
	"encoding/json"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
)

// 핸들러가 쓰는 서비스 메서드. 구현은 internal/service 의 각 서비스

type AuthAPI interface {
	Providers() []string
	AuthCodeURL(provider, state string) (string, error)
	Callback(ctx context.Context, provider, code string) (*service.LoginResult, error)
	VerificationStatus(ctx context.Context, userID string) (*models.Verification, error)
}

type UserAPI interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetPublic(ctx context.Context, id string) (*models.PublicProfile, error)
	UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) (*models.User, error)
	Search(ctx context.Context, q models.UserSearch) ([]models.PublicProfile, error)
	SetAvailability(ctx context.Context, id string, update models.AvailabilityUpdate) (*models.Availability, error)
	Stats(ctx context.Context, id string) (*models.UserStats, error)
	UpdateSettings(ctx context.Context, id string, patch json.RawMessage) (*models.UserSettings, error)
}

type QueueAPI interface {
	Enqueue(ctx context.Context, userID string, mode models.QueueMode, params models.QueueParams) (*service.EnqueueResult, error)
	Dequeue(ctx context.Context, userID string) (*models.QueueEntry, error)
	Status(ctx context.Context, userID string) (*models.QueueStatusView, error)
	Heartbeat(ctx context.Context, userID string) (*models.QueueEntry, error)
	EstimateWait(ctx context.Context, mode models.QueueMode) (int, error)
	PositionInQueue(ctx context.Context, entryID string) (int, error)
	Stats(ctx context.Context) ([]service.QueueModeStats, error)
}

type SessionAPI interface {
	Get(ctx context.Context, userID, sessionID string) (*models.Session, error)
	GetByRoom(ctx context.Context, userID, roomID string) (*models.Session, error)
	ListActive(ctx context.Context, userID string) ([]*models.Session, error)
	Accept(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Decline(ctx context.Context, userID, sessionID string) error
	Join(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Leave(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Pause(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Resume(ctx context.Context, userID, sessionID string) (*models.Session, error)
	Update(ctx context.Context, userID, sessionID string, req models.UpdateSessionRequest) (*models.Session, error)
	SaveCollaboration(ctx context.Context, userID, sessionID string, req models.SaveCollaborationRequest) (*models.CollaborationEvent, error)
	Collaboration(ctx context.Context, userID, sessionID string, kind models.CollaborationKind) ([]*models.CollaborationEvent, error)
	Analytics(ctx context.Context, userID, sessionID string) (*service.SessionAnalyticsView, error)
	History(ctx context.Context, userID string, status models.SessionStatus, limit, offset int) (*models.SessionPage, error)
	MatchHistory(ctx context.Context, userID string, limit, offset int) (*models.SessionPage, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

type FeedbackAPI interface {
	Submit(ctx context.Context, fromUserID, sessionID string, req models.SubmitFeedbackRequest) (*models.Feedback, error)
	Received(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error)
	Given(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error)
	ForSession(ctx context.Context, userID, sessionID string) ([]*models.Feedback, error)
}
