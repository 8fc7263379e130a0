package models

import (
	"encoding/json"
	"time"
)

type MatchType string

const (
	MatchTypeRandom MatchType = "random"
	MatchTypeSkill  MatchType = "skill"
	MatchTypeGoal   MatchType = "goal"
	MatchTypeInvite MatchType = "invite"
)

type SessionStatus string

const (
	SessionStatusWaiting    SessionStatus = "waiting"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusEndedEarly SessionStatus = "ended_early"
	SessionStatusReported   SessionStatus = "reported"
)

// Open 아직 진행 중인 세션인지 (waiting, active, paused)
func (s SessionStatus) Open() bool {
	return s == SessionStatusWaiting || s == SessionStatusActive || s == SessionStatusPaused
}

type ParticipantRole string

const (
	RoleLearner      ParticipantRole = "learner"
	RoleTeacher      ParticipantRole = "teacher"
	RoleCollaborator ParticipantRole = "collaborator"
)

type Participant struct {
	UserID   string          `json:"userId" db:"user_id"`
	Role     ParticipantRole `json:"role" db:"role"`
	JoinedAt time.Time       `json:"joinedAt" db:"joined_at"`
	LeftAt   *time.Time      `json:"leftAt,omitempty" db:"left_at"`
}

// SessionAnalytics 협업 활동 집계
type SessionAnalytics struct {
	TotalCodeChanges int `json:"totalCodeChanges"`
	ChatMessages     int `json:"chatMessages"`
	ResourcesShared  int `json:"resourcesShared"`
	EngagementScore  int `json:"engagementScore"`
}

// ComputeEngagement 코드 변경 2점, 채팅 1점, 리소스 공유 3점
func (a SessionAnalytics) ComputeEngagement() int {
	return a.TotalCodeChanges*2 + a.ChatMessages + a.ResourcesShared*3
}

type Session struct {
	ID           string           `json:"id" db:"id"`
	RoomID       string           `json:"roomId" db:"room_id"`
	MatchType    MatchType        `json:"matchType" db:"match_type"`
	Participants []Participant    `json:"participants"`
	Status       SessionStatus    `json:"status" db:"status"`
	StartTime    *time.Time       `json:"startTime,omitempty" db:"start_time"`
	EndTime      *time.Time       `json:"endTime,omitempty" db:"end_time"`
	Duration     int              `json:"duration" db:"duration"` // 분
	Topic        string           `json:"topic,omitempty" db:"topic"`
	Goals        []string         `json:"goals" db:"goals"`
	Language     string           `json:"language,omitempty" db:"language"`
	Analytics    SessionAnalytics `json:"analytics"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" db:"updated_at"`
}

// Participant userID에 해당하는 참가자 (없으면 nil)
func (s *Session) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// HasParticipant 참가자 여부
func (s *Session) HasParticipant(userID string) bool {
	return s.Participant(userID) != nil
}

// OtherParticipants userID를 제외한 참가자
func (s *Session) OtherParticipants(userID string) []Participant {
	var others []Participant
	for _, p := range s.Participants {
		if p.UserID != userID {
			others = append(others, p)
		}
	}
	return others
}

// AllLeft 모든 참가자가 나갔는지
func (s *Session) AllLeft() bool {
	for _, p := range s.Participants {
		if p.LeftAt == nil {
			return false
		}
	}
	return true
}

// CollaborationKind 협업 이벤트 종류
type CollaborationKind string

const (
	CollabEditor     CollaborationKind = "editor"
	CollabTerminal   CollaborationKind = "terminal"
	CollabWhiteboard CollaborationKind = "whiteboard"
	CollabChat       CollaborationKind = "chat"
	CollabResource   CollaborationKind = "resource"
)

func (k CollaborationKind) Valid() bool {
	switch k {
	case CollabEditor, CollabTerminal, CollabWhiteboard, CollabChat, CollabResource:
		return true
	}
	return false
}

type CollaborationEvent struct {
	ID        int64             `json:"id" db:"id"`
	SessionID string            `json:"sessionId" db:"session_id"`
	UserID    string            `json:"userId" db:"user_id"`
	Kind      CollaborationKind `json:"type" db:"kind"`
	Payload   json.RawMessage   `json:"data" db:"payload"`
	CreatedAt time.Time         `json:"timestamp" db:"created_at"`
}

type SaveCollaborationRequest struct {
	Type CollaborationKind `json:"type" binding:"required"`
	Data json.RawMessage   `json:"data" binding:"required"`
}

type UpdateSessionRequest struct {
	Topic    *string   `json:"topic"`
	Goals    *[]string `json:"goals"`
	Language *string   `json:"language"`
}

// SessionHistoryFilter 히스토리 조회 조건
type SessionHistoryFilter struct {
	UserID   string
	Statuses []SessionStatus
	Limit    int
	Offset   int
}

type SessionPage struct {
	Sessions []*Session `json:"sessions"`
	Total    int        `json:"total"`
	Limit    int        `json:"limit"`
	Offset   int        `json:"offset"`
	HasMore  bool       `json:"hasMore"`
}
