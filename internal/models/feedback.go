package models

import "time"

const (
	// 피드백을 받을 때마다 쌓이는 평판 점수
	ReputationPerFeedback = 10
	// 4점 이상 평가에 추가되는 보너스
	ReputationHighRatingBonus = 5
	DefaultFeedbackRating     = 5
)

type Feedback struct {
	ID                string    `json:"id" db:"id"`
	SessionID         string    `json:"sessionId" db:"session_id"`
	FromUserID        string    `json:"from" db:"from_user"`
	ToUserID          string    `json:"to" db:"to_user"`
	Rating            int       `json:"rating" db:"rating"`
	Comments          string    `json:"comments,omitempty" db:"comments"`
	SkillsEndorsed    []string  `json:"skillsEndorsed" db:"skills_endorsed"`
	WouldConnectAgain bool      `json:"wouldConnectAgain" db:"would_connect_again"`
	Reported          bool      `json:"reported" db:"reported"`
	ReportReason      string    `json:"reportReason,omitempty" db:"report_reason"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
}

// ReputationGain 이 피드백으로 대상자가 얻는 평판 점수
func (f *Feedback) ReputationGain() int {
	if f.Rating >= 4 {
		return ReputationPerFeedback + ReputationHighRatingBonus
	}
	return ReputationPerFeedback
}

type SubmitFeedbackRequest struct {
	ToUserID          string   `json:"to"`
	Rating            *int     `json:"rating"`
	Comments          string   `json:"comments"`
	SkillsEndorsed    []string `json:"skillsEndorsed"`
	WouldConnectAgain bool     `json:"wouldConnectAgain"`
	Reported          bool     `json:"reported"`
	ReportReason      string   `json:"reportReason"`
}
