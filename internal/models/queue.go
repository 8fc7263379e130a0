package models

import (
	"strings"
	"time"
)

// QueueMode 매칭 전략
type QueueMode string

const (
	QueueModeRandom QueueMode = "random"
	QueueModeSkill  QueueMode = "skill"
	QueueModeGoal   QueueMode = "goal"
)

// QueueModes 지원하는 모든 모드
var QueueModes = []QueueMode{QueueModeRandom, QueueModeSkill, QueueModeGoal}

// Valid 알려진 모드인지 확인
func (m QueueMode) Valid() bool {
	switch m {
	case QueueModeRandom, QueueModeSkill, QueueModeGoal:
		return true
	}
	return false
}

type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusMatching  QueueStatus = "matching"
	QueueStatusMatched   QueueStatus = "matched"
	QueueStatusCancelled QueueStatus = "cancelled"
	QueueStatusTimeout   QueueStatus = "timeout"
)

// Active 사용자당 하나만 허용되는 상태(waiting, matching)인지
func (s QueueStatus) Active() bool {
	return s == QueueStatusWaiting || s == QueueStatusMatching
}

// Terminal 더 이상 전이할 수 없는 상태인지
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusMatched || s == QueueStatusCancelled || s == QueueStatusTimeout
}

var queueTransitions = map[QueueStatus][]QueueStatus{
	// waiting -> matched 는 상대 엔트리로 선택된 경우
	QueueStatusWaiting:  {QueueStatusMatching, QueueStatusMatched, QueueStatusCancelled, QueueStatusTimeout},
	QueueStatusMatching: {QueueStatusMatched, QueueStatusWaiting, QueueStatusCancelled},
}

// CanTransition 큐 엔트리 상태 전이 가능 여부
func CanTransition(from, to QueueStatus) bool {
	for _, next := range queueTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultMaxWaitTime 기본 최대 대기 시간 (초)
const DefaultMaxWaitTime = 180

// QueueParams 매칭 조건
type QueueParams struct {
	Languages   []string `json:"languages"`
	Experience  string   `json:"experience,omitempty"`
	Goals       []string `json:"goals"`
	MaxWaitTime int      `json:"maxWaitTime"`
}

// Normalize 공백 정리, 빈 값 제거, 기본 대기 시간 보정
func (p QueueParams) Normalize() QueueParams {
	p.Languages = compactStrings(p.Languages)
	p.Goals = compactStrings(p.Goals)
	p.Experience = strings.TrimSpace(p.Experience)
	if p.MaxWaitTime <= 0 {
		p.MaxWaitTime = DefaultMaxWaitTime
	}
	return p
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// QueueMatch 매칭 결과
type QueueMatch struct {
	SessionID   string    `json:"sessionId"`
	MatchedWith []string  `json:"matchedWith"`
	Score       int       `json:"score"`
	MatchedAt   time.Time `json:"matchedAt"`
}

type QueueEntry struct {
	ID        string      `json:"id" db:"id"`
	UserID    string      `json:"userId" db:"user_id"`
	Mode      QueueMode   `json:"mode" db:"mode"`
	Params    QueueParams `json:"params"`
	Status    QueueStatus `json:"status" db:"status"`
	Match     *QueueMatch `json:"match,omitempty"`
	WaitStart time.Time   `json:"waitStart" db:"wait_start"`
	Heartbeat time.Time   `json:"heartbeat" db:"heartbeat"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// Deadline 최대 대기 시간이 끝나는 시각
func (e *QueueEntry) Deadline() time.Time {
	return e.WaitStart.Add(time.Duration(e.Params.MaxWaitTime) * time.Second)
}

// RemainingWait now 기준 남은 대기 시간 (음수 가능)
func (e *QueueEntry) RemainingWait(now time.Time) time.Duration {
	return e.Deadline().Sub(now)
}

// JoinQueueRequest 큐 참가 요청
type JoinQueueRequest struct {
	Mode   QueueMode   `json:"mode"`
	Params QueueParams `json:"params"`
}

// QueueStatusView 큐 상태 조회 응답
type QueueStatusView struct {
	InQueue       bool        `json:"inQueue"`
	Entry         *QueueEntry `json:"queue,omitempty"`
	Position      int         `json:"position"`
	EstimatedWait int         `json:"estimatedWait"`
}
