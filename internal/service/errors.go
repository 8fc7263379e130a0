package service

import "errors"

// Common service errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// User service specific errors
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidProvider = errors.New("unsupported oauth provider")
	ErrInvalidState    = errors.New("invalid oauth state")
)

// Queue specific errors
var (
	ErrQueueEntryNotFound = errors.New("queue entry not found")
	ErrActiveEntryExists  = errors.New("user already has an active queue entry")
	ErrInvalidMode        = errors.New("invalid matching mode")
	ErrInvalidTransition  = errors.New("invalid queue status transition")
	ErrStaleMatch         = errors.New("stale match") // 후보 선택과 확정 사이에 엔트리 상태가 바뀜
	ErrDispatchFull       = errors.New("match dispatcher queue is full")
	ErrMatchContended     = errors.New("match attempt contended") // 늦게 들어온 같은 모드 엔트리가 동시에 matching
)

// Session specific errors
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrNotParticipant      = errors.New("not a participant in this session")
	ErrInvalidSessionState = errors.New("invalid session state")
)

// Feedback specific errors
var (
	ErrFeedbackExists = errors.New("feedback already submitted")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
)

// isAny err 가 targets 중 하나인지
func isAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
