package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/pkg/database"
	"github.com/lib/pq"
)

const sessionColumns = `
	id, room_id, match_type, status, start_time, end_time, duration,
	topic, goals, language, total_code_changes, chat_messages, resources_shared,
	created_at, updated_at`

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var start, end sql.NullTime
	var goals pq.StringArray
	err := row.Scan(
		&s.ID,
		&s.RoomID,
		&s.MatchType,
		&s.Status,
		&start,
		&end,
		&s.Duration,
		&s.Topic,
		&goals,
		&s.Language,
		&s.Analytics.TotalCodeChanges,
		&s.Analytics.ChatMessages,
		&s.Analytics.ResourcesShared,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		s.StartTime = &start.Time
	}
	if end.Valid {
		s.EndTime = &end.Time
	}
	s.Goals = stringsOrEmpty(goals)
	s.Analytics.EngagementScore = s.Analytics.ComputeEngagement()
	s.Participants = []models.Participant{}
	return s, nil
}

// insertSession 세션과 참가자 저장 (매칭 트랜잭션에서도 사용)
func insertSession(ctx context.Context, q queryer, s *models.Session) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (id, room_id, match_type, status, start_time, topic, goals, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.RoomID, s.MatchType, s.Status, s.StartTime, s.Topic, pq.Array(stringsOrEmpty(s.Goals)), s.Language, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for i, p := range s.Participants {
		_, err := q.ExecContext(ctx, `
			INSERT INTO session_participants (session_id, user_id, position, role, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, s.ID, p.UserID, i, p.Role, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("failed to insert session participant: %w", err)
		}
	}
	return nil
}

// loadParticipants 세션들의 참가자를 position 순으로 채운다
func (r *SessionRepository) loadParticipants(ctx context.Context, sessions ...*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}
	byID := make(map[string]*models.Session, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, user_id, role, joined_at, left_at
		FROM session_participants
		WHERE session_id = ANY($1::uuid[])
		ORDER BY session_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID string
		var p models.Participant
		var left sql.NullTime
		if err := rows.Scan(&sessionID, &p.UserID, &p.Role, &p.JoinedAt, &left); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if left.Valid {
			p.LeftAt = &left.Time
		}
		if s, ok := byID[sessionID]; ok {
			s.Participants = append(s.Participants, p)
		}
	}
	return rows.Err()
}

func (r *SessionRepository) findOne(ctx context.Context, where string, arg any) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if err := r.loadParticipants(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// FindByID ID로 세션 조회
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if !validID(id) {
		return nil, nil
	}
	return r.findOne(ctx, `id = $1`, id)
}

// FindByRoomID room ID로 세션 조회
func (r *SessionRepository) FindByRoomID(ctx context.Context, roomID string) (*models.Session, error) {
	return r.findOne(ctx, `room_id = $1`, roomID)
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadParticipants(ctx, sessions...); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListOpenByUser 사용자가 참가 중인 진행 세션
func (r *SessionRepository) ListOpenByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	if !validID(userID) {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status IN ('waiting', 'active', 'paused')
		  AND id IN (SELECT session_id FROM session_participants WHERE user_id = $1)
		ORDER BY created_at DESC
	`, userID)
}

// ListHistory 상태 필터 기반 히스토리 (최신순)와 전체 개수
func (r *SessionRepository) ListHistory(ctx context.Context, f models.SessionHistoryFilter) ([]*models.Session, int, error) {
	if !validID(f.UserID) {
		return nil, 0, nil
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}

	const filter = `
		FROM sessions
		WHERE status = ANY($2)
		  AND id IN (SELECT session_id FROM session_participants WHERE user_id = $1)`

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) `+filter, f.UserID, pq.Array(statuses)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	sessions, err := r.list(ctx, `SELECT `+sessionColumns+filter+`
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4
	`, f.UserID, pq.Array(statuses), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// Activate waiting -> active
func (r *SessionRepository) Activate(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'active', start_time = COALESCE(start_time, $2), updated_at = $2
		WHERE id = $1 AND status = 'waiting'
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to activate session: %w", err)
	}
	return affected(res)
}

// UpdateStatusIfCurrent 현재 상태가 expected 일 때만 변경
func (r *SessionRepository) UpdateStatusIfCurrent(ctx context.Context, id string, expected, next models.SessionStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}
	return affected(res)
}

func (r *SessionRepository) MarkParticipantJoined(ctx context.Context, id, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET joined_at = $3, left_at = NULL
		WHERE session_id = $1 AND user_id = $2
	`, id, userID, at)
	if err != nil {
		return fmt.Errorf("failed to mark participant joined: %w", err)
	}
	return nil
}

func (r *SessionRepository) MarkParticipantLeft(ctx context.Context, id, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE session_participants SET left_at = $3
		WHERE session_id = $1 AND user_id = $2
	`, id, userID, at)
	if err != nil {
		return fmt.Errorf("failed to mark participant left: %w", err)
	}
	return nil
}

// RemoveParticipant 참가자 삭제 후 남은 인원 반환
func (r *SessionRepository) RemoveParticipant(ctx context.Context, id, userID string) (int, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx, `
		WITH removed AS (
			DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2
		)
		SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND user_id <> $2
	`, id, userID).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("failed to remove participant: %w", err)
	}
	return remaining, nil
}

// Finish 진행 중인 세션 종료. reported 는 이미 끝난 세션에도 표시할 수 있고 종료 시각은 처음 값을 유지
func (r *SessionRepository) Finish(
	ctx context.Context,
	id string,
	status models.SessionStatus,
	end time.Time,
	durationMinutes int,
) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2,
		    duration = CASE WHEN end_time IS NULL THEN $4 ELSE duration END,
		    end_time = COALESCE(end_time, $3),
		    updated_at = $3
		WHERE id = $1
		  AND (status IN ('waiting', 'active', 'paused') OR $2 = 'reported')
	`, id, status, end, durationMinutes)
	if err != nil {
		return false, fmt.Errorf("failed to finish session: %w", err)
	}
	return affected(res)
}

// UpdateDetails nil 이 아닌 필드만 변경
func (r *SessionRepository) UpdateDetails(ctx context.Context, id string, req models.UpdateSessionRequest) error {
	var topic, language sql.NullString
	if req.Topic != nil {
		topic = sql.NullString{String: *req.Topic, Valid: true}
	}
	if req.Language != nil {
		language = sql.NullString{String: *req.Language, Valid: true}
	}
	var goals any
	if req.Goals != nil {
		goals = pq.Array(stringsOrEmpty(*req.Goals))
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET topic = COALESCE($2, topic),
		    goals = COALESCE($3::text[], goals),
		    language = COALESCE($4, language),
		    updated_at = NOW()
		WHERE id = $1
	`, id, topic, goals, language)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// SaveEvent 협업 이벤트 저장과 분석 카운터 증가를 한 트랜잭션으로
func (r *SessionRepository) SaveEvent(ctx context.Context, event *models.CollaborationEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO session_events (session_id, user_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, event.SessionID, event.UserID, event.Kind, []byte(event.Payload), event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET total_code_changes = total_code_changes + CASE WHEN $2 = 'editor' THEN 1 ELSE 0 END,
		    chat_messages = chat_messages + CASE WHEN $2 = 'chat' THEN 1 ELSE 0 END,
		    resources_shared = resources_shared + CASE WHEN $2 = 'resource' THEN 1 ELSE 0 END,
		    updated_at = NOW()
		WHERE id = $1
	`, event.SessionID, event.Kind)
	if err != nil {
		return fmt.Errorf("failed to update session analytics: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListEvents kind 가 비어 있으면 전체
func (r *SessionRepository) ListEvents(ctx context.Context, sessionID string, kind models.CollaborationKind) ([]*models.CollaborationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, kind, payload, created_at
		FROM session_events
		WHERE session_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY id
	`, sessionID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	var events []*models.CollaborationEvent
	for rows.Next() {
		ev := &models.CollaborationEvent{}
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.UserID, &ev.Kind, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Delete 세션 삭제 (참가자, 이벤트, 피드백은 cascade)
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
