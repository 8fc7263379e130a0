package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/database"
	"github.com/lib/pq"
)

const queueColumns = `
	id, user_id, mode, languages, experience, goals, max_wait_time, status,
	session_id, matched_with, score, matched_at, wait_start, heartbeat, created_at, updated_at`

// QueueRepository 매칭 대기열 (Postgres 가 권위 있는 저장소)
type QueueRepository struct {
	db *database.DB
}

func NewQueueRepository(db *database.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func scanQueueEntry(row rowScanner) (*models.QueueEntry, error) {
	e := &models.QueueEntry{}
	var languages, goals, matchedWith pq.StringArray
	var sessionID sql.NullString
	var score sql.NullInt64
	var matchedAt sql.NullTime
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.Mode,
		&languages,
		&e.Params.Experience,
		&goals,
		&e.Params.MaxWaitTime,
		&e.Status,
		&sessionID,
		&matchedWith,
		&score,
		&matchedAt,
		&e.WaitStart,
		&e.Heartbeat,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Params.Languages = stringsOrEmpty(languages)
	e.Params.Goals = stringsOrEmpty(goals)
	if sessionID.Valid {
		e.Match = &models.QueueMatch{
			SessionID:   sessionID.String,
			MatchedWith: stringsOrEmpty(matchedWith),
			Score:       int(score.Int64),
			MatchedAt:   matchedAt.Time,
		}
	}
	return e, nil
}

func (r *QueueRepository) list(ctx context.Context, query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert 새 엔트리. 사용자의 활성 엔트리가 이미 있으면 (부분 unique 인덱스) false
func (r *QueueRepository) Insert(ctx context.Context, e *models.QueueEntry) (bool, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, user_id, mode, languages, experience, goals, max_wait_time, status,
		                           wait_start, heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		e.ID, e.UserID, e.Mode,
		pq.Array(stringsOrEmpty(e.Params.Languages)), e.Params.Experience, pq.Array(stringsOrEmpty(e.Params.Goals)),
		e.Params.MaxWaitTime, e.Status,
		e.WaitStart, e.Heartbeat, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert queue entry: %w", err)
	}
	return true, nil
}

// FindByID ID로 엔트리 조회
func (r *QueueRepository) FindByID(ctx context.Context, id string) (*models.QueueEntry, error) {
	if !validID(id) {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM queue_entries WHERE id = $1`, id)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find queue entry: %w", err)
	}
	return e, nil
}

// FindActiveByUser waiting 또는 matching 엔트리
func (r *QueueRepository) FindActiveByUser(ctx context.Context, userID string) (*models.QueueEntry, error) {
	if !validID(userID) {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE user_id = $1 AND status IN ('waiting', 'matching')
	`, userID)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active queue entry: %w", err)
	}
	return e, nil
}

// FindCandidates 같은 모드의 waiting 엔트리 (오래 기다린 순, 같으면 id 순)
func (r *QueueRepository) FindCandidates(ctx context.Context, f service.CandidateFilter) ([]*models.QueueEntry, error) {
	var limit sql.NullInt64
	if f.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(f.Limit), Valid: true}
	}

	entries, err := r.list(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE status = 'waiting'
		  AND mode = $1
		  AND ($2 = '' OR id::text <> $2)
		  AND (cardinality($3::text[]) = 0 OR languages && $3::text[])
		  AND (cardinality($4::text[]) = 0 OR goals && $4::text[])
		  AND ($5::double precision <= 0
		       OR EXTRACT(EPOCH FROM (wait_start + max_wait_time * INTERVAL '1 second' - $6::timestamptz)) >= $5::double precision)
		ORDER BY wait_start ASC, id ASC
		LIMIT $7
	`,
		f.Mode,
		f.ExcludeID,
		pq.Array(stringsOrEmpty(f.LanguagesAny)),
		pq.Array(stringsOrEmpty(f.GoalsAny)),
		f.MinRemaining.Seconds(),
		f.Now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates: %w", err)
	}
	return entries, nil
}

// UpdateStatusIfCurrent 상태가 expected 일 때만 next 로 변경
func (r *QueueRepository) UpdateStatusIfCurrent(ctx context.Context, id string, expected, next models.QueueStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to update queue entry status: %w", err)
	}
	return affected(res)
}

// Touch 활성 엔트리 heartbeat 갱신
func (r *QueueRepository) Touch(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries SET heartbeat = $2
		WHERE id = $1 AND status IN ('waiting', 'matching')
	`, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to touch queue entry: %w", err)
	}
	return affected(res)
}

// ListWaiting 모든 모드의 waiting 엔트리 (오래 기다린 순)
func (r *QueueRepository) ListWaiting(ctx context.Context, limit int) ([]*models.QueueEntry, error) {
	entries, err := r.list(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE status = 'waiting'
		ORDER BY wait_start ASC, id ASC
		LIMIT $1
	`, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting entries: %w", err)
	}
	return entries, nil
}

// ExpireOverdue 최대 대기 시간이 지난 waiting 엔트리를 timeout 처리
func (r *QueueRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]*models.QueueEntry, error) {
	entries, err := r.list(ctx, `
		UPDATE queue_entries
		SET status = 'timeout', updated_at = $1
		WHERE status = 'waiting'
		  AND wait_start + max_wait_time * INTERVAL '1 second' < $1
		RETURNING `+queueColumns, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire queue entries: %w", err)
	}
	return entries, nil
}

// RecoverStuck 너무 오래 matching 에 머문 엔트리를 waiting 으로 복구
func (r *QueueRepository) RecoverStuck(ctx context.Context, olderThan time.Time) ([]*models.QueueEntry, error) {
	entries, err := r.list(ctx, `
		UPDATE queue_entries
		SET status = 'waiting', updated_at = NOW()
		WHERE status = 'matching' AND updated_at < $1
		RETURNING `+queueColumns, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to recover stuck queue entries: %w", err)
	}
	return entries, nil
}

// CountWaiting 모드별 대기 인원
func (r *QueueRepository) CountWaiting(ctx context.Context, mode models.QueueMode) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries WHERE mode = $1 AND status = 'waiting'
	`, mode).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting entries: %w", err)
	}
	return n, nil
}

// HasNewerMatching entry 보다 늦게 들어온 같은 모드 엔트리 중 matching 상태가 있는지
func (r *QueueRepository) HasNewerMatching(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_entries
			WHERE status = 'matching'
			  AND mode = $1
			  AND id::text <> $2
			  AND (wait_start, id::text) > ($3::timestamptz, $2)
		)
	`, entry.Mode, entry.ID, entry.WaitStart).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check contending entries: %w", err)
	}
	return exists, nil
}

// CommitMatch 두 엔트리 잠금, 상태 확인, matched 전이, 세션 생성을 한 트랜잭션으로 처리.
// 요청자가 matching, 상대가 waiting 이 아니면 롤백하고 false.
func (r *QueueRepository) CommitMatch(ctx context.Context, c service.MatchCommit) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 교착 방지를 위해 항상 id 순으로 잠근다
	rows, err := tx.QueryContext(ctx, `
		SELECT id, status FROM queue_entries
		WHERE id IN ($1, $2)
		ORDER BY id
		FOR UPDATE
	`, c.Requester.ID, c.Partner.ID)
	if err != nil {
		return false, fmt.Errorf("failed to lock queue entries: %w", err)
	}
	statuses := make(map[string]models.QueueStatus, 2)
	for rows.Next() {
		var id string
		var status models.QueueStatus
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan locked entry: %w", err)
		}
		statuses[id] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	if statuses[c.Requester.ID] != models.QueueStatusMatching || statuses[c.Partner.ID] != models.QueueStatusWaiting {
		return false, nil
	}

	markMatched := func(entryID, partnerUserID string) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE queue_entries
			SET status = 'matched', session_id = $2, matched_with = $3, score = $4, matched_at = $5, updated_at = $5
			WHERE id = $1
		`, entryID, c.Session.ID, pq.Array([]string{partnerUserID}), c.Score, c.MatchedAt)
		return err
	}
	if err := markMatched(c.Requester.ID, c.Partner.UserID); err != nil {
		return false, fmt.Errorf("failed to mark requester matched: %w", err)
	}
	if err := markMatched(c.Partner.ID, c.Requester.UserID); err != nil {
		return false, fmt.Errorf("failed to mark partner matched: %w", err)
	}

	if err := insertSession(ctx, tx, c.Session); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit match: %w", err)
	}
	return true, nil
}
