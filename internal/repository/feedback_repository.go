package repository

import (
	"context"
	"fmt"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/pkg/database"
	"github.com/lib/pq"
)

const feedbackColumns = `
	id, session_id, from_user, to_user, rating, comments, skills_endorsed,
	would_connect_again, reported, report_reason, created_at`

type FeedbackRepository struct {
	db *database.DB
}

func NewFeedbackRepository(db *database.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Insert 같은 세션, 같은 방향의 피드백이 이미 있으면 false
func (r *FeedbackRepository) Insert(ctx context.Context, f *models.Feedback) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO session_feedback (`+feedbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, from_user, to_user) DO NOTHING
	`,
		f.ID, f.SessionID, f.FromUserID, f.ToUserID, f.Rating, f.Comments,
		pq.Array(stringsOrEmpty(f.SkillsEndorsed)), f.WouldConnectAgain, f.Reported, f.ReportReason, f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert feedback: %w", err)
	}
	return affected(res)
}

func (r *FeedbackRepository) list(ctx context.Context, query string, args ...any) ([]*models.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var list []*models.Feedback
	for rows.Next() {
		f := &models.Feedback{}
		var skills pq.StringArray
		if err := rows.Scan(
			&f.ID,
			&f.SessionID,
			&f.FromUserID,
			&f.ToUserID,
			&f.Rating,
			&f.Comments,
			&skills,
			&f.WouldConnectAgain,
			&f.Reported,
			&f.ReportReason,
			&f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.SkillsEndorsed = stringsOrEmpty(skills)
		list = append(list, f)
	}
	return list, rows.Err()
}

// ListReceived 받은 피드백 (최신순)
func (r *FeedbackRepository) ListReceived(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	if !validID(userID) {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT `+feedbackColumns+` FROM session_feedback
		WHERE to_user = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

// ListGiven 남긴 피드백 (최신순)
func (r *FeedbackRepository) ListGiven(ctx context.Context, userID string, limit, offset int) ([]*models.Feedback, error) {
	if !validID(userID) {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT `+feedbackColumns+` FROM session_feedback
		WHERE from_user = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
}

// Delete 평판 반영에 실패한 피드백 되돌리기
func (r *FeedbackRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_feedback WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete feedback: %w", err)
	}
	return nil
}

// ListBySession 세션의 모든 피드백
func (r *FeedbackRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Feedback, error) {
	if !validID(sessionID) {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT `+feedbackColumns+` FROM session_feedback
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
}
