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

const userColumns = `
	id, email, name, avatar, headline, bio, location, timezone,
	github, linkedin, tech_stack,
	verification_status, verification_score, verification_methods,
	availability_status, looking_for,
	sessions_total, sessions_completed, total_minutes,
	rating_average, rating_count, reputation_points, reputation_level,
	settings, last_active, created_at, updated_at`

const statsColumns = `
	sessions_total, sessions_completed, total_minutes,
	rating_average, rating_count, reputation_points, reputation_level`

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var email sql.NullString
	var lookingFor pq.StringArray
	err := row.Scan(
		&u.ID,
		&email,
		&u.Name,
		&u.Avatar,
		&u.Headline,
		&u.Bio,
		&u.Location,
		&u.Timezone,
		jsonb{&u.GitHub},
		jsonb{&u.LinkedIn},
		jsonb{&u.TechStack},
		&u.Verification.Status,
		&u.Verification.Score,
		jsonb{&u.Verification.Methods},
		&u.Availability.Status,
		&lookingFor,
		&u.Stats.SessionsTotal,
		&u.Stats.SessionsCompleted,
		&u.Stats.TotalMinutes,
		&u.Stats.RatingAverage,
		&u.Stats.RatingCount,
		&u.Stats.ReputationPoints,
		&u.Stats.ReputationLevel,
		jsonb{&u.Settings},
		&u.LastActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Availability.LookingFor = stringsOrEmpty(lookingFor)
	if u.TechStack == nil {
		u.TechStack = []models.TechStackEntry{}
	}
	if u.Verification.Methods == nil {
		u.Verification.Methods = []models.VerificationMethod{}
	}
	return u, nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) list(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByID ID로 사용자 찾기
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	if !validID(id) {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByIDs 여러 사용자를 한 번에 (없는 ID 는 결과에서 빠진다)
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	ids = validIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	users, err := r.list(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// FindByEmail 이메일로 사용자 찾기
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// FindByIdentity 연결된 OAuth 계정으로 사용자 찾기
func (r *UserRepository) FindByIdentity(ctx context.Context, provider, providerUserID string) (*models.User, error) {
	return r.findOne(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = (
			SELECT user_id FROM user_identities WHERE provider = $1 AND provider_user_id = $2
		)
	`, provider, providerUserID)
}

// Create 새 사용자 생성
func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, email, name, avatar, headline, bio, location, timezone,
			github, linkedin, tech_stack,
			verification_status, verification_score, verification_methods,
			availability_status, looking_for, reputation_level, settings,
			last_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		u.ID, nullString(u.Email), u.Name, u.Avatar, u.Headline, u.Bio, u.Location, u.Timezone,
		jsonb{u.GitHub}, jsonb{u.LinkedIn}, jsonb{u.TechStack},
		u.Verification.Status, u.Verification.Score, jsonb{u.Verification.Methods},
		u.Availability.Status, pq.Array(stringsOrEmpty(u.Availability.LookingFor)), u.Stats.ReputationLevel, jsonb{u.Settings},
		u.LastActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateProfile 프로필 필드 저장 (통계, 설정, 검증 상태는 건드리지 않음)
func (r *UserRepository) UpdateProfile(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET name = $2, avatar = $3, headline = $4, bio = $5, location = $6, timezone = $7,
		    github = $8, linkedin = $9, tech_stack = $10,
		    availability_status = $11, looking_for = $12, updated_at = $13
		WHERE id = $1
	`,
		u.ID, u.Name, u.Avatar, u.Headline, u.Bio, u.Location, u.Timezone,
		jsonb{u.GitHub}, jsonb{u.LinkedIn}, jsonb{u.TechStack},
		u.Availability.Status, pq.Array(stringsOrEmpty(u.Availability.LookingFor)), u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateAvailability(ctx context.Context, id string, a models.Availability, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET availability_status = $2, looking_for = $3, last_active = $4, updated_at = $4
		WHERE id = $1
	`, id, a.Status, pq.Array(stringsOrEmpty(a.LookingFor)), at)
	if err != nil {
		return fmt.Errorf("failed to update availability: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateSettings(ctx context.Context, id string, settings models.UserSettings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET settings = $2, updated_at = NOW() WHERE id = $1
	`, id, jsonb{settings})
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdateVerification(ctx context.Context, id string, v models.Verification) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET verification_status = $2, verification_score = $3, verification_methods = $4, updated_at = NOW()
		WHERE id = $1
	`, id, v.Status, v.Score, jsonb{v.Methods})
	if err != nil {
		return fmt.Errorf("failed to update verification: %w", err)
	}
	return nil
}

// UpsertIdentity OAuth 계정 연결 (토큰은 로그인마다 갱신)
func (r *UserRepository) UpsertIdentity(ctx context.Context, ident *models.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_identities (provider, provider_user_id, user_id, username, access_token, refresh_token, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, provider_user_id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			username = EXCLUDED.username,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			updated_at = EXCLUDED.updated_at
	`, ident.Provider, ident.ProviderUserID, ident.UserID, ident.Username, ident.AccessToken, ident.RefreshToken, ident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

// Search 검증되고 접속 중(online/busy)인 사용자 검색 (평판 높은 순)
func (r *UserRepository) Search(ctx context.Context, q models.UserSearch) ([]*models.User, error) {
	users, err := r.list(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE verification_status = 'verified'
		  AND availability_status IN ('online', 'busy')
		  AND ($1 = '' OR name ILIKE '%' || $1 || '%' OR headline ILIKE '%' || $1 || '%')
		  AND (cardinality($2::text[]) = 0 OR EXISTS (
		        SELECT 1 FROM jsonb_array_elements(tech_stack) t WHERE t->>'language' = ANY($2::text[])))
		  AND ($3 = '' OR EXISTS (
		        SELECT 1 FROM jsonb_array_elements(tech_stack) t WHERE t->'experience'->>'level' = $3))
		ORDER BY reputation_points DESC, id
		LIMIT $4
	`, q.Query, pq.Array(stringsOrEmpty(q.Languages)), string(q.Experience), q.Limit)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ApplyFeedback 평점 평균과 평판 점수를 한 문장으로 갱신
func (r *UserRepository) ApplyFeedback(ctx context.Context, userID string, rating, reputation int) (*models.UserStats, error) {
	s := &models.UserStats{}
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET rating_average = (rating_average * rating_count + $2) / (rating_count + 1),
		    rating_count = rating_count + 1,
		    reputation_points = reputation_points + $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+statsColumns,
		userID, rating, reputation,
	).Scan(
		&s.SessionsTotal,
		&s.SessionsCompleted,
		&s.TotalMinutes,
		&s.RatingAverage,
		&s.RatingCount,
		&s.ReputationPoints,
		&s.ReputationLevel,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply feedback: %w", err)
	}
	return s, nil
}

func (r *UserRepository) SetReputationLevel(ctx context.Context, userID string, level models.ReputationLevel) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET reputation_level = $2 WHERE id = $1`, userID, level)
	if err != nil {
		return fmt.Errorf("failed to set reputation level: %w", err)
	}
	return nil
}

// AddSessionStats 세션 종료 시 참가자 통계 누적
func (r *UserRepository) AddSessionStats(ctx context.Context, userIDs []string, completed bool, minutes int) error {
	ids := validIDs(userIDs)
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET sessions_total = sessions_total + 1,
		    sessions_completed = sessions_completed + CASE WHEN $2 THEN 1 ELSE 0 END,
		    total_minutes = total_minutes + $3,
		    updated_at = NOW()
		WHERE id = ANY($1::uuid[])
	`, pq.Array(ids), completed, minutes)
	if err != nil {
		return fmt.Errorf("failed to add session stats: %w", err)
	}
	return nil
}
