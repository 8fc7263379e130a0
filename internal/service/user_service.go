package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"go.uber.org/zap"
)

const (
	EventUserStatus = "user:status"

	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

type UserService struct {
	users  UserStore
	relay  Relay
	logger *zap.Logger
	now    Clock
}

func NewUserService(users UserStore, relay Relay, logger *zap.Logger, now Clock) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users:  users,
		relay:  relay,
		logger: logger,
		now:    now,
	}
}

// GetByID ID로 사용자 조회
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetPublic 다른 사용자에게 보여줄 프로필
func (s *UserService) GetPublic(ctx context.Context, id string) (*models.PublicProfile, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := user.Public()
	return &p, nil
}

// UpdateProfile 요청에 포함된 필드만 변경
func (s *UserService) UpdateProfile(ctx context.Context, id string, req models.UpdateProfileRequest) (*models.User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		user.Name = name
	}
	if req.Bio != nil {
		user.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.Headline != nil {
		user.Headline = strings.TrimSpace(*req.Headline)
	}
	if req.Location != nil {
		user.Location = strings.TrimSpace(*req.Location)
	}
	if req.Timezone != nil {
		if tz := strings.TrimSpace(*req.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, tz)
			}
		}
		user.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if req.TechStack != nil {
		stack, err := normalizeTechStack(*req.TechStack)
		if err != nil {
			return nil, err
		}
		user.TechStack = stack
	}
	if req.Availability != nil {
		availability, err := applyAvailability(user.Availability, *req.Availability)
		if err != nil {
			return nil, err
		}
		user.Availability = availability
	}

	user.UpdatedAt = s.now()
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// Search 검증된 온라인/바쁨 사용자 검색
func (s *UserService) Search(ctx context.Context, q models.UserSearch) ([]models.PublicProfile, error) {
	if q.Limit == 0 {
		q.Limit = defaultSearchLimit
	}
	if q.Limit < 1 || q.Limit > maxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, maxSearchLimit)
	}
	q.Query = strings.TrimSpace(q.Query)

	users, err := s.users.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	profiles := make([]models.PublicProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Public())
	}
	return profiles, nil
}

// SetAvailability 접속 상태와 찾는 것 변경, 상태 변경을 알림
func (s *UserService) SetAvailability(ctx context.Context, id string, update models.AvailabilityUpdate) (*models.Availability, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	availability, err := applyAvailability(user.Availability, update)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateAvailability(ctx, id, availability, s.now()); err != nil {
		return nil, fmt.Errorf("failed to update availability: %w", err)
	}

	if s.relay != nil {
		payload := map[string]interface{}{"userId": id, "status": availability.Status}
		if err := s.relay.Publish(ctx, UserChannel(id), EventUserStatus, payload); err != nil {
			s.logger.Warn("Failed to publish user status", zap.String("userId", id), zap.Error(err))
		}
	}
	return &availability, nil
}

// Stats 세션/평판 통계
func (s *UserService) Stats(ctx context.Context, id string) (*models.UserStats, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &user.Stats, nil
}

// UpdateSettings 기존 설정 위에 부분 JSON 을 덮어쓴다
func (s *UserService) UpdateSettings(ctx context.Context, id string, patch json.RawMessage) (*models.UserSettings, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(patch) {
		return nil, fmt.Errorf("%w: settings must be an object", ErrInvalidInput)
	}

	settings := user.Settings
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if settings.Editor.FontSize < 0 {
		return nil, fmt.Errorf("%w: font size must be positive", ErrInvalidInput)
	}

	if err := s.users.UpdateSettings(ctx, id, settings); err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return &settings, nil
}

func normalizeTechStack(stack []models.TechStackEntry) ([]models.TechStackEntry, error) {
	out := make([]models.TechStackEntry, 0, len(stack))
	for _, t := range stack {
		t.Language = strings.TrimSpace(t.Language)
		if t.Language == "" {
			return nil, fmt.Errorf("%w: tech stack entry needs a language", ErrInvalidInput)
		}
		switch t.Experience.Level {
		case "":
			t.Experience.Level = models.ExperienceBeginner
		case models.ExperienceBeginner, models.ExperienceIntermediate, models.ExperienceExpert:
		default:
			return nil, fmt.Errorf("%w: unknown experience level %q", ErrInvalidInput, t.Experience.Level)
		}
		if t.Confidence < 0 || t.Confidence > 10 {
			return nil, fmt.Errorf("%w: confidence must be between 0 and 10", ErrInvalidInput)
		}
		out = append(out, t)
	}
	return out, nil
}

func applyAvailability(current models.Availability, update models.AvailabilityUpdate) (models.Availability, error) {
	if update.Status != nil {
		if !update.Status.Valid() {
			return current, fmt.Errorf("%w: invalid availability status", ErrInvalidInput)
		}
		current.Status = *update.Status
	}
	if update.LookingFor != nil {
		tags := make([]string, 0, len(*update.LookingFor))
		for _, tag := range *update.LookingFor {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		current.LookingFor = tags
	}
	return current, nil
}
