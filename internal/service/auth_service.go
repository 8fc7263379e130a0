package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/pkg/github"
	"github.com/kkhushie/fetchfriends.dev/pkg/jwt"
	"github.com/kkhushie/fetchfriends.dev/pkg/linkedin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
	oauthlinkedin "golang.org/x/oauth2/linkedin"
)

const (
	githubRepoLimit = 10
	githubTopRepos  = 5
)

// ProviderProfile OAuth 제공자에서 가져온 프로필과 검증 점수
type ProviderProfile struct {
	Provider       string
	ProviderUserID string
	Username       string
	Email          string
	Name           string
	Avatar         string
	Bio            string
	Location       string
	GitHub         *models.GitHubProfile
	LinkedIn       *models.LinkedInProfile
	Score          int
}

// ProfileFetcher 토큰이 붙은 http.Client 로 제공자 프로필 조회
type ProfileFetcher func(ctx context.Context, client *http.Client, now time.Time) (*ProviderProfile, error)

type OAuthProvider struct {
	Config *oauth2.Config
	Fetch  ProfileFetcher
}

// GitHubProvider GitHub OAuth 앱 설정
func GitHubProvider(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     oauthgithub.Endpoint,
		},
		Fetch: FetchGitHubProfile(""),
	}
}

// LinkedInProvider LinkedIn OpenID Connect 설정
func LinkedInProvider(clientID, clientSecret, redirectURL string) *OAuthProvider {
	return &OAuthProvider{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     oauthlinkedin.Endpoint,
		},
		Fetch: FetchLinkedInProfile(""),
	}
}

// FetchGitHubProfile baseURL 이 비어 있으면 api.github.com
func FetchGitHubProfile(baseURL string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client, now time.Time) (*ProviderProfile, error) {
		var opts []github.Option
		if baseURL != "" {
			opts = append(opts, github.WithBaseURL(baseURL))
		}
		gh := github.New(client, opts...)

		u, err := gh.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch github user: %w", err)
		}
		email := u.Email
		if email == "" {
			// 공개 이메일이 없으면 기본 이메일 조회 (권한이 없으면 빈 값)
			email, _ = gh.PrimaryEmail(ctx)
		}
		repos, err := gh.Repos(ctx, u.Login, githubRepoLimit)
		if err != nil {
			repos = nil
		}

		summaries := make([]models.GitHubRepoSummary, 0, len(repos))
		languages := make(map[string]int)
		stars := 0
		for _, r := range repos {
			summaries = append(summaries, models.GitHubRepoSummary{
				Name:        r.Name,
				Description: r.Description,
				Language:    r.Language,
				Stars:       r.StargazersCount,
				URL:         r.HTMLURL,
			})
			stars += r.StargazersCount
			if r.Language != "" {
				languages[r.Language]++
			}
		}

		top := summaries
		if len(top) > githubTopRepos {
			top = top[:githubTopRepos]
		}

		name := u.Name
		if name == "" {
			name = u.Login
		}

		return &ProviderProfile{
			Provider:       ProviderGitHub,
			ProviderUserID: fmt.Sprintf("%d", u.ID),
			Username:       u.Login,
			Email:          email,
			Name:           name,
			Avatar:         u.AvatarURL,
			Bio:            u.Bio,
			Location:       u.Location,
			GitHub: &models.GitHubProfile{
				Username:    u.Login,
				PublicRepos: u.PublicRepos,
				Followers:   u.Followers,
				Following:   u.Following,
				Stars:       stars,
				Languages:   languages,
				TopRepos:    top,
			},
			Score: GitHubScore(GitHubSignals{
				CreatedAt:   u.CreatedAt,
				PublicRepos: u.PublicRepos,
				Followers:   u.Followers,
				Repos:       summaries,
			}, now),
		}, nil
	}
}

// FetchLinkedInProfile baseURL 이 비어 있으면 api.linkedin.com
func FetchLinkedInProfile(baseURL string) ProfileFetcher {
	return func(ctx context.Context, client *http.Client, _ time.Time) (*ProviderProfile, error) {
		var opts []linkedin.Option
		if baseURL != "" {
			opts = append(opts, linkedin.WithBaseURL(baseURL))
		}

		p, err := linkedin.New(client, opts...).Me(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch linkedin profile: %w", err)
		}

		name := strings.TrimSpace(p.GivenName + " " + p.FamilyName)
		if name == "" {
			name = p.Name
		}

		return &ProviderProfile{
			Provider:       ProviderLinkedIn,
			ProviderUserID: p.Sub,
			Email:          p.Email,
			Name:           name,
			Avatar:         p.Picture,
			LinkedIn: &models.LinkedInProfile{
				ProfileURL:  p.ProfileURL,
				CurrentRole: p.Headline,
				Skills:      []string{},
			},
			Score: LinkedInScore(LinkedInSignals{
				FirstName: p.GivenName,
				LastName:  p.FamilyName,
				Headline:  p.Headline,
			}),
		}, nil
	}
}

// LoginResult OAuth 콜백 결과
type LoginResult struct {
	User    *models.User
	Token   string
	Created bool
}

// AuthService OAuth 로그인, 계정 연결, JWT 발급
type AuthService struct {
	users     UserStore
	tokens    *jwt.JWTManager
	providers map[string]*OAuthProvider
	logger    *zap.Logger
	now       Clock
}

func NewAuthService(
	users UserStore,
	tokens *jwt.JWTManager,
	providers map[string]*OAuthProvider,
	logger *zap.Logger,
	now Clock,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if providers == nil {
		providers = map[string]*OAuthProvider{}
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		providers: providers,
		logger:    logger,
		now:       now,
	}
}

// NewOAuthState CSRF 방지용 state 값
func NewOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Providers 설정된 제공자 이름
func (s *AuthService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthCodeURL 제공자 로그인 페이지 URL
func (s *AuthService) AuthCodeURL(provider, state string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrInvalidProvider
	}
	return p.Config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Callback 인가 코드를 토큰으로 교환하고 사용자를 찾거나 만든 뒤 JWT 발급
func (s *AuthService) Callback(ctx context.Context, provider, code string) (*LoginResult, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, ErrInvalidProvider
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidInput)
	}

	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("OAuth code exchange failed", zap.String("provider", provider), zap.Error(err))
		return nil, fmt.Errorf("%w: code exchange failed", ErrUnauthorized)
	}

	now := s.now()
	profile, err := p.Fetch(ctx, p.Config.Client(ctx, tok), now)
	if err != nil {
		return nil, err
	}
	if profile.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: provider returned no user id", ErrUnauthorized)
	}

	user, created, err := s.upsertUser(ctx, profile, now)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpsertIdentity(ctx, &models.Identity{
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		UserID:         user.ID,
		Username:       profile.Username,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		UpdatedAt:      now,
	}); err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, user.Name, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	s.logger.Info("User signed in",
		zap.String("userId", user.ID),
		zap.String("provider", provider),
		zap.Bool("created", created),
		zap.String("verification", string(user.Verification.Status)))

	return &LoginResult{User: user, Token: token, Created: created}, nil
}

// upsertUser 연결된 계정, 같은 이메일 순으로 기존 사용자를 찾고 없으면 생성
func (s *AuthService) upsertUser(ctx context.Context, profile *ProviderProfile, now time.Time) (*models.User, bool, error) {
	user, err := s.users.FindByIdentity(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find user by identity: %w", err)
	}
	if user == nil && profile.Email != "" {
		user, err = s.users.FindByEmail(ctx, profile.Email)
		if err != nil {
			return nil, false, fmt.Errorf("failed to find user by email: %w", err)
		}
	}

	if user == nil {
		user = &models.User{
			ID:           uuid.NewString(),
			Email:        profile.Email,
			Name:         profile.Name,
			Avatar:       profile.Avatar,
			Bio:          profile.Bio,
			Location:     profile.Location,
			GitHub:       profile.GitHub,
			LinkedIn:     profile.LinkedIn,
			TechStack:    []models.TechStackEntry{},
			Verification: ApplyVerification(models.Verification{}, profile.Provider, profile.Score, now),
			Availability: models.Availability{Status: models.AvailabilityOffline, LookingFor: []string{}},
			Stats:        models.UserStats{ReputationLevel: models.ReputationNew},
			Settings:     models.DefaultUserSettings(),
			LastActive:   now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, false, fmt.Errorf("failed to create user: %w", err)
		}
		return user, true, nil
	}

	if user.Name == "" {
		user.Name = profile.Name
	}
	if user.Avatar == "" {
		user.Avatar = profile.Avatar
	}
	if profile.GitHub != nil {
		user.GitHub = profile.GitHub
	}
	if profile.LinkedIn != nil {
		user.LinkedIn = profile.LinkedIn
	}
	user.UpdatedAt = now
	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, false, fmt.Errorf("failed to update user profile: %w", err)
	}

	user.Verification = ApplyVerification(user.Verification, profile.Provider, profile.Score, now)
	if err := s.users.UpdateVerification(ctx, user.ID, user.Verification); err != nil {
		return nil, false, fmt.Errorf("failed to update verification: %w", err)
	}
	return user, false, nil
}

// VerificationStatus 현재 검증 상태
func (s *AuthService) VerificationStatus(ctx context.Context, userID string) (*models.Verification, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	v := user.Verification
	if v.Methods == nil {
		v.Methods = []models.VerificationMethod{}
	}
	return &v, nil
}
