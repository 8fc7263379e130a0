package models

import "time"

type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceExpert       ExperienceLevel = "expert"
)

// Weight beginner=1, intermediate=2, expert=3 (알 수 없는 값은 1)
func (l ExperienceLevel) Weight() int {
	switch l {
	case ExperienceIntermediate:
		return 2
	case ExperienceExpert:
		return 3
	default:
		return 1
	}
}

type TechExperience struct {
	Years int             `json:"years"`
	Level ExperienceLevel `json:"level"`
}

type TechStackEntry struct {
	Language   string         `json:"language"`
	Frameworks []string       `json:"frameworks,omitempty"`
	Experience TechExperience `json:"experience"`
	Confidence int            `json:"confidence,omitempty"`
}

type GitHubRepoSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Stars       int    `json:"stars"`
	URL         string `json:"url"`
}

type GitHubProfile struct {
	Username    string              `json:"username"`
	PublicRepos int                 `json:"publicRepos"`
	Followers   int                 `json:"followers"`
	Following   int                 `json:"following"`
	Stars       int                 `json:"stars"`
	Languages   map[string]int      `json:"languages,omitempty"`
	TopRepos    []GitHubRepoSummary `json:"topRepos,omitempty"`
}

type LinkedInProfile struct {
	ProfileURL   string   `json:"profileUrl,omitempty"`
	CurrentRole  string   `json:"currentRole,omitempty"`
	Company      string   `json:"company,omitempty"`
	Skills       []string `json:"skills"`
	Endorsements int      `json:"endorsements"`
}

type AvailabilityStatus string

const (
	AvailabilityOnline  AvailabilityStatus = "online"
	AvailabilityBusy    AvailabilityStatus = "busy"
	AvailabilityAway    AvailabilityStatus = "away"
	AvailabilityOffline AvailabilityStatus = "offline"
)

func (s AvailabilityStatus) Valid() bool {
	switch s {
	case AvailabilityOnline, AvailabilityBusy, AvailabilityAway, AvailabilityOffline:
		return true
	}
	return false
}

type Availability struct {
	Status     AvailabilityStatus `json:"status"`
	LookingFor []string           `json:"lookingFor"`
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
	VerificationFlagged  VerificationStatus = "flagged"
)

type VerificationMethod struct {
	Provider   string    `json:"provider"`
	VerifiedAt time.Time `json:"verifiedAt"`
	Score      int       `json:"score"`
}

type Verification struct {
	Status  VerificationStatus   `json:"status"`
	Score   int                  `json:"score"`
	Methods []VerificationMethod `json:"methods"`
}

// Method provider에 해당하는 검증 수단 (없으면 nil)
func (v *Verification) Method(provider string) *VerificationMethod {
	for i := range v.Methods {
		if v.Methods[i].Provider == provider {
			return &v.Methods[i]
		}
	}
	return nil
}

type ReputationLevel string

const (
	ReputationNew        ReputationLevel = "new"
	ReputationVerified   ReputationLevel = "verified"
	ReputationTrusted    ReputationLevel = "trusted"
	ReputationAmbassador ReputationLevel = "ambassador"
)

// ReputationLevelFor 평판 점수에 따른 레벨
func ReputationLevelFor(points int) ReputationLevel {
	switch {
	case points >= 2000:
		return ReputationAmbassador
	case points >= 500:
		return ReputationTrusted
	case points >= 100:
		return ReputationVerified
	default:
		return ReputationNew
	}
}

type UserStats struct {
	SessionsTotal     int             `json:"sessionsTotal"`
	SessionsCompleted int             `json:"sessionsCompleted"`
	TotalMinutes      int             `json:"totalMinutes"`
	RatingAverage     float64         `json:"ratingAverage"`
	RatingCount       int             `json:"ratingCount"`
	ReputationPoints  int             `json:"reputationPoints"`
	ReputationLevel   ReputationLevel `json:"reputationLevel"`
}

type NotificationSettings struct {
	Email            bool `json:"email"`
	Push             bool `json:"push"`
	MatchFound       bool `json:"matchFound"`
	SessionReminders bool `json:"sessionReminders"`
}

type PrivacySettings struct {
	ShowGitHubStats     bool `json:"showGitHubStats"`
	ShowLinkedInProfile bool `json:"showLinkedInProfile"`
	AppearAnonymous     bool `json:"appearAnonymous"`
}

type EditorSettings struct {
	Theme        string `json:"theme"`
	FontSize     int    `json:"fontSize"`
	FontFamily   string `json:"fontFamily,omitempty"`
	FormatOnSave bool   `json:"formatOnSave"`
}

type UserSettings struct {
	Notifications NotificationSettings `json:"notifications"`
	Privacy       PrivacySettings      `json:"privacy"`
	Editor        EditorSettings       `json:"editor"`
}

// DefaultUserSettings 신규 사용자 기본 설정
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Notifications: NotificationSettings{Email: true, Push: true, MatchFound: true, SessionReminders: true},
		Privacy:       PrivacySettings{ShowGitHubStats: true, ShowLinkedInProfile: true},
		Editor:        EditorSettings{Theme: "vs-dark", FontSize: 14, FormatOnSave: true},
	}
}

type User struct {
	ID           string           `json:"id" db:"id"`
	Email        string           `json:"email,omitempty" db:"email"`
	Name         string           `json:"name" db:"name"`
	Avatar       string           `json:"avatar,omitempty" db:"avatar"`
	Headline     string           `json:"headline,omitempty" db:"headline"`
	Bio          string           `json:"bio,omitempty" db:"bio"`
	Location     string           `json:"location,omitempty" db:"location"`
	Timezone     string           `json:"timezone,omitempty" db:"timezone"`
	GitHub       *GitHubProfile   `json:"github,omitempty" db:"github"`
	LinkedIn     *LinkedInProfile `json:"linkedin,omitempty" db:"linkedin"`
	TechStack    []TechStackEntry `json:"techStack" db:"tech_stack"`
	Verification Verification     `json:"verification"`
	Availability Availability     `json:"availability"`
	Stats        UserStats        `json:"stats"`
	Settings     UserSettings     `json:"settings" db:"settings"`
	LastActive   time.Time        `json:"lastActive" db:"last_active"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" db:"updated_at"`
}

// Languages 기술 스택 언어 목록 (중복 제거, 순서 유지)
func (u *User) Languages() []string {
	seen := make(map[string]struct{}, len(u.TechStack))
	langs := make([]string, 0, len(u.TechStack))
	for _, t := range u.TechStack {
		if t.Language == "" {
			continue
		}
		if _, ok := seen[t.Language]; ok {
			continue
		}
		seen[t.Language] = struct{}{}
		langs = append(langs, t.Language)
	}
	return langs
}

// GitHubStars 활동 지표로 쓰는 스타 수 (GitHub 연동이 없으면 0)
func (u *User) GitHubStars() int {
	if u.GitHub == nil {
		return 0
	}
	return u.GitHub.Stars
}

// PublicProfile 다른 사용자에게 보여줄 요약
type PublicProfile struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Avatar       string           `json:"avatar,omitempty"`
	Headline     string           `json:"headline,omitempty"`
	GitHub       *GitHubProfile   `json:"github,omitempty"`
	TechStack    []TechStackEntry `json:"techStack"`
	Availability Availability     `json:"availability"`
	Stats        UserStats        `json:"stats"`
}

// Public 개인정보 설정을 반영한 공개 프로필
func (u *User) Public() PublicProfile {
	p := PublicProfile{
		ID:           u.ID,
		Name:         u.Name,
		Avatar:       u.Avatar,
		Headline:     u.Headline,
		TechStack:    u.TechStack,
		Availability: u.Availability,
		Stats:        u.Stats,
	}
	if u.Settings.Privacy.ShowGitHubStats {
		p.GitHub = u.GitHub
	}
	if u.Settings.Privacy.AppearAnonymous {
		p.Name = "Anonymous"
		p.Avatar = ""
	}
	return p
}

type AvailabilityUpdate struct {
	Status     *AvailabilityStatus `json:"status"`
	LookingFor *[]string           `json:"lookingFor"`
}

type UpdateProfileRequest struct {
	Name         *string             `json:"name"`
	Bio          *string             `json:"bio"`
	Headline     *string             `json:"headline"`
	Location     *string             `json:"location"`
	Timezone     *string             `json:"timezone"`
	TechStack    *[]TechStackEntry   `json:"techStack"`
	Availability *AvailabilityUpdate `json:"availability"`
}

// UserSearch 사용자 검색 조건
type UserSearch struct {
	Query      string
	Languages  []string
	Experience ExperienceLevel
	Limit      int
}

// Identity OAuth 제공자 계정 연결 정보
type Identity struct {
	Provider       string    `json:"provider" db:"provider"`
	ProviderUserID string    `json:"providerUserId" db:"provider_user_id"`
	UserID         string    `json:"userId" db:"user_id"`
	Username       string    `json:"username,omitempty" db:"username"`
	AccessToken    string    `json:"-" db:"access_token"`
	RefreshToken   string    `json:"-" db:"refresh_token"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
