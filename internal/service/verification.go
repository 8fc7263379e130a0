package service

import (
	"math"
	"strings"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

const (
	ProviderGitHub   = "github"
	ProviderLinkedIn = "linkedin"

	// 전체 점수를 내려면 필요한 최소 검증 수단 수
	minVerificationMethods = 2
	multiMethodBonus       = 10
)

// linkedInKeywords 헤드라인에서 찾는 기술 키워드
var linkedInKeywords = []string{
	"developer", "engineer", "programmer", "software", "tech",
	"coding", "javascript", "python", "react", "node",
}

// GitHubSignals GitHub 검증 점수 입력
type GitHubSignals struct {
	CreatedAt   time.Time
	PublicRepos int
	Followers   int
	Repos       []models.GitHubRepoSummary
}

type LinkedInPosition struct {
	Title   string
	Company string
}

// LinkedInSignals LinkedIn 검증 점수 입력
type LinkedInSignals struct {
	FirstName string
	LastName  string
	Headline  string
	Positions []LinkedInPosition
}

// GitHubScore 계정 나이 20, 저장소 30, 팔로워 15, 스타 20, 언어 다양성 15 (최대 100)
func GitHubScore(g GitHubSignals, now time.Time) int {
	var score float64

	months := math.Floor(now.Sub(g.CreatedAt).Hours() / 24 / 30)
	if g.CreatedAt.IsZero() || months < 0 {
		months = 0
	}
	score += math.Min(months/3, 20)
	score += math.Min(float64(g.PublicRepos)*3, 30)
	score += math.Min(float64(g.Followers)*0.5, 15)

	stars := 0
	languages := make(map[string]struct{})
	for _, r := range g.Repos {
		stars += r.Stars
		if r.Language != "" {
			languages[r.Language] = struct{}{}
		}
	}
	score += math.Min(float64(stars)*0.1, 20)
	score += math.Min(float64(len(languages))*3, 15)

	return min(int(math.Round(score)), 100)
}

// LinkedInScore 프로필 완성도 30, 헤드라인 기술 키워드 30, 현재 직책 20, 계정 20
func LinkedInScore(l LinkedInSignals) int {
	score := 0

	if l.FirstName != "" && l.LastName != "" {
		score += 10
	}
	if l.Headline != "" {
		score += 10
	}
	if len(l.Positions) > 0 {
		score += 10
	}

	headline := strings.ToLower(l.Headline)
	matches := 0
	for _, kw := range linkedInKeywords {
		if strings.Contains(headline, kw) {
			matches++
		}
	}
	score += min(matches*5, 30)

	if len(l.Positions) > 0 {
		if l.Positions[0].Title != "" {
			score += 10
		}
		if l.Positions[0].Company != "" {
			score += 10
		}
	}

	// 토큰 교환에 성공했으면 계정 자체는 확인된 것으로 본다
	score += 20

	return min(score, 100)
}

// OverallScore 검증 수단 점수 평균. 2개 미만이면 0, 3개 이상이면 보너스 10
func OverallScore(scores []int) int {
	if len(scores) < minVerificationMethods {
		return 0
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	avg := float64(total) / float64(len(scores))
	if len(scores) > minVerificationMethods {
		avg += multiMethodBonus
	}
	return min(int(math.Round(avg)), 100)
}

// VerificationStatusFor verified >= 80, pending >= 60, flagged >= 40, 나머지 rejected
func VerificationStatusFor(score int) models.VerificationStatus {
	switch {
	case score >= 80:
		return models.VerificationVerified
	case score >= 60:
		return models.VerificationPending
	case score >= 40:
		return models.VerificationFlagged
	default:
		return models.VerificationRejected
	}
}

// ApplyVerification provider 점수를 반영하고 전체 점수와 상태를 다시 계산
//
// 검증 수단이 하나뿐이면 두 번째 수단을 기다리는 pending 으로 둔다.
func ApplyVerification(v models.Verification, provider string, score int, at time.Time) models.Verification {
	methods := make([]models.VerificationMethod, 0, len(v.Methods)+1)
	methods = append(methods, v.Methods...)
	v.Methods = methods

	if m := v.Method(provider); m != nil {
		m.Score = score
		m.VerifiedAt = at
	} else {
		v.Methods = append(v.Methods, models.VerificationMethod{Provider: provider, VerifiedAt: at, Score: score})
	}

	scores := make([]int, 0, len(v.Methods))
	for _, m := range v.Methods {
		scores = append(scores, m.Score)
	}

	if len(scores) < minVerificationMethods {
		v.Score = 0
		v.Status = models.VerificationPending
		return v
	}
	v.Score = OverallScore(scores)
	v.Status = VerificationStatusFor(v.Score)
	return v
}
