package service

import (
	"math"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
)

const (
	// MatchThreshold 이 점수 이상이어야 매칭 성립
	MatchThreshold = 60
	// RandomMatchScore random 모드 매칭에 부여하는 고정 점수
	RandomMatchScore = 50

	languageWeight   = 40.0
	experienceWeight = 30.0
	activityWeight   = 20.0
	timezoneWeight   = 10.0

	// 경험 레벨 1단계 차이당 감점
	experienceStep = 10.0
	// 이 스타 수에서 활동 점수 만점
	activityCap = 100.0

	reciprocalBonus  = 50
	sharedGoalBonus  = 10
	techOverlapStep  = 10
	techOverlapCap   = 30
	maxCompatibility = 100
	intentLearn      = "learn"
	intentTeach      = "teach"
)

// SkillSimilarity 기술 스택 유사도 (0~100, 반올림)
//
// 언어 겹침 40, 경험 근접도 30, GitHub 활동 20, 타임존 10.
// 요청 언어는 후보 조회 단계에서만 쓰이고 점수에는 반영하지 않는다.
func SkillSimilarity(a, b *models.User, _ []string) int {
	score := languageOverlapScore(a.Languages(), b.Languages())

	expDiff := math.Abs(averageExperience(a) - averageExperience(b))
	score += math.Max(0, experienceWeight-expDiff*experienceStep)

	minStars := math.Min(float64(a.GitHubStars()), float64(b.GitHubStars()))
	score += math.Min(activityWeight, minStars/activityCap*activityWeight)

	score += timezoneScore(a, b)

	return int(math.Round(score))
}

// GoalCompatibility 목표 호환도 (0~100)
//
// learn/teach 상호 보완 +50, 요청 목표가 상대 lookingFor 에 그대로 있으면 개당 +10,
// 공통 언어 개당 +10 (최대 30).
func GoalCompatibility(a, b *models.User, goals []string) int {
	score := 0

	aWants := a.Availability.LookingFor
	bWants := b.Availability.LookingFor

	if (contains(aWants, intentLearn) && contains(bWants, intentTeach)) ||
		(contains(aWants, intentTeach) && contains(bWants, intentLearn)) {
		score += reciprocalBonus
	}

	for _, g := range goals {
		if contains(bWants, g) {
			score += sharedGoalBonus
		}
	}

	overlap := len(intersect(a.Languages(), b.Languages()))
	score += min(techOverlapCap, overlap*techOverlapStep)

	return max(0, min(maxCompatibility, score))
}

// languageOverlapScore 공통 언어 / 더 큰 집합 크기 * 40 (한쪽이라도 비면 0)
func languageOverlapScore(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := len(intersect(a, b))
	return float64(common) / float64(max(len(a), len(b))) * languageWeight
}

// averageExperience 기술 스택 경험 레벨 평균 (스택이 없으면 1)
func averageExperience(u *models.User) float64 {
	if len(u.TechStack) == 0 {
		return 1
	}
	total := 0
	for _, t := range u.TechStack {
		total += t.Experience.Level.Weight()
	}
	return float64(total) / float64(len(u.TechStack))
}

// timezoneScore 현재는 고정값. 실제 거리 계산으로 교체할 지점.
func timezoneScore(_, _ *models.User) float64 {
	return timezoneWeight
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// intersect a 순서대로 b 에도 있는 값 (중복 제거)
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, ok := set[s]; !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
