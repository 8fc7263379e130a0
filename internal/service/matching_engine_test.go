package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type engineHarness struct {
	db     *memDB
	relay  *recordingRelay
	index  *MemoryQueueIndex
	engine *MatchingEngine
	now    time.Time
}

func newEngineHarness(now time.Time) *engineHarness {
	db := newMemDB()
	relay := &recordingRelay{}
	index := NewMemoryQueueIndex()
	clock := fixedClock(now)
	factory := NewSessionFactory(memQueue{db}, index, relay, nil, clock)
	engine := NewMatchingEngine(memQueue{db}, memUsers{db}, factory, index, nil, WithEngineClock(clock))
	return &engineHarness{db: db, relay: relay, index: index, engine: engine, now: now}
}

func (h *engineHarness) enqueue(id, userID string, mode models.QueueMode, params models.QueueParams, waitStart time.Time) {
	h.db.addEntry(&models.QueueEntry{
		ID:        id,
		UserID:    userID,
		Mode:      mode,
		Params:    params,
		Status:    models.QueueStatusWaiting,
		WaitStart: waitStart,
		Heartbeat: waitStart,
		CreatedAt: waitStart,
	})
	_ = h.index.Push(context.Background(), mode, id)
}

func TestAttemptMatch_RandomOldestFirst(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(5*time.Second))
	h.enqueue("C", "user-c", models.QueueModeRandom, models.QueueParams{}, t0.Add(8*time.Second))

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, out.Matched)

	assert.Equal(t, "B", out.Partner.ID)
	assert.Equal(t, RandomMatchScore, out.Score)
	require.Len(t, out.Session.Participants, 2)
	assert.Equal(t, "user-a", out.Session.Participants[0].UserID)
	assert.Equal(t, "user-b", out.Session.Participants[1].UserID)
	assert.Equal(t, models.SessionStatusWaiting, out.Session.Status)
	assert.Equal(t, models.MatchTypeRandom, out.Session.MatchType)
	assert.Len(t, out.Session.RoomID, 32)

	assert.Equal(t, 1, h.db.sessionCount())

	a := h.db.entry("A")
	b := h.db.entry("B")
	assert.Equal(t, models.QueueStatusMatched, a.Status)
	assert.Equal(t, models.QueueStatusMatched, b.Status)
	require.NotNil(t, a.Match)
	assert.Equal(t, out.Session.ID, a.Match.SessionID)
	assert.Equal(t, []string{"user-b"}, a.Match.MatchedWith)
	assert.Equal(t, []string{"user-a"}, b.Match.MatchedWith)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("C").Status)

	// 매칭된 엔트리는 인덱스에서 빠짐
	n, _ := h.index.Length(context.Background(), models.QueueModeRandom)
	assert.Equal(t, 1, n)

	events := h.relay.byEvent(EventMatchFound)
	require.Len(t, events, 2)
	assert.Equal(t, QueueChannel("A"), events[0].Channel)
	payload, ok := events[0].Payload.(MatchFoundPayload)
	require.True(t, ok)
	assert.Equal(t, out.Session.RoomID, payload.RoomID)
	assert.Equal(t, RandomMatchScore, payload.Score)
}

func TestAttemptMatch_RandomSkipsCandidatesAboutToExpire(t *testing.T) {
	now := t0.Add(10 * time.Second)
	h := newEngineHarness(now)
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	// 남은 대기 시간 20초
	h.enqueue("old", "user-old", models.QueueModeRandom, models.QueueParams{}, now.Add(-160*time.Second))

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("old").Status)
	assert.Equal(t, 0, h.db.sessionCount())
}

func TestAttemptMatch_RandomIgnoresOtherModes(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("S", "user-s", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
}

func TestAttemptMatch_SkillBoundaryAccepted(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.db.addUser(&models.User{ID: "user-a", TechStack: stack(models.ExperienceExpert, "go", "rust")})
	h.db.addUser(&models.User{ID: "user-b", TechStack: stack(models.ExperienceExpert, "go")})
	h.enqueue("A", "user-a", models.QueueModeSkill, models.QueueParams{Languages: []string{"go", "rust"}}, t0)
	h.enqueue("B", "user-b", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, out.Matched)
	assert.Equal(t, 60, out.Score)
	assert.Equal(t, "go", out.Session.Language)
	assert.Equal(t, models.MatchTypeSkill, out.Session.MatchType)
}

func TestAttemptMatch_SkillBelowThreshold(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.db.addUser(&models.User{ID: "user-a", TechStack: stack(models.ExperienceBeginner, "go", "rust", "c")})
	h.db.addUser(&models.User{ID: "user-b", TechStack: stack(models.ExperienceExpert, "go", "java", "kotlin")})
	h.enqueue("A", "user-a", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)
	h.enqueue("B", "user-b", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
}

func TestAttemptMatch_SkillPrefersHigherScoreThenOldest(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.db.addUser(&models.User{ID: "user-a", TechStack: stack(models.ExperienceExpert, "go")})
	h.db.addUser(&models.User{ID: "user-older", TechStack: stack(models.ExperienceExpert, "go", "rust")})
	h.db.addUser(&models.User{ID: "user-best", TechStack: stack(models.ExperienceExpert, "go")})
	h.db.addUser(&models.User{ID: "user-twin", TechStack: stack(models.ExperienceExpert, "go")})

	h.enqueue("A", "user-a", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(30*time.Second))
	h.enqueue("older", "user-older", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)
	h.enqueue("best", "user-best", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(10*time.Second))
	h.enqueue("twin", "user-twin", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(20*time.Second))

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, out.Matched)
	// older=60, best=twin=80. 동점이면 먼저 기다린 best
	assert.Equal(t, "best", out.Partner.ID)
	assert.Equal(t, 80, out.Score)
}

func TestAttemptMatch_SkillSkipsMissingProfiles(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.db.addUser(&models.User{ID: "user-a", TechStack: stack(models.ExperienceExpert, "go")})
	h.db.addUser(&models.User{ID: "user-c", TechStack: stack(models.ExperienceExpert, "go")})
	h.enqueue("A", "user-a", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(30*time.Second))
	h.enqueue("ghost", "user-ghost", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0)
	h.enqueue("C", "user-c", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(10*time.Second))

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, out.Matched)
	assert.Equal(t, "C", out.Partner.ID)
}

func TestAttemptMatch_EmptyParamsNeverMatch(t *testing.T) {
	tests := []struct {
		name string
		mode models.QueueMode
	}{
		{"skill without languages", models.QueueModeSkill},
		{"goal without goals", models.QueueModeGoal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newEngineHarness(t0.Add(time.Minute))
			h.db.addUser(&models.User{ID: "user-a"})
			h.db.addUser(&models.User{ID: "user-b"})
			h.enqueue("A", "user-a", tt.mode, models.QueueParams{}, t0)
			h.enqueue("B", "user-b", tt.mode, models.QueueParams{}, t0)

			out, err := h.engine.AttemptMatch(context.Background(), "A")
			require.NoError(t, err)
			assert.False(t, out.Matched)
			assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
		})
	}
}

func TestAttemptMatch_GoalExactStringBelowThreshold(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.db.addUser(&models.User{ID: "user-a", Availability: models.Availability{LookingFor: []string{"learn"}}})
	h.db.addUser(&models.User{ID: "user-b", Availability: models.Availability{LookingFor: []string{"teach", "react-mentor"}}})
	h.enqueue("A", "user-a", models.QueueModeGoal, models.QueueParams{Goals: []string{"learn-react"}}, t0)
	h.enqueue("B", "user-b", models.QueueModeGoal, models.QueueParams{Goals: []string{"learn-react"}}, t0)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, 0, h.db.sessionCount())
}

func TestAttemptMatch_GoalMatch(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.db.addUser(&models.User{ID: "user-a", Availability: models.Availability{LookingFor: []string{"learn"}}})
	h.db.addUser(&models.User{ID: "user-b", Availability: models.Availability{LookingFor: []string{"teach", "learn-react"}}})
	h.enqueue("A", "user-a", models.QueueModeGoal, models.QueueParams{Goals: []string{"learn-react"}}, t0)
	h.enqueue("B", "user-b", models.QueueModeGoal, models.QueueParams{Goals: []string{"learn-react"}}, t0)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	require.True(t, out.Matched)
	assert.Equal(t, 60, out.Score)
	assert.Equal(t, []string{"learn-react"}, out.Session.Goals)
}

func TestAttemptMatch_NotWaitingIsNoop(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0)
	_, _ = memQueue{h.db}.UpdateStatusIfCurrent(context.Background(), "A", models.QueueStatusWaiting, models.QueueStatusCancelled)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, models.QueueStatusCancelled, h.db.entry("A").Status)
	assert.Equal(t, 0, h.db.sessionCount())
}

func TestAttemptMatch_UnknownEntry(t *testing.T) {
	h := newEngineHarness(t0)

	_, err := h.engine.AttemptMatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQueueEntryNotFound)
}

func TestAttemptMatch_StoreErrorReverts(t *testing.T) {
	h := newEngineHarness(t0.Add(time.Minute))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.db.candidatesErr = errors.New("connection reset")

	_, err := h.engine.AttemptMatch(context.Background(), "A")
	require.Error(t, err)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
}

func TestAttemptMatch_CancelledMidFlight(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(5*time.Second))

	queue := NewQueueService(memQueue{h.db}, h.index, h.engine, nil, h.relay, nil, fixedClock(h.now))
	h.db.beforeCommit = func() {
		left, err := queue.Dequeue(context.Background(), "user-a")
		require.NoError(t, err)
		require.NotNil(t, left)
	}

	_, err := h.engine.AttemptMatch(context.Background(), "A")
	assert.ErrorIs(t, err, ErrStaleMatch)

	assert.Equal(t, models.QueueStatusCancelled, h.db.entry("A").Status)
	assert.Nil(t, h.db.entry("A").Match)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("B").Status)
	assert.Nil(t, h.db.entry("B").Match)
	assert.Equal(t, 0, h.db.sessionCount())
	assert.Empty(t, h.relay.byEvent(EventMatchFound))
}

func TestAttemptMatch_PartnerLeftMidFlight(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(5*time.Second))

	h.db.beforeCommit = func() {
		_, _ = memQueue{h.db}.UpdateStatusIfCurrent(context.Background(), "B", models.QueueStatusWaiting, models.QueueStatusCancelled)
	}

	_, err := h.engine.AttemptMatch(context.Background(), "A")
	assert.ErrorIs(t, err, ErrStaleMatch)

	// 요청자는 다시 waiting 으로 돌아가 다음 시도를 기다림
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
	assert.Equal(t, models.QueueStatusCancelled, h.db.entry("B").Status)
	assert.Equal(t, 0, h.db.sessionCount())
}

func TestAttemptMatch_ConcurrentSameEntry(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(5*time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = h.engine.AttemptMatch(context.Background(), id)
		}([]string{"A", "B"}[i%2])
	}
	wg.Wait()

	assert.LessOrEqual(t, h.db.sessionCount(), 1)

	// 양쪽이 동시에 matching 이면 둘 다 되돌아갈 수 있으므로 한 번 더 시도
	if h.db.sessionCount() == 0 {
		_, err := h.engine.AttemptMatch(context.Background(), "A")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.db.sessionCount())
	assert.Equal(t, 1, h.db.commits)
	assert.Equal(t, models.QueueStatusMatched, h.db.entry("A").Status)
	assert.Equal(t, models.QueueStatusMatched, h.db.entry("B").Status)
}

func TestAttemptMatch_ConcurrentManyEntries(t *testing.T) {
	h := newEngineHarness(t0.Add(30 * time.Second))
	const n = 30
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("E%02d", i)
		h.enqueue(id, "user-"+id, models.QueueModeRandom, models.QueueParams{}, t0.Add(time.Duration(i)*time.Second))
	}

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = h.engine.AttemptMatch(context.Background(), id)
			}(fmt.Sprintf("E%02d", i))
		}
	}
	wg.Wait()

	// 어떤 사용자도 두 세션에 들어가지 않음
	seen := make(map[string]string)
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	for _, s := range h.db.sessions {
		require.Len(t, s.Participants, 2)
		for _, p := range s.Participants {
			prev, dup := seen[p.UserID]
			assert.False(t, dup, "user %s in sessions %s and %s", p.UserID, prev, s.ID)
			seen[p.UserID] = s.ID
		}
	}
	for _, e := range h.db.entries {
		if e.Status == models.QueueStatusMatched {
			require.NotNil(t, e.Match)
			_, ok := h.db.sessions[e.Match.SessionID]
			assert.True(t, ok)
		} else {
			assert.Equal(t, models.QueueStatusWaiting, e.Status)
		}
	}
}

func TestEstimateWaitTime_Monotonic(t *testing.T) {
	h := newEngineHarness(t0)
	ctx := context.Background()

	prev, err := h.engine.EstimateWaitTime(ctx, models.QueueModeRandom)
	require.NoError(t, err)
	assert.Equal(t, 0, prev)

	for i := 0; i < 5; i++ {
		h.enqueue(fmt.Sprintf("E%d", i), fmt.Sprintf("u%d", i), models.QueueModeRandom, models.QueueParams{}, t0)
		wait, err := h.engine.EstimateWaitTime(ctx, models.QueueModeRandom)
		require.NoError(t, err)
		assert.Greater(t, wait, prev)
		prev = wait
	}
	assert.Equal(t, 150, prev)

	other, err := h.engine.EstimateWaitTime(ctx, models.QueueModeGoal)
	require.NoError(t, err)
	assert.Equal(t, 0, other)
}

func TestEstimateWaitTime_FallsBackToStore(t *testing.T) {
	db := newMemDB()
	engine := NewMatchingEngine(memQueue{db}, memUsers{db}, nil, nil, nil)
	db.addEntry(&models.QueueEntry{ID: "A", UserID: "a", Mode: models.QueueModeSkill, Status: models.QueueStatusWaiting, WaitStart: t0})
	db.addEntry(&models.QueueEntry{ID: "B", UserID: "b", Mode: models.QueueModeSkill, Status: models.QueueStatusWaiting, WaitStart: t0})

	wait, err := engine.EstimateWaitTime(context.Background(), models.QueueModeSkill)
	require.NoError(t, err)
	assert.Equal(t, 60, wait)
}

func TestPositionInQueue(t *testing.T) {
	h := newEngineHarness(t0)
	h.enqueue("A", "a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "b", models.QueueModeRandom, models.QueueParams{}, t0)

	assert.Equal(t, 1, h.engine.PositionInQueue(context.Background(), h.db.entry("A")))
	assert.Equal(t, 2, h.engine.PositionInQueue(context.Background(), h.db.entry("B")))
	assert.Equal(t, 0, h.engine.PositionInQueue(context.Background(), &models.QueueEntry{ID: "zzz", Mode: models.QueueModeRandom}))
	assert.Equal(t, 0, h.engine.PositionInQueue(context.Background(), nil))
}

func TestAttemptMatch_ContendedWithNewerEntry(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(time.Second))
	// B 에 대한 다른 시도가 진행 중
	_, _ = memQueue{h.db}.UpdateStatusIfCurrent(context.Background(), "B", models.QueueStatusWaiting, models.QueueStatusMatching)

	_, err := h.engine.AttemptMatch(context.Background(), "A")
	assert.ErrorIs(t, err, ErrMatchContended)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("A").Status)
	assert.Zero(t, h.db.sessionCount())
}

func TestAttemptMatch_NewerEntryYieldsToOlder(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("B", "user-b", models.QueueModeRandom, models.QueueParams{}, t0.Add(time.Second))
	_, _ = memQueue{h.db}.UpdateStatusIfCurrent(context.Background(), "A", models.QueueStatusWaiting, models.QueueStatusMatching)

	out, err := h.engine.AttemptMatch(context.Background(), "B")
	require.NoError(t, err)
	assert.False(t, out.Matched)
	assert.Equal(t, models.QueueStatusWaiting, h.db.entry("B").Status)
}

func TestAttemptMatch_OtherModeDoesNotContend(t *testing.T) {
	h := newEngineHarness(t0.Add(10 * time.Second))
	h.enqueue("A", "user-a", models.QueueModeRandom, models.QueueParams{}, t0)
	h.enqueue("S", "user-s", models.QueueModeSkill, models.QueueParams{Languages: []string{"go"}}, t0.Add(time.Second))
	_, _ = memQueue{h.db}.UpdateStatusIfCurrent(context.Background(), "S", models.QueueStatusWaiting, models.QueueStatusMatching)

	out, err := h.engine.AttemptMatch(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, out.Matched)
}
