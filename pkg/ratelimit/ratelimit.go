package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule Window 동안 Limit 번까지 허용. Name 은 키 공간을 나눈다 ("global", "auth", "match-join")
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Result 한 번의 판정 결과
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // 거부됐을 때 다음 요청까지 기다릴 시간
}

// Limiter middleware.RateLimit 이 사용하는 공통 인터페이스
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (*Result, error)
}

// bucketEntry holds a rate.Limiter and the time it was last used
type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter golang.org/x/time/rate 토큰 버킷을 키마다 하나씩 두는 프로세스 내 limiter.
// Limit 개까지 몰아서 허용하고 Window/Limit 마다 하나씩 채워진다.
type MemoryLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucketEntry
	idleTTL     time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// NewMemoryLimiter idleTTL 동안 쓰이지 않은 버킷은 다음 호출 때 정리된다
func NewMemoryLimiter(idleTTL time.Duration) *MemoryLimiter {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &MemoryLimiter{
		buckets:     make(map[string]*bucketEntry),
		idleTTL:     idleTTL,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Allow 토큰 하나를 소비할 수 있으면 허용
func (m *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (*Result, error) {
	now := m.now()
	lim := m.bucket(rule, key, now)

	res := &Result{Limit: rule.Limit}
	if lim.AllowN(now, 1) {
		res.Allowed = true
	} else {
		// 예약으로 대기 시간만 계산하고 곧바로 취소
		r := lim.ReserveN(now, 1)
		res.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}

	if tokens := lim.TokensAt(now); tokens > 0 {
		res.Remaining = int(tokens)
	}
	return res, nil
}

// Reset 키의 버킷을 지워 다시 가득 찬 상태로 만든다
func (m *MemoryLimiter) Reset(rule Rule, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, rule.Name+":"+key)
}

// Len 현재 유지 중인 버킷 수
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) bucket(rule Rule, key string, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastCleanup) > m.idleTTL {
		m.cleanup(now)
	}

	id := rule.Name + ":" + key
	if e, ok := m.buckets[id]; ok {
		e.lastSeen = now
		return e.limiter
	}

	limit := rule.Limit
	if limit <= 0 {
		limit = 1
	}
	lim := rate.NewLimiter(rate.Every(rule.Window/time.Duration(limit)), limit)
	m.buckets[id] = &bucketEntry{limiter: lim, lastSeen: now}
	return lim
}

// cleanup removes buckets that have not been used for idleTTL. Caller holds mu.
func (m *MemoryLimiter) cleanup(now time.Time) {
	for id, e := range m.buckets {
		if now.Sub(e.lastSeen) > m.idleTTL {
			delete(m.buckets, id)
		}
	}
	m.lastCleanup = now
}
