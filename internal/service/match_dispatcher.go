package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const retryJitterPercent = 20

// Matcher 매칭 시도 실행자 (MatchingEngine 이 구현)
type Matcher interface {
	AttemptMatch(ctx context.Context, entryID string) (*MatchOutcome, error)
}

// MatchSubmitter 비동기 매칭 요청 접수
type MatchSubmitter interface {
	Submit(entryID string) error
}

type DispatcherConfig struct {
	Workers    int
	Buffer     int
	MaxRetries int
	RetryBase  time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	return c
}

// MatchDispatcher 고정 크기 워커 풀로 매칭 시도를 실행
//
// 호출자는 Submit 후 결과를 기다리지 않는다. 저장소 오류나 stale match 는
// 지수 백오프로 재시도하고, 최종 실패는 로그로 남긴다.
type MatchDispatcher struct {
	matcher Matcher
	cfg     DispatcherConfig
	tasks   chan string
	logger  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewMatchDispatcher(matcher Matcher, cfg DispatcherConfig, logger *zap.Logger) *MatchDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &MatchDispatcher{
		matcher: matcher,
		cfg:     cfg,
		tasks:   make(chan string, cfg.Buffer),
		logger:  logger,
	}
}

// Start 워커 시작
func (d *MatchDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.logger.Info("Starting MatchDispatcher", zap.Int("workers", d.cfg.Workers))

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(d.ctx)
	}
}

// Stop 진행 중인 시도를 취소하고 워커 종료를 기다림
func (d *MatchDispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("MatchDispatcher stopped", zap.Int("pending", len(d.tasks)))
}

// Submit 매칭 요청을 큐에 넣는다. 버퍼가 가득 차면 ErrDispatchFull.
func (d *MatchDispatcher) Submit(entryID string) error {
	select {
	case d.tasks <- entryID:
		return nil
	default:
		d.logger.Warn("Match dispatcher queue full, dropping attempt", zap.String("entryId", entryID))
		return ErrDispatchFull
	}
}

func (d *MatchDispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case entryID := <-d.tasks:
			d.run(ctx, entryID)
		}
	}
}

// run 재시도 정책을 적용해 한 엔트리의 매칭 시도 실행
func (d *MatchDispatcher) run(ctx context.Context, entryID string) {
	backoff := retry.NewExponential(d.cfg.RetryBase)
	backoff = retry.WithJitterPercent(retryJitterPercent, backoff)
	backoff = retry.WithMaxRetries(uint64(d.cfg.MaxRetries), backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		_, err := d.matcher.AttemptMatch(ctx, entryID)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		d.logger.Debug("Retrying match attempt",
			zap.String("entryId", entryID), zap.Int("attempt", attempts), zap.Error(err))
		return retry.RetryableError(err)
	})
	if err == nil {
		return
	}

	if errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, ErrMatchContended) {
		// 엔트리는 waiting 이므로 다음 스윕에서 다시 시도된다
		d.logger.Warn("Match attempt still contended",
			zap.String("entryId", entryID), zap.Int("attempts", attempts))
		return
	}
	d.logger.Error("Match attempt failed",
		zap.String("entryId", entryID),
		zap.Int("attempts", attempts),
		zap.Error(err))
}

// retryable 엔트리가 없거나 모드가 잘못된 경우는 재시도해도 소용없음
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrQueueEntryNotFound), errors.Is(err, ErrInvalidMode):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}
