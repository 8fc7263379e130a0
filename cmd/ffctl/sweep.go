package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/repository"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/pkg/distributed"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
	"github.com/spf13/cobra"
)

// components 큐 관련 서비스 조립 (서버와 같은 구성, 디스패처 제외)
type components struct {
	queue    *repository.QueueRepository
	index    service.QueueIndex
	relay    service.Relay
	locker   service.Locker
	engine   *service.MatchingEngine
	queueSvc *service.QueueService
}

func buildComponents(e *env) *components {
	zlog := logger.Get()
	c := &components{queue: repository.NewQueueRepository(e.db)}
	users := repository.NewUserRepository(e.db)

	if e.redis != nil {
		c.index = distributed.NewRedisQueueIndex(e.redis, "")
		c.relay = distributed.NewRedisRelay(e.redis, zlog, "")
		c.locker = distributed.NewRedisLockManager(e.redis, "ffctl")
	} else {
		c.index = service.NewMemoryQueueIndex()
	}

	factory := service.NewSessionFactory(c.queue, c.index, c.relay, zlog, nil)
	c.engine = service.NewMatchingEngine(c.queue, users, factory, c.index, zlog)
	c.queueSvc = service.NewQueueService(c.queue, c.index, c.engine, nil, c.relay, zlog, nil)
	return c
}

// syncSubmitter 디스패처 없이 바로 매칭 시도 (CLI 한 번 실행용)
type syncSubmitter struct {
	ctx     context.Context
	engine  *service.MatchingEngine
	matched int
}

func (s *syncSubmitter) Submit(entryID string) error {
	outcome, err := s.engine.AttemptMatch(s.ctx, entryID)
	if err != nil {
		logger.Warn("Match attempt failed", "entryId", entryID, "error", err)
		return nil
	}
	if outcome != nil && outcome.Matched {
		s.matched++
	}
	return nil
}

type sweepOutput struct {
	service.SweepResult
	Matched int `json:"matched"`
}

// NewSweepCommand 스위퍼 한 번 실행
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		match   bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one queue sweep pass",
		Long: `Expire overdue waiting entries, recover entries stuck in matching and,
with --match, run a matching attempt for the oldest waiting entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := buildComponents(e)
			var submitter service.MatchSubmitter
			direct := &syncSubmitter{ctx: ctx, engine: c.engine}
			if match {
				submitter = direct
			}

			sweeper := service.NewQueueSweeper(c.queue, c.index, c.relay, submitter, c.locker, service.SweeperConfig{
				Interval:     timeout,
				StuckTimeout: e.cfg.Matching.StuckTimeout,
				Batch:        e.cfg.Matching.SweepBatch,
			}, logger.Get(), nil)

			result, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}

			out := sweepOutput{SweepResult: result, Matched: direct.matched}
			return output(cmd.OutOrStdout(), rootOpts, out, func(w io.Writer) {
				if result.Skipped {
					fmt.Fprintln(w, "skipped: another instance holds the sweeper lock")
					return
				}
				fmt.Fprintf(w, "expired=%d recovered=%d resubmitted=%d matched=%d\n",
					result.Expired, result.Recovered, result.Resubmitted, direct.matched)
			})
		},
	}

	cmd.Flags().BoolVar(&match, "match", false, "attempt matches for waiting entries")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
	return cmd
}
