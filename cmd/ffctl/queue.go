package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kkhushie/fetchfriends.dev/internal/models"
	"github.com/kkhushie/fetchfriends.dev/pkg/distributed"
	"github.com/spf13/cobra"
)

// reindexLimit 재구성 시 읽어 오는 최대 waiting 엔트리 수
const reindexLimit = 10000

// NewQueueCommand 큐 현황과 인덱스 관리
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the matching queue",
	}
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueReindexCommand(rootOpts))
	return cmd
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show waiting entries and estimated wait per mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := buildComponents(e).queueSvc.Stats(cmd.Context())
			if err != nil {
				return err
			}

			return output(cmd.OutOrStdout(), rootOpts, stats, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MODE\tWAITING\tINDEXED\tEST. WAIT")
				for _, s := range stats {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%ds\n", s.Mode, s.Waiting, s.IndexLength, s.EstimatedWait)
				}
				tw.Flush()
			})
		},
	}
}

func newQueueReindexCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Redis queue index from the database",
		Long: `Clear the per-mode Redis lists and push every waiting entry again,
oldest first. The database stays authoritative; this only repairs drift.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.redis == nil {
				return errors.New("REDIS_URL is not set; nothing to reindex")
			}

			counts, err := reindex(cmd.Context(), distributed.NewRedisQueueIndex(e.redis, ""), buildComponents(e))
			if err != nil {
				return err
			}

			return output(cmd.OutOrStdout(), rootOpts, counts, func(w io.Writer) {
				for _, mode := range models.QueueModes {
					fmt.Fprintf(w, "%s: %d\n", mode, counts[mode])
				}
			})
		},
	}
}

func reindex(ctx context.Context, index *distributed.RedisQueueIndex, c *components) (map[models.QueueMode]int, error) {
	waiting, err := c.queue.ListWaiting(ctx, reindexLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting entries: %w", err)
	}

	for _, mode := range models.QueueModes {
		if err := index.Clear(ctx, mode); err != nil {
			return nil, err
		}
	}

	counts := make(map[models.QueueMode]int, len(models.QueueModes))
	for _, entry := range waiting {
		if err := index.Push(ctx, entry.Mode, entry.ID); err != nil {
			return nil, fmt.Errorf("failed to push %s: %w", entry.ID, err)
		}
		counts[entry.Mode]++
	}
	return counts, nil
}
