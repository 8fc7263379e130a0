package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kkhushie/fetchfriends.dev/internal/config"
	"github.com/kkhushie/fetchfriends.dev/pkg/database"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// RootOptions 모든 하위 명령 공통 플래그
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json"
}

var validFormats = []string{"text", "json"}

// NewRootCommand ffctl 루트 명령
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "ffctl",
		Short:         "FetchFriends operations CLI",
		Long:          "Administrative commands for the FetchFriends matchmaking backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

// env 명령 실행에 필요한 연결
type env struct {
	cfg   *config.Config
	db    *database.DB
	redis *redis.Client
}

func openEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if opts.Verbose {
		level = "debug"
	}
	logger.Init(level)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rdb, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &env{cfg: cfg, db: db, redis: rdb}, nil
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	_ = e.db.Close()
	logger.Sync()
}

// output json 이면 v 를 그대로, text 면 textFn 결과를 출력
func output(w io.Writer, opts *RootOptions, v interface{}, textFn func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	textFn(w)
	return nil
}
