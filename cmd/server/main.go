package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kkhushie/fetchfriends.dev/internal/api"
	"github.com/kkhushie/fetchfriends.dev/internal/api/handlers"
	"github.com/kkhushie/fetchfriends.dev/internal/config"
	"github.com/kkhushie/fetchfriends.dev/internal/repository"
	"github.com/kkhushie/fetchfriends.dev/internal/service"
	"github.com/kkhushie/fetchfriends.dev/internal/websocket"
	"github.com/kkhushie/fetchfriends.dev/pkg/database"
	"github.com/kkhushie/fetchfriends.dev/pkg/distributed"
	jwtutil "github.com/kkhushie/fetchfriends.dev/pkg/jwt"
	"github.com/kkhushie/fetchfriends.dev/pkg/logger"
	"github.com/kkhushie/fetchfriends.dev/pkg/ratelimit"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 로거 초기화
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	zlog := logger.Get()

	logger.Info("Starting FetchFriends API",
		"port", cfg.Port,
		"env", cfg.Env,
	)

	// 데이터베이스 연결 및 마이그레이션
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to apply migrations", "error", err)
	}
	logger.Info("Database connection established")

	// Redis (선택)
	rdb, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to redis", "error", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	health := map[string]handlers.Pinger{"database": db.PingContext}

	// Repository 초기화
	userRepo := repository.NewUserRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)

	// 인덱스, 릴레이, 락, rate limiter: Redis 가 있으면 분산, 없으면 프로세스 내
	hubOpts := websocket.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:         zlog,
	}
	var (
		index   service.QueueIndex
		locker  service.Locker
		limiter ratelimit.Limiter
		relay   service.Relay
		hub     *websocket.Hub
	)
	if rdb != nil {
		redisRelay := distributed.NewRedisRelay(rdb, zlog, "")
		hubOpts.Upstream = redisRelay
		hub = websocket.NewHub(hubOpts)
		relay = redisRelay
		index = distributed.NewRedisQueueIndex(rdb, "")
		lockManager := distributed.NewRedisLockManager(rdb, "")
		locker = lockManager
		limiter = ratelimit.NewRedisRateLimiter(rdb, "")
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }

		go func() {
			if err := redisRelay.Run(ctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Relay subscriber exited", "error", err)
			}
		}()
		logger.Info("Redis mode enabled", "instanceId", lockManager.InstanceID())
	} else {
		hub = websocket.NewHub(hubOpts)
		relay = hub
		index = service.NewMemoryQueueIndex()
		limiter = ratelimit.NewMemoryLimiter(0)
		logger.Warn("REDIS_URL not set, running single-instance mode")
	}

	// Service 초기화
	userService := service.NewUserService(userRepo, relay, zlog, nil)
	sessionService := service.NewSessionService(sessionRepo, userRepo, relay, zlog, nil)
	feedbackService := service.NewFeedbackService(feedbackRepo, sessionRepo, userRepo, relay, zlog, nil)

	factory := service.NewSessionFactory(queueRepo, index, relay, zlog, nil)
	engine := service.NewMatchingEngine(queueRepo, userRepo, factory, index, zlog)
	dispatcher := service.NewMatchDispatcher(engine, service.DispatcherConfig{
		Workers:    cfg.Matching.Workers,
		Buffer:     cfg.Matching.QueueBuffer,
		MaxRetries: cfg.Matching.MaxRetries,
		RetryBase:  cfg.Matching.RetryBase,
	}, zlog)
	queueService := service.NewQueueService(queueRepo, index, engine, dispatcher, relay, zlog, nil)
	sweeper := service.NewQueueSweeper(queueRepo, index, relay, dispatcher, locker, service.SweeperConfig{
		Interval:     cfg.Matching.SweepInterval,
		StuckTimeout: cfg.Matching.StuckTimeout,
		Batch:        cfg.Matching.SweepBatch,
	}, zlog, nil)

	tokens := jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	authService := service.NewAuthService(userRepo, tokens, oauthProviders(cfg), zlog, nil)

	// WebSocket Hub 시작
	hub.SetServices(sessionService, queueService, userService)
	go hub.Run(ctx)

	dispatcher.Start()
	sweeper.Start()

	router := api.SetupRouter(api.Dependencies{
		Config:   cfg,
		Tokens:   tokens,
		Limiter:  limiter,
		Auth:     authService,
		Users:    userService,
		Queue:    queueService,
		Sessions: sessionService,
		Feedback: feedbackService,
		Hub:      hub,
		Health:   health,
	})

	// 서버 설정. WebSocket 연결이 끊기지 않도록 WriteTimeout 은 두지 않는다
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 서버 시작 (고루틴)
	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown 대기
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 10초 타임아웃으로 종료
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	sweeper.Stop()
	dispatcher.Stop()
	stop()

	logger.Info("Server exited")
}

// oauthProviders 클라이언트 ID 가 설정된 제공자만 활성화
func oauthProviders(cfg *config.Config) map[string]*service.OAuthProvider {
	providers := make(map[string]*service.OAuthProvider)
	callback := func(name string) string {
		return cfg.OAuthCallbackBaseURL + "/api/v1/auth/" + name + "/callback"
	}
	if cfg.GitHubClientID != "" {
		providers["github"] = service.GitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, callback("github"))
	}
	if cfg.LinkedInClientID != "" {
		providers["linkedin"] = service.LinkedInProvider(cfg.LinkedInClientID, cfg.LinkedInClientSecret, callback("linkedin"))
	}
	if len(providers) == 0 {
		logger.Warn("No OAuth providers configured; login is disabled")
	}
	return providers
}
