package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kkhushie/fetchfriends.dev/internal/api/handlers"
	"github.com/kkhushie/fetchfriends.dev/internal/api/middleware"
	"github.com/kkhushie/fetchfriends.dev/internal/config"
	"github.com/kkhushie/fetchfriends.dev/internal/websocket"
	"github.com/kkhushie/fetchfriends.dev/pkg/ratelimit"
)

// Dependencies 라우터가 필요로 하는 서비스. cmd/server 에서 조립한다
type Dependencies struct {
	Config   *config.Config
	Tokens   middleware.TokenVerifier
	Limiter  ratelimit.Limiter
	Auth     handlers.AuthAPI
	Users    handlers.UserAPI
	Queue    handlers.QueueAPI
	Sessions handlers.SessionAPI
	Feedback handlers.FeedbackAPI
	Hub      *websocket.Hub
	Health   map[string]handlers.Pinger
}

// SetupRouter API 라우터 설정
func SetupRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	auth := middleware.Auth(deps.Tokens)

	// Handler 초기화
	healthHandler := handlers.NewHealthHandler(deps.Health)
	authHandler := handlers.NewAuthHandler(deps.Auth, deps.Users, cfg.FrontendURL, cfg.Env == "production")
	userHandler := handlers.NewUserHandler(deps.Users)
	matchHandler := handlers.NewMatchHandler(deps.Queue, deps.Sessions)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)
	feedbackHandler := handlers.NewFeedbackHandler(deps.Feedback)

	// Health check
	router.GET("/health", healthHandler.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(deps.Limiter, middleware.GlobalRule, middleware.IPKeyFunc))
	{
		// WebSocket endpoint
		if deps.Hub != nil {
			wsHandler := handlers.NewWebSocketHandler(deps.Hub)
			v1.GET("/ws", auth, wsHandler.HandleWebSocket)
		}

		// Auth routes
		authRoutes := v1.Group("/auth")
		{
			authRoutes.GET("/providers", authHandler.Providers)
			authRoutes.GET("/me", auth, authHandler.Me)
			authRoutes.POST("/logout", auth, authHandler.Logout)
			authRoutes.GET("/verify/status", auth, authHandler.VerificationStatus)

			authLimit := middleware.RateLimit(deps.Limiter, middleware.AuthRule, middleware.IPKeyFunc)
			authRoutes.GET("/:provider", authLimit, authHandler.Login)
			authRoutes.GET("/:provider/callback", authLimit, authHandler.Callback)
		}

		// User routes
		users := v1.Group("/users")
		users.Use(auth)
		{
			users.GET("/me", userHandler.GetCurrentUser)
			users.PUT("/me", userHandler.UpdateCurrentUser)
			users.GET("/me/stats", userHandler.GetStats)
			users.PUT("/me/availability", userHandler.UpdateAvailability)
			users.PUT("/me/settings", userHandler.UpdateSettings)
			users.GET("/search", userHandler.SearchUsers)
			users.GET("/:id", userHandler.GetUser)
		}

		// Match routes
		match := v1.Group("/match")
		match.Use(auth)
		{
			joinLimit := middleware.RateLimit(deps.Limiter, middleware.MatchJoinRule, middleware.UserKeyFunc)
			match.POST("/join", joinLimit, matchHandler.JoinQueue)
			match.POST("/leave", matchHandler.LeaveQueue)
			match.GET("/status", matchHandler.QueueStatus)
			match.POST("/heartbeat", matchHandler.Heartbeat)
			match.GET("/estimate", matchHandler.EstimateWait)
			match.GET("/stats", matchHandler.QueueStats)
			match.POST("/accept/:sessionId", matchHandler.AcceptMatch)
			match.POST("/decline/:sessionId", matchHandler.DeclineMatch)
			match.GET("/history", matchHandler.MatchHistory)
		}

		// Session routes
		sessions := v1.Group("/sessions")
		sessions.Use(auth)
		{
			sessions.GET("/active", sessionHandler.ListActive)
			sessions.GET("/history", sessionHandler.History)
			sessions.GET("/room/:roomId", sessionHandler.GetByRoom)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.PATCH("/:id", sessionHandler.Update)
			sessions.DELETE("/:id", sessionHandler.Delete)
			sessions.POST("/:id/join", sessionHandler.Join)
			sessions.POST("/:id/leave", sessionHandler.Leave)
			sessions.POST("/:id/pause", sessionHandler.Pause)
			sessions.POST("/:id/resume", sessionHandler.Resume)
			sessions.GET("/:id/collaboration", sessionHandler.Collaboration)
			sessions.POST("/:id/collaboration", sessionHandler.SaveCollaboration)
			sessions.GET("/:id/analytics", sessionHandler.Analytics)
		}

		// Feedback routes
		feedback := v1.Group("/feedback")
		feedback.Use(auth)
		{
			feedback.GET("/received", feedbackHandler.Received)
			feedback.GET("/given", feedbackHandler.Given)
			feedback.GET("/session/:sessionId", feedbackHandler.ForSession)
			feedback.POST("/session/:sessionId", feedbackHandler.Submit)
		}
	}

	return router
}
