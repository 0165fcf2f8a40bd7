package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/gameverify-backend/internal/config"
	"github.com/stemsi/gameverify-backend/internal/handler"
	"github.com/stemsi/gameverify-backend/internal/middleware"
	"github.com/stemsi/gameverify-backend/internal/model"
	"github.com/stemsi/gameverify-backend/internal/response"
	"github.com/stemsi/gameverify-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	GameSession *handler.GameSessionHandler
	Review      *handler.ReviewHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	playerLimiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Player Group (JWT + per-user rate limit) ───────────────────
	gameAPI := router.Group("/api/v1/game")
	gameAPI.Use(
		middleware.RequirePlayerJWT(authService),
		playerLimiter.Middleware(),
	)
	{
		gameAPI.POST("/sessions/start", handlers.GameSession.StartSession)
		gameAPI.POST("/sessions/submit", handlers.GameSession.SubmitSession)
		if cfg.EnableSignEndpoint {
			gameAPI.POST("/sessions/sign", handlers.GameSession.SignSubmission)
		}
		gameAPI.GET("/sessions", handlers.GameSession.ListSessions)
		gameAPI.GET("/sessions/:session_id", handlers.GameSession.GetSession)
		gameAPI.GET("/best-score", handlers.GameSession.GetBestScore)
	}

	// ─── 2. Reviewer Group (JWT + RBAC) ────────────────────────────────
	reviewAPI := router.Group("/api/v1/review")
	reviewAPI.Use(
		middleware.RequireReviewerJWT(authService),
		middleware.RequirePermission(model.PermissionSessionsReview),
	)
	{
		reviewAPI.GET("/sessions/suspicious", handlers.Review.ListSuspicious)
		reviewAPI.GET("/sessions/:session_id", handlers.Review.GetSession)
		reviewAPI.GET("/users/:user_id/suspicious-count", handlers.Review.CountSuspicious)
	}

	// ─── 3. WebSocket Group (Reviewer WS Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireReviewerWSAuth(authService),
		middleware.RequirePermission(model.PermissionSessionsReview),
	)
	{
		ws.GET("/review/flags", handlers.WS.FlagFeedStream)
	}

	return router
}
