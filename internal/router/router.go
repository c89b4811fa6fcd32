package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/prosetya/examgate/internal/config"
	"github.com/prosetya/examgate/internal/handler"
	"github.com/prosetya/examgate/internal/middleware"
	"github.com/prosetya/examgate/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Portal *handler.CandidatePortalHandler
	WS     *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	verifier *middleware.Verifier,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

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

	// Apply brotli middleware globally. WebSocket upgrades skip it via the
	// upgrade-header check inside the middleware.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the start handshake: the whole cohort hits it at
	// once when an exam window opens.
	startLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── Candidate Group (Candidate JWT) ───────────────────────────────
	candidate := router.Group("/api/v1/candidate")
	candidate.Use(middleware.RequireCandidateJWT(verifier))
	{
		candidate.POST("/attempts", startLimiter.Middleware(), handlers.Portal.StartExam)
		candidate.GET("/attempts/:attempt_id/paper", handlers.Portal.GetPaper)
		candidate.GET("/attempts/:attempt_id/state", handlers.Portal.GetState)
		candidate.GET("/results/:result_id", handlers.Portal.GetResult)
	}

	// ─── WebSocket Group (token via query param) ───────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireCandidateWSAuth(verifier))
	{
		wsGroup.GET("/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	return router
}
