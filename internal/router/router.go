package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/examea/passation-backend/internal/config"
	"github.com/examea/passation-backend/internal/handler"
	"github.com/examea/passation-backend/internal/middleware"
	"github.com/examea/passation-backend/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Passation *handler.PassationHandler
	Monitor   *handler.MonitorHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Probes.
	router.GET("/health", handlers.System.Health)
	router.GET("/ready", handlers.System.Ready)

	// Rate limiter for the mutating sync surface. Offline clients flush
	// whole lots in one call, so the per-IP budget stays generous.
	saveLimiter := middleware.NewRateLimiter(cfg.SaveRatePerMinute, time.Minute)

	// ─── 1. Passation Sync Group ───────────────────────────────────────
	passations := router.Group("/api/v1/passations")
	passations.Use(middleware.NoStore())
	{
		// Mutating endpoints (rate limited).
		mutating := passations.Group("")
		mutating.Use(saveLimiter.Middleware())
		{
			mutating.POST("/save", handlers.Passation.Save)
			mutating.POST("/sync", handlers.Passation.SyncLot)
			mutating.POST("/:id/reponses", handlers.Passation.RecordAnswer)
			mutating.PUT("/:id/statut", handlers.Passation.ChangeStatus)
			mutating.POST("/:id/soumettre", handlers.Passation.Submit)
		}

		// Read-only endpoints; safe to serve from a lagging replica.
		passations.GET("", handlers.Passation.Search)
		passations.GET("/verifier-reprise", handlers.Passation.CheckResumable)
		passations.GET("/:id", handlers.Passation.GetSnapshot)
		passations.GET("/:id/version", handlers.Passation.Version)
		passations.GET("/:id/sync-state", handlers.Passation.SyncState)
		passations.GET("/:id/operations", handlers.Passation.ListOperations)
	}

	// ─── 2. Invigilator Monitor (SSE) ──────────────────────────────────
	router.GET("/api/v1/examens/:examen_id/monitor", handlers.Monitor.MonitorExamSSE)

	// ─── 3. WebSocket Group ────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/passations/:id/stream", handlers.WS.PassationStream)
	}

	return router
}
