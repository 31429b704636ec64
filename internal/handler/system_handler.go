package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/response"
)

const readinessTimeout = 2 * time.Second

// SystemHandler serves liveness and readiness probes.
type SystemHandler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// GET /ready
// Pings PostgreSQL and Redis; either failing makes the instance not ready.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("PostgreSQL ping failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Error().Err(err).Msg("Redis ping failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "ready"})
}
