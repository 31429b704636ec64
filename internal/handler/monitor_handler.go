package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/config"
	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorHandler streams live passation activity to invigilator dashboards.
type MonitorHandler struct {
	rdb            *redis.Client
	syncService    *service.SyncService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, syncService *service.SyncService, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		syncService:    syncService,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/examens/:examen_id/monitor
// Sends an initial snapshot of every passation in the exam, then forwards
// accepted-write events published by the broadcast worker. The stream is a
// lagging replica of the store: staleness here is fine, the version gate on
// the write path is the tie-breaker.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID := c.Param("examen_id")

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	h.sendSnapshot(c, reqCtx, examID)

	channelName := config.CacheKey.ExamMonitorChannel(examID)
	pubsub := h.rdb.Subscribe(reqCtx, channelName)
	defer pubsub.Close()

	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Str("examen_id", examID).Msg("Invigilator attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("examen_id", examID).Msg("Invigilator disconnected from live monitor SSE")
			return

		case msg := <-ch:
			// Forward raw JSON directly — no deserialization needed
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()

		case <-refreshTicker.C:
			h.sendSnapshot(c, reqCtx, examID)

		case <-keepAliveTicker.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

// sendSnapshot queries the current passations for the exam and writes one
// SSE snapshot event.
func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, examID string) {
	// Scoped timeout prevents a slow query from stalling the SSE loop
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	passations, _, err := h.syncService.Search(ctx, model.SearchFilter{
		ExamID:  examID,
		Page:    1,
		PerPage: 100,
	})
	if err != nil {
		h.log.Warn().Err(err).Str("examen_id", examID).Msg("Failed to fetch passations for snapshot")
		return
	}

	// Aggregates come from SQL so they stay correct past the first page.
	stats, err := h.monitorService.GetExamStats(ctx, examID)
	if err != nil {
		h.log.Warn().Err(err).Str("examen_id", examID).Msg("Failed to fetch exam stats for snapshot")
		return
	}

	rows := make([]map[string]interface{}, 0, len(passations))
	for i := range passations {
		p := &passations[i]
		rows = append(rows, map[string]interface{}{
			"passation_id":   p.ID.String(),
			"etudiant_id":    p.StudentID,
			"statut":         p.Status,
			"version":        p.Version,
			"answered_count": stats.AnsweredCounts[p.ID.String()],
			"demarree_a":     p.StartedAt,
			"terminee_a":     p.EndedAt,
		})
	}

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"examen_id":  examID,
			"stats":      stats.Stats,
			"passations": rows,
		},
	})
	c.Writer.Flush()
}
