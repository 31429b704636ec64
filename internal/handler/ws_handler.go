package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/service"
	ws "github.com/examea/passation-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the learner's live sync channel.
type WSHandler struct {
	syncService *service.SyncService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(syncService *service.SyncService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		syncService: syncService,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// PassationStream godoc
// WS /ws/v1/passations/:id/stream
// Upgrades to WebSocket for real-time autosave with the same version
// semantics as the HTTP save family: a stale autosave gets a conflict event
// carrying the authoritative snapshot, never a silent overwrite.
func (h *WSHandler) PassationStream(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid passation ID"})
		return
	}

	// The passation must exist and still be mutable before streaming.
	snapshot, err := h.syncService.Snapshot(c.Request.Context(), passationID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "passation not found"})
		return
	}
	if snapshot.Status.IsTerminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "passation is finalized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("passation_id", passationID.String()).
		Str("etudiant_id", snapshot.StudentID).
		Logger()

	wsLog.Info().Msg("Learner connected")

	for {
		// Peek at the action, then parse the full message per kind.
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var envelope ws.RequestEnvelope
		if err := ws.DecodeMessage(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, passationID, raw)
		case ws.ActionSyncState:
			h.handleSyncState(conn, wsLog, passationID, raw)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(envelope.Action))
		}
	}
}

// handleAutosave pushes one answer through the coordinator's save path.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, passationID uuid.UUID, raw []byte) {
	var msg ws.AutosaveRequest
	if err := ws.DecodeMessage(raw, &msg); err != nil || msg.ItemID == "" || len(msg.Answer) == 0 {
		ws.WriteError(conn, "itemId and reponse are required")
		return
	}

	outcome, err := h.syncService.RecordAnswer(context.Background(), passationID, &model.AnswerRequest{
		Version: msg.Version,
		ItemID:  msg.ItemID,
		Answer:  msg.Answer,
	})
	if err != nil {
		wsLog.Error().Err(err).Msg("Autosave failed")
		ws.WriteError(conn, "save failed")
		return
	}

	switch outcome.Kind {
	case model.OutcomeOK:
		ws.WriteTyped(conn, ws.AckResponse{Event: ws.EventAck, NewVersion: outcome.NewVersion})
	case model.OutcomeConflict:
		ws.WriteTyped(conn, ws.ConflictResponse{Event: ws.EventConflict, ServerSnapshot: outcome.Snapshot})
	default:
		ws.WriteError(conn, "passation is not writable")
	}
}

// handleSyncState answers the client's push-or-pull decision check.
func (h *WSHandler) handleSyncState(conn *websocket.Conn, wsLog zerolog.Logger, passationID uuid.UUID, raw []byte) {
	var msg ws.SyncStateRequest
	if err := ws.DecodeMessage(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed sync_state message")
		return
	}

	state, err := h.syncService.CheckSyncState(context.Background(), passationID, msg.Version)
	if err != nil {
		wsLog.Error().Err(err).Msg("Sync state failed")
		ws.WriteError(conn, "sync state unavailable")
		return
	}

	ws.WriteTyped(conn, ws.StateResponse{
		Event:         ws.EventState,
		State:         state.State,
		ServerVersion: state.ServerVersion,
	})
}
