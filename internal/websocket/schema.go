package websocket

import (
	"encoding/json"

	"github.com/examea/passation-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave  Action = "autosave"
	ActionSyncState Action = "sync_state"
	ActionPing      Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer. Version is
// the last server version the client observed; a stale one gets a conflict
// event back, never a silent overwrite.
type AutosaveRequest struct {
	Action  Action          `json:"action"`
	Version int64           `json:"version"`
	ItemID  string          `json:"itemId"`
	Answer  json.RawMessage `json:"reponse"`
}

// SyncStateRequest asks the server to classify the client's version.
type SyncStateRequest struct {
	Action  Action `json:"action"`
	Version int64  `json:"version"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventAck      Event = "ack"
	EventConflict Event = "conflict"
	EventState    Event = "state"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// AckResponse confirms an accepted autosave and carries the bumped version.
type AckResponse struct {
	Event      Event `json:"event"`
	NewVersion int64 `json:"newVersion"`
}

// ConflictResponse carries the authoritative snapshot so the client rebases.
type ConflictResponse struct {
	Event          Event            `json:"event"`
	ServerSnapshot *model.Passation `json:"serverSnapshot"`
}

// StateResponse answers a sync_state action.
type StateResponse struct {
	Event         Event           `json:"event"`
	State         model.SyncState `json:"state"`
	ServerVersion int64           `json:"serverVersion"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
