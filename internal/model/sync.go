package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SyncState classifies a client's version against the server's.
type SyncState string

const (
	SyncInSync       SyncState = "IN_SYNC"
	SyncClientBehind SyncState = "CLIENT_BEHIND"
	SyncConflict     SyncState = "CONFLICT"
)

// ClassifySync compares a client-declared version with the server version.
// A client claiming a version the server never produced is treated as a
// conflict too; callers log it, the client rebases either way.
func ClassifySync(clientVersion, serverVersion int64) SyncState {
	switch {
	case clientVersion == serverVersion:
		return SyncInSync
	case clientVersion < serverVersion:
		return SyncClientBehind
	default:
		return SyncConflict
	}
}

// OutcomeKind tags the result of a mutating call. Business rejections are
// values, not errors: a normal client retry loop never needs error handling.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeConflict
	OutcomeInvalidTransition
	OutcomeNotFound
)

// SaveOutcome is the typed result of every mutating passation call.
// On OutcomeOK NewVersion carries the bumped version; on OutcomeConflict
// Snapshot carries the authoritative server state so the client can rebase.
type SaveOutcome struct {
	Kind       OutcomeKind
	NewVersion int64
	Snapshot   *Passation
	// CurrentStatus is set on OutcomeInvalidTransition so the client can
	// correct itself without another round-trip.
	CurrentStatus PassationStatus
}

// ─── Wire DTOs (boundary contract) ──────────────────────────────────

// SaveRequest is the body of POST /passations/save. PassationID is omitted
// on the very first save: the server then creates the passation at version 0.
type SaveRequest struct {
	PassationID *uuid.UUID                 `json:"passationId"`
	StudentID   string                     `json:"studentId" binding:"required"`
	ExamID      string                     `json:"examId" binding:"required"`
	Version     int64                      `json:"version"`
	Answers     map[string]json.RawMessage `json:"answers"`
	Status      *PassationStatus           `json:"status"`
}

// SaveResponse mirrors the save endpoint contract. Result is one of
// "OK", "CONFLIT_VERSION" or "ERREUR".
type SaveResponse struct {
	Success        bool       `json:"success"`
	Result         string     `json:"result"`
	Message        string     `json:"message,omitempty"`
	PassationID    *uuid.UUID `json:"passationId,omitempty"`
	NewVersion     *int64     `json:"newVersion,omitempty"`
	ServerSnapshot *Passation `json:"serverSnapshot,omitempty"`
}

// Wire result codes returned by the save family of endpoints. The service
// layer never produces these strings; only handlers map outcomes to them.
const (
	ResultOK       = "OK"
	ResultConflict = "CONFLIT_VERSION"
	ResultError    = "ERREUR"
)

// AnswerRequest is the body of POST /passations/:id/reponses — a single
// answer write with the same conflict semantics as a full save.
type AnswerRequest struct {
	Version int64           `json:"version"`
	ItemID  string          `json:"itemId" binding:"required"`
	Answer  json.RawMessage `json:"reponse" binding:"required"`
}

// SyncLotRequest is the body of POST /passations/sync: an ordered batch of
// operations captured offline.
type SyncLotRequest struct {
	Operations []Operation `json:"operations" binding:"required"`
}

// SyncLotResponse reports per-operation results of a lot. Duplicate
// operations are counted once in OperationsApplied; structurally invalid
// ones land in OperationsEnErreur without aborting the rest.
type SyncLotResponse struct {
	Success            bool     `json:"success"`
	OperationsApplied  []string `json:"operationsApplied"`
	OperationsEnErreur []string `json:"operationsEnErreur"`
}

// SyncStateResponse is the body of GET /passations/:id/sync-state.
type SyncStateResponse struct {
	State         SyncState `json:"state"`
	ServerVersion int64     `json:"serverVersion"`
}

// ResumeResponse is the body of GET /passations/verifier-reprise.
type ResumeResponse struct {
	Found     bool       `json:"found"`
	Passation *Passation `json:"passation,omitempty"`
}

// SearchFilter narrows GET /passations. Zero values mean "no filter".
type SearchFilter struct {
	StudentID string
	ExamID    string
	Status    PassationStatus
	Page      int
	PerPage   int
}

// SyncEvent is what the coordinator enqueues after every accepted write;
// the broadcast worker fans it out to the exam's monitor channel.
type SyncEvent struct {
	PassationID uuid.UUID       `json:"passationId"`
	ExamID      string          `json:"examenId"`
	StudentID   string          `json:"etudiantId"`
	Kind        OperationKind   `json:"kind"`
	Version     int64           `json:"version"`
	Status      PassationStatus `json:"statut"`
}

// MarshalEvent serializes a SyncEvent for the Redis queue.
func MarshalEvent(e SyncEvent) ([]byte, error) {
	return json.Marshal(e)
}
