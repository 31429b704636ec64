package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PassationStatus enumerates the lifecycle states of a passation.
type PassationStatus string

const (
	StatusNotStarted PassationStatus = "NOT_STARTED"
	StatusInProgress PassationStatus = "IN_PROGRESS"
	StatusPaused     PassationStatus = "PAUSED"
	StatusCompleted  PassationStatus = "COMPLETED"
	StatusSubmitted  PassationStatus = "SUBMITTED"
	StatusCancelled  PassationStatus = "CANCELLED"
)

// transitions is the full directed edge set of the lifecycle machine.
// SUBMITTED and CANCELLED have no outgoing edges.
var transitions = map[PassationStatus][]PassationStatus{
	StatusNotStarted: {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCancelled},
	StatusCompleted:  {StatusSubmitted},
}

// IsValidStatus reports whether s is a known lifecycle state.
func IsValidStatus(s PassationStatus) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPaused,
		StatusCompleted, StatusSubmitted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the edge from → to exists in the machine.
func CanTransition(from, to PassationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions.
func (s PassationStatus) IsTerminal() bool {
	return s == StatusSubmitted || s == StatusCancelled
}

// Passation is one learner's attempt at one exam — the unit of
// synchronization. Version is a monotonically increasing fencing token:
// every accepted mutation bumps it by exactly one and every writer must
// present the version it last observed.
type Passation struct {
	ID        uuid.UUID                  `json:"id"`
	StudentID string                     `json:"etudiantId"`
	ExamID    string                     `json:"examenId"`
	Version   int64                      `json:"version"`
	Status    PassationStatus            `json:"statut"`
	Answers   map[string]json.RawMessage `json:"reponses"`
	StartedAt *time.Time                 `json:"demarreeA,omitempty"`
	EndedAt   *time.Time                 `json:"termineeA,omitempty"`
	UpdatedAt time.Time                  `json:"majA"`
}

// Clone returns a deep copy safe to hand to callers that must not observe
// later mutations (conflict snapshots, resumption payloads).
func (p *Passation) Clone() *Passation {
	cp := *p
	if p.Answers != nil {
		cp.Answers = make(map[string]json.RawMessage, len(p.Answers))
		for k, v := range p.Answers {
			cp.Answers[k] = append(json.RawMessage(nil), v...)
		}
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		cp.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
