package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationKind enumerates the mutation kinds a client can record offline.
type OperationKind string

const (
	OpAnswerWrite  OperationKind = "ANSWER_WRITE"
	OpStatusChange OperationKind = "STATUS_CHANGE"
	// OpSave is the synthetic audit entry appended for every accepted
	// online save; it is never sent by clients.
	OpSave OperationKind = "SAVE"
)

// IsClientKind reports whether k may appear in a client-submitted lot.
func (k OperationKind) IsClientKind() bool {
	return k == OpAnswerWrite || k == OpStatusChange
}

// Operation is one client-side mutation. OperationID is the client-generated
// idempotency key: (PassationID, OperationID) is unique in storage, so a
// retried lot can never double-apply an answer. Applied operations are
// immutable history — there is no delete path.
type Operation struct {
	OperationID     string          `json:"operationId" binding:"required"`
	PassationID     uuid.UUID       `json:"passationId" binding:"required"`
	Kind            OperationKind   `json:"kind" binding:"required"`
	Payload         json.RawMessage `json:"payload"`
	ClientTimestamp time.Time       `json:"clientTimestamp"`
	AppliedAt       time.Time       `json:"appliedAt,omitempty"`
}

// AnswerWritePayload is the payload of an ANSWER_WRITE operation.
type AnswerWritePayload struct {
	ItemID string          `json:"itemId"`
	Answer json.RawMessage `json:"reponse"`
}

// StatusChangePayload is the payload of a STATUS_CHANGE operation.
type StatusChangePayload struct {
	Target PassationStatus `json:"statut"`
}
