package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/examea/passation-backend/internal/model"
)

// PassationStore is the persistence contract the coordinator mutates
// through. Implemented by repository.PassationRepository; satisfied by an
// in-memory store in tests. Every mutation is a compare-and-swap: stores
// fail with repository.ErrVersionConflict instead of overwriting.
type PassationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Passation, error)
	CurrentVersion(ctx context.Context, id uuid.UUID) (int64, error)
	Create(ctx context.Context, p *model.Passation) error
	SaveWithVersion(ctx context.Context, p *model.Passation, expectedVersion int64) (int64, error)
	ApplyOperation(ctx context.Context, op *model.Operation, mutate func(*model.Passation) error) (bool, error)
	FindActive(ctx context.Context, studentID, examID string) ([]model.Passation, error)
	Search(ctx context.Context, f model.SearchFilter) ([]model.Passation, int64, error)
}

// OperationStore is the append-only operation log contract.
type OperationStore interface {
	Append(ctx context.Context, op *model.Operation) (bool, error)
	ListByPassation(ctx context.Context, passationID uuid.UUID) ([]model.Operation, error)
}
