package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examea/passation-backend/internal/model"
)

// OperationRepository handles the append-only operation log. Rows are never
// updated or deleted: the log is the audit trail for dispute resolution.
type OperationRepository struct {
	pool *pgxpool.Pool
}

// NewOperationRepository creates a new OperationRepository.
func NewOperationRepository(pool *pgxpool.Pool) *OperationRepository {
	return &OperationRepository{pool: pool}
}

// Append records an operation. Returns false when (passation_id,
// operation_id) was already recorded — a replayed retry, not an error.
func (r *OperationRepository) Append(ctx context.Context, op *model.Operation) (bool, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO operations (passation_id, operation_id, kind, payload, client_timestamp)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (passation_id, operation_id) DO NOTHING
		 RETURNING applied_at`,
		op.PassationID, op.OperationID, op.Kind, op.Payload, op.ClientTimestamp,
	).Scan(&op.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if isForeignKeyViolation(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByPassation returns the applied operations for a passation in apply
// order. The seq column is the tie-breaker: applied_at can collide within a
// timestamp tick.
func (r *OperationRepository) ListByPassation(ctx context.Context, passationID uuid.UUID) ([]model.Operation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT operation_id, passation_id, kind, payload, client_timestamp, applied_at
		 FROM operations
		 WHERE passation_id = $1
		 ORDER BY seq ASC`, passationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.OperationID, &op.PassationID, &op.Kind,
			&op.Payload, &op.ClientTimestamp, &op.AppliedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
