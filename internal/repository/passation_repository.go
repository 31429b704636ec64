package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examea/passation-backend/internal/model"
)

var (
	// ErrNotFound signals that the referenced passation does not exist.
	ErrNotFound = errors.New("passation not found")
	// ErrVersionConflict signals a compare-and-swap failure: the stored
	// version no longer matches the version the writer observed.
	ErrVersionConflict = errors.New("version conflict")
	// ErrActiveExists signals the partial unique index rejected a second
	// non-terminal passation for the same (student, exam).
	ErrActiveExists = errors.New("active passation already exists")
	// ErrMultipleActive signals store corruption: more than one non-terminal
	// passation exists for one (student, exam).
	ErrMultipleActive = errors.New("multiple active passations")
)

// nonTerminalStatuses is the set the at-most-one-active invariant covers.
const nonTerminalStatuses = `'NOT_STARTED', 'IN_PROGRESS', 'PAUSED'`

// isForeignKeyViolation reports whether err is SQLSTATE 23503. The operations
// table references passations, so inserting an operation for an unknown
// passation surfaces as an FK violation rather than a missing row.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// PassationRepository handles passation data access. Every mutation goes
// through a compare-and-swap UPDATE guarded by the expected version; there
// are no blind overwrites and no row locks outside ApplyOperation's
// transaction.
type PassationRepository struct {
	pool *pgxpool.Pool
}

// NewPassationRepository creates a new PassationRepository.
func NewPassationRepository(pool *pgxpool.Pool) *PassationRepository {
	return &PassationRepository{pool: pool}
}

const passationColumns = `id, student_id, exam_id, version, status, answers, started_at, ended_at, updated_at`

func scanPassation(row pgx.Row) (*model.Passation, error) {
	p := &model.Passation{}
	err := row.Scan(&p.ID, &p.StudentID, &p.ExamID, &p.Version, &p.Status,
		&p.Answers, &p.StartedAt, &p.EndedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetByID retrieves a passation by its identifier.
func (r *PassationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Passation, error) {
	return scanPassation(r.pool.QueryRow(ctx,
		`SELECT `+passationColumns+` FROM passations WHERE id = $1`, id))
}

// CurrentVersion returns the stored version for a passation.
func (r *PassationRepository) CurrentVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var v int64
	err := r.pool.QueryRow(ctx,
		`SELECT version FROM passations WHERE id = $1`, id).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return v, nil
}

// Create inserts a new passation at version 0. The partial unique index on
// (student_id, exam_id) over non-terminal statuses rejects a concurrent
// second active attempt; that surfaces as ErrActiveExists so the caller can
// refetch the winner.
func (r *PassationRepository) Create(ctx context.Context, p *model.Passation) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO passations (id, student_id, exam_id, version, status, answers, started_at, ended_at)
		 VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
		 RETURNING updated_at`,
		p.ID, p.StudentID, p.ExamID, p.Status, p.Answers, p.StartedAt, p.EndedAt,
	).Scan(&p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveExists
		}
		return err
	}
	p.Version = 0
	return nil
}

// SaveWithVersion is the compare-and-swap primitive: it persists the given
// state and bumps the version by one, but only if the stored version still
// equals expectedVersion. Returns the new version, ErrVersionConflict when
// another writer got there first, or ErrNotFound.
func (r *PassationRepository) SaveWithVersion(ctx context.Context, p *model.Passation, expectedVersion int64) (int64, error) {
	return saveWithVersion(ctx, r.pool, p, expectedVersion)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func saveWithVersion(ctx context.Context, q querier, p *model.Passation, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := q.QueryRow(ctx,
		`UPDATE passations
		 SET status = $2, answers = $3, started_at = $4, ended_at = $5,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $6
		 RETURNING version`,
		p.ID, p.Status, p.Answers, p.StartedAt, p.EndedAt, expectedVersion,
	).Scan(&newVersion)
	if err == nil {
		p.Version = newVersion
		return newVersion, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// No row matched: either the passation is gone or the version moved.
	var current int64
	err = q.QueryRow(ctx, `SELECT version FROM passations WHERE id = $1`, p.ID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return current, ErrVersionConflict
}

// ApplyOperation records op and applies mutate to the passation in a single
// transaction, so a crash can never leave an operation recorded but not
// applied. Returns (false, nil) when the operation id was already recorded
// (idempotent replay) — the mutation is then skipped entirely.
func (r *PassationRepository) ApplyOperation(ctx context.Context, op *model.Operation, mutate func(*model.Passation) error) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Idempotency gate. ON CONFLICT DO NOTHING yields no row on replay.
	err = tx.QueryRow(ctx,
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
		// The lot may reference a passation that was never created here;
		// that is the caller's structural error, not a storage failure.
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("append operation: %w", err)
	}

	p, err := scanPassation(tx.QueryRow(ctx,
		`SELECT `+passationColumns+` FROM passations WHERE id = $1`, op.PassationID))
	if err != nil {
		return false, err
	}

	if err := mutate(p); err != nil {
		return false, err
	}

	if _, err := saveWithVersion(ctx, tx, p, p.Version); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// FindActive returns the non-terminal passations for a student, optionally
// scoped to one exam. The invariant says at most one row per (student, exam);
// callers treat more as corruption.
func (r *PassationRepository) FindActive(ctx context.Context, studentID, examID string) ([]model.Passation, error) {
	query := `SELECT ` + passationColumns + `
		 FROM passations
		 WHERE student_id = $1 AND status IN (` + nonTerminalStatuses + `)`
	args := []any{studentID}
	if examID != "" {
		args = append(args, examID)
		query += fmt.Sprintf(" AND exam_id = $%d", len(args))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Passation
	for rows.Next() {
		var p model.Passation
		if err := rows.Scan(&p.ID, &p.StudentID, &p.ExamID, &p.Version, &p.Status,
			&p.Answers, &p.StartedAt, &p.EndedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Search retrieves passations matching the filter, paginated.
func (r *PassationRepository) Search(ctx context.Context, f model.SearchFilter) ([]model.Passation, int64, error) {
	baseQuery := ` FROM passations WHERE 1=1`
	var args []any

	if f.StudentID != "" {
		args = append(args, f.StudentID)
		baseQuery += fmt.Sprintf(" AND student_id = $%d", len(args))
	}
	if f.ExamID != "" {
		args = append(args, f.ExamID)
		baseQuery += fmt.Sprintf(" AND exam_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		baseQuery += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	offset := (f.Page - 1) * f.PerPage
	query := `SELECT ` + passationColumns + baseQuery +
		fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.PerPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.Passation
	for rows.Next() {
		var p model.Passation
		if err := rows.Scan(&p.ID, &p.StudentID, &p.ExamID, &p.Version, &p.Status,
			&p.Answers, &p.StartedAt, &p.EndedAt, &p.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
