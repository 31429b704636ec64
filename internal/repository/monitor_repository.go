package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examea/passation-backend/internal/model"
)

// MonitorRepository provides aggregate queries for the live exam monitoring
// feature. Aggregation runs in SQL so the snapshot stays accurate even when
// the row listing is paginated.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ExamStats holds per-exam passation counters for the invigilator dashboard.
type ExamStats struct {
	Total      int64 `json:"total_passations"`
	InProgress int64 `json:"total_in_progress"`
	Finalized  int64 `json:"total_finalized"`
}

// CountByStatus aggregates passation counts for one exam.
func (r *MonitorRepository) CountByStatus(ctx context.Context, examID string) (*ExamStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM passations WHERE exam_id = $1 GROUP BY status`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &ExamStats{}
	for rows.Next() {
		var status model.PassationStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch {
		case status == model.StatusInProgress:
			stats.InProgress += count
		case status.IsTerminal():
			stats.Finalized += count
		}
	}
	return stats, rows.Err()
}

// AnsweredCounts returns the number of recorded answers per passation for the
// given exam, computed from the JSONB answer maps.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, examID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, (SELECT COUNT(*) FROM jsonb_object_keys(answers))
		 FROM passations
		 WHERE exam_id = $1`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
