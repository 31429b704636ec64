package service

import (
	"context"
	"sync"

	"github.com/examea/passation-backend/internal/repository"
)

// MonitorService orchestrates live passation monitoring for invigilators.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// ExamSnapshotStats holds aggregate counters plus per-passation answered
// counts for one exam.
type ExamSnapshotStats struct {
	Stats          *repository.ExamStats
	AnsweredCounts map[string]int64 // passation_id → answered_count
}

// GetExamStats fetches the status aggregates and the answered counts
// concurrently; the two queries are independent.
func (s *MonitorService) GetExamStats(ctx context.Context, examID string) (*ExamSnapshotStats, error) {
	var (
		stats     *repository.ExamStats
		counts    map[string]int64
		statsErr  error
		countsErr error
		wg        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, statsErr = s.monitorRepo.CountByStatus(ctx, examID)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		counts, countsErr = s.monitorRepo.AnsweredCounts(ctx, examID)
	}()

	wg.Wait()

	// The aggregates are critical; answered counts are best-effort.
	if statsErr != nil {
		return nil, statsErr
	}
	snapshot := &ExamSnapshotStats{Stats: stats, AnsweredCounts: map[string]int64{}}
	if countsErr == nil && counts != nil {
		snapshot.AnsweredCounts = counts
	}
	return snapshot, nil
}
