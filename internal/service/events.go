package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/examea/passation-backend/internal/config"
	"github.com/examea/passation-backend/internal/model"
)

// afterWrite runs the best-effort side effects of an accepted mutation:
// refresh the version cache and enqueue a monitor event for the broadcast
// worker. Neither may fail the write that already committed.
func (s *SyncService) afterWrite(ctx context.Context, p *model.Passation, kind model.OperationKind) {
	s.cacheVersion(ctx, p.ID, p.Version)
	s.queueEvent(ctx, model.SyncEvent{
		PassationID: p.ID,
		ExamID:      p.ExamID,
		StudentID:   p.StudentID,
		Kind:        kind,
		Version:     p.Version,
		Status:      p.Status,
	})
}

// cachedVersion reads the version cache. Returns false on miss or when the
// cache is not configured.
func (s *SyncService) cachedVersion(ctx context.Context, id uuid.UUID) (int64, bool) {
	if s.rdb == nil {
		return 0, false
	}
	val, err := s.rdb.Get(ctx, config.CacheKey.PassationVersionKey(id.String())).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Error().Err(err).Msg("Version cache read failed")
		}
		return 0, false
	}
	v, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// cacheVersion self-heals the version cache after reads and writes.
func (s *SyncService) cacheVersion(ctx context.Context, id uuid.UUID, version int64) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.PassationVersionKey(id.String()), version, 0).Err(); err != nil {
		s.log.Error().Err(err).Msg("Version cache write failed")
	}
}

// queueEvent pushes a sync event onto the broadcast queue.
func (s *SyncService) queueEvent(ctx context.Context, ev model.SyncEvent) {
	if s.rdb == nil {
		return
	}
	raw, err := model.MarshalEvent(ev)
	if err != nil {
		return
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.SyncEventsQueue, raw).Err(); err != nil {
		s.log.Error().Err(err).
			Str("passation_id", ev.PassationID.String()).
			Msg("Event enqueue failed")
	}
}
