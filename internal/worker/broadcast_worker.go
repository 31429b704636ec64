package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/config"
	"github.com/examea/passation-backend/internal/model"
)

// BroadcastWorker consumes the sync event queue and publishes each accepted
// write to its exam's monitor Pub/Sub channel. Keeping the fan-out off the
// request path means a slow dashboard never delays a learner's save.
type BroadcastWorker struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewBroadcastWorker creates a new BroadcastWorker.
func NewBroadcastWorker(rdb *redis.Client, log zerolog.Logger) *BroadcastWorker {
	return &BroadcastWorker{
		rdb: rdb,
		log: log.With().Str("component", "broadcast_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *BroadcastWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *BroadcastWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.SyncEventsQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	if err := w.publish(ctx, []byte(result[1])); err != nil {
		w.log.Error().Err(err).Msg("Publish error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.WorkerKey.SyncEventsQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *BroadcastWorker) publish(ctx context.Context, raw []byte) error {
	var ev model.SyncEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		// Malformed events are dropped, not retried forever.
		w.log.Error().Err(err).Msg("Unmarshal error, dropping event")
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"type":        "sync_event",
		"passationId": ev.PassationID.String(),
		"etudiantId":  ev.StudentID,
		"kind":        ev.Kind,
		"version":     ev.Version,
		"statut":      ev.Status,
	})
	return w.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID), payload).Err()
}

// drain publishes all remaining items in the queue before shutdown.
func (w *BroadcastWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.SyncEventsQueue).Result()
		if err != nil {
			break
		}

		if err := w.publish(ctx, []byte(result)); err != nil {
			w.log.Error().Err(err).Msg("Drain publish error")
			w.rdb.RPush(ctx, config.WorkerKey.SyncEventsQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
