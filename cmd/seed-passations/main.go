package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/examea/passation-backend/internal/config"
	"github.com/examea/passation-backend/internal/database"
	"github.com/examea/passation-backend/internal/logger"
	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/repository"
	"github.com/examea/passation-backend/internal/service"
)

// Development seeding tool: creates 50 in-progress passations for one demo
// exam, each with a few recorded answers, going through the normal save path
// so versions and the operation log stay consistent.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	passationRepo := repository.NewPassationRepository(pool)
	operationRepo := repository.NewOperationRepository(pool)
	syncService := service.NewSyncService(passationRepo, operationRepo, nil, log)

	examID := "examen-demo"
	fmt.Printf("=== Seeding 50 passations for %s ===\n", examID)

	status := model.StatusInProgress
	successCount := 0
	for i := 0; i < 50; i++ {
		studentID := fmt.Sprintf("etu-%03d", i+1)

		outcome, err := syncService.Save(ctx, &model.SaveRequest{
			StudentID: studentID,
			ExamID:    examID,
			Status:    &status,
			Answers: map[string]json.RawMessage{
				"q1": json.RawMessage(`{"choix": "A"}`),
				"q2": json.RawMessage(`{"choix": "C"}`),
			},
		})
		if err != nil {
			fmt.Printf("Error creating passation for %s: %v\n", studentID, err)
			continue
		}
		if outcome.Kind != model.OutcomeOK {
			fmt.Printf("Passation for %s already active, skipping\n", studentID)
			continue
		}

		// One extra save so seeded versions are non-zero.
		if _, err := syncService.Save(ctx, &model.SaveRequest{
			PassationID: &outcome.Snapshot.ID,
			StudentID:   studentID,
			ExamID:      examID,
			Version:     outcome.NewVersion,
			Answers: map[string]json.RawMessage{
				"q3": json.RawMessage(`{"choix": "B"}`),
			},
		}); err != nil {
			fmt.Printf("Error saving answers for %s: %v\n", studentID, err)
			continue
		}

		successCount++
		if (i+1)%10 == 0 {
			fmt.Printf("Created %d passations...\n", i+1)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/50 passations.\n", successCount)
}
