package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/repository"
)

// ErrInvalidTransition signals a status change the lifecycle machine does
// not permit. In batch processing it marks the operation as structurally
// invalid without aborting the lot.
var ErrInvalidTransition = errors.New("invalid status transition")

// casAttempts bounds the retry loop when applying versionless batch
// operations against a moving server version.
const casAttempts = 3

// SyncService is the synchronization coordinator: the only mutation path
// into passations and the operation log. It composes the conflict gate, the
// lifecycle machine, the idempotent log and the compare-and-swap version
// store into atomic outcomes.
type SyncService struct {
	passations PassationStore
	operations OperationStore
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewSyncService creates a new SyncService. rdb may be nil in tests; the
// version cache and the monitor event queue are then skipped.
func NewSyncService(passations PassationStore, operations OperationStore, rdb *redis.Client, log zerolog.Logger) *SyncService {
	return &SyncService{
		passations: passations,
		operations: operations,
		rdb:        rdb,
		log:        log.With().Str("component", "sync_service").Logger(),
	}
}

// ─── Save ───────────────────────────────────────────────────────────

// Save performs one logical save: answer payloads plus an optional status
// change, gated by the client-declared version. Business rejections come
// back as typed outcomes; the returned error is reserved for storage
// failures.
func (s *SyncService) Save(ctx context.Context, req *model.SaveRequest) (*model.SaveOutcome, error) {
	if req.PassationID == nil {
		return s.createFromSave(ctx, req)
	}
	passationID := *req.PassationID

	res, err := s.authorize(ctx, passationID, req.Version)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.SaveOutcome{Kind: model.OutcomeNotFound}, nil
		}
		return nil, err
	}
	if !res.proceed {
		return &model.SaveOutcome{Kind: model.OutcomeConflict, Snapshot: res.snapshot}, nil
	}

	p := res.snapshot
	if p.Status.IsTerminal() {
		// A submitted or cancelled passation is frozen: accepting writes
		// here would let answers change after the fact, behind the log.
		return &model.SaveOutcome{Kind: model.OutcomeInvalidTransition, CurrentStatus: p.Status}, nil
	}
	mergeAnswers(p, req.Answers)
	if req.Status != nil {
		if outcome := s.applyStatus(p, *req.Status); outcome != nil {
			return outcome, nil
		}
	}

	newVersion, err := s.passations.SaveWithVersion(ctx, p, req.Version)
	if err != nil {
		return s.saveFailure(ctx, passationID, err)
	}

	s.appendAuditOp(ctx, p, req)
	s.afterWrite(ctx, p, model.OpSave)

	return &model.SaveOutcome{Kind: model.OutcomeOK, NewVersion: newVersion, Snapshot: p}, nil
}

// createFromSave handles a first save carrying no passation id: the
// passation is created at version 0. A concurrent first save loses against
// the active-uniqueness index and receives the winner as a conflict
// snapshot.
func (s *SyncService) createFromSave(ctx context.Context, req *model.SaveRequest) (*model.SaveOutcome, error) {
	status := model.StatusNotStarted
	if req.Status != nil {
		if !model.IsValidStatus(*req.Status) || req.Status.IsTerminal() {
			return &model.SaveOutcome{Kind: model.OutcomeInvalidTransition, CurrentStatus: status}, nil
		}
		status = *req.Status
	}

	p := &model.Passation{
		ID:        uuid.New(),
		StudentID: req.StudentID,
		ExamID:    req.ExamID,
		Status:    status,
		Answers:   req.Answers,
		UpdatedAt: time.Now(),
	}
	if status == model.StatusInProgress {
		now := time.Now()
		p.StartedAt = &now
	}

	if err := s.passations.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrActiveExists) {
			// Another device created the attempt first. Hand back the
			// authoritative session so the client resumes instead of forking.
			existing, findErr := s.findSingleActive(ctx, req.StudentID, req.ExamID)
			if findErr != nil {
				return nil, fmt.Errorf("concurrent create detected, refetch failed: %w", findErr)
			}
			return &model.SaveOutcome{Kind: model.OutcomeConflict, Snapshot: existing}, nil
		}
		return nil, fmt.Errorf("create passation: %w", err)
	}

	s.afterWrite(ctx, p, model.OpSave)
	return &model.SaveOutcome{Kind: model.OutcomeOK, NewVersion: p.Version, Snapshot: p}, nil
}

// mergeAnswers folds incoming answers into the current map. A save is a
// partial upsert: items absent from the payload keep their stored value.
func mergeAnswers(p *model.Passation, answers map[string]json.RawMessage) {
	if len(answers) == 0 {
		return
	}
	if p.Answers == nil {
		p.Answers = make(map[string]json.RawMessage, len(answers))
	}
	for itemID, answer := range answers {
		p.Answers[itemID] = answer
	}
}

// RecordAnswer is Save restricted to a single answer; same conflict
// semantics, same shared version counter.
func (s *SyncService) RecordAnswer(ctx context.Context, passationID uuid.UUID, req *model.AnswerRequest) (*model.SaveOutcome, error) {
	return s.Save(ctx, &model.SaveRequest{
		PassationID: &passationID,
		Version:     req.Version,
		Answers:     map[string]json.RawMessage{req.ItemID: req.Answer},
	})
}

// ─── Status changes ─────────────────────────────────────────────────

// ChangeStatus applies one lifecycle transition gated by the expected
// version. Invalid edges and stale versions both come back as outcomes.
func (s *SyncService) ChangeStatus(ctx context.Context, passationID uuid.UUID, target model.PassationStatus, expectedVersion int64) (*model.SaveOutcome, error) {
	res, err := s.authorize(ctx, passationID, expectedVersion)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.SaveOutcome{Kind: model.OutcomeNotFound}, nil
		}
		return nil, err
	}
	if !res.proceed {
		return &model.SaveOutcome{Kind: model.OutcomeConflict, Snapshot: res.snapshot}, nil
	}

	p := res.snapshot
	if outcome := s.applyStatus(p, target); outcome != nil {
		return outcome, nil
	}

	newVersion, err := s.passations.SaveWithVersion(ctx, p, expectedVersion)
	if err != nil {
		return s.saveFailure(ctx, passationID, err)
	}

	s.afterWrite(ctx, p, model.OpStatusChange)
	return &model.SaveOutcome{Kind: model.OutcomeOK, NewVersion: newVersion, Snapshot: p}, nil
}

// Submit finalizes a passation: status SUBMITTED, EndedAt stamped, then the
// normal save path. The version gate still applies, so a stale client can
// never submit over newer server state. An in-progress attempt passes
// through COMPLETED implicitly in the same accepted write.
func (s *SyncService) Submit(ctx context.Context, passationID uuid.UUID, expectedVersion int64) (*model.SaveOutcome, error) {
	res, err := s.authorize(ctx, passationID, expectedVersion)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.SaveOutcome{Kind: model.OutcomeNotFound}, nil
		}
		return nil, err
	}
	if !res.proceed {
		return &model.SaveOutcome{Kind: model.OutcomeConflict, Snapshot: res.snapshot}, nil
	}

	p := res.snapshot
	if p.Status != model.StatusInProgress && p.Status != model.StatusCompleted {
		return &model.SaveOutcome{Kind: model.OutcomeInvalidTransition, CurrentStatus: p.Status}, nil
	}
	now := time.Now()
	p.Status = model.StatusSubmitted
	p.EndedAt = &now

	newVersion, err := s.passations.SaveWithVersion(ctx, p, expectedVersion)
	if err != nil {
		return s.saveFailure(ctx, passationID, err)
	}

	s.afterWrite(ctx, p, model.OpStatusChange)
	return &model.SaveOutcome{Kind: model.OutcomeOK, NewVersion: newVersion, Snapshot: p}, nil
}

// applyStatus mutates p toward target if the machine allows it, stamping
// the lifecycle timestamps. Returns a non-nil outcome on rejection.
func (s *SyncService) applyStatus(p *model.Passation, target model.PassationStatus) *model.SaveOutcome {
	if !model.IsValidStatus(target) || !model.CanTransition(p.Status, target) {
		return &model.SaveOutcome{Kind: model.OutcomeInvalidTransition, CurrentStatus: p.Status}
	}
	now := time.Now()
	if target == model.StatusInProgress && p.StartedAt == nil {
		p.StartedAt = &now
	}
	if target.IsTerminal() || target == model.StatusCompleted {
		p.EndedAt = &now
	}
	p.Status = target
	return nil
}

// ─── Batch synchronization ──────────────────────────────────────────

// SyncLot applies an ordered lot of offline operations. Each operation is
// idempotent by its client-generated id; replays are skipped without error.
// A structurally invalid operation is collected in OperationsEnErreur and
// the rest of the lot continues — offline batches may span hours and one
// corrupt entry must not strand the rest. Only storage failures abort.
func (s *SyncService) SyncLot(ctx context.Context, ops []model.Operation) (*model.SyncLotResponse, error) {
	resp := &model.SyncLotResponse{
		OperationsApplied:  []string{},
		OperationsEnErreur: []string{},
	}
	seen := make(map[string]bool, len(ops))

	for i := range ops {
		op := ops[i]
		if seen[op.OperationID] {
			// Duplicate inside the lot itself: already counted.
			continue
		}

		applied, err := s.applyLotOperation(ctx, &op)
		if err != nil {
			if isStructural(err) {
				resp.OperationsEnErreur = append(resp.OperationsEnErreur, op.OperationID)
				seen[op.OperationID] = true
				continue
			}
			return nil, fmt.Errorf("apply operation %s: %w", op.OperationID, err)
		}
		_ = applied // replays land in the applied list like fresh applies

		seen[op.OperationID] = true
		resp.OperationsApplied = append(resp.OperationsApplied, op.OperationID)
	}

	resp.Success = len(resp.OperationsEnErreur) == 0
	return resp, nil
}

// applyLotOperation validates and applies one batch operation. Batch
// operations carry no client version: they are applied on top of the
// current server state, with a bounded retry absorbing interleaved online
// writers.
func (s *SyncService) applyLotOperation(ctx context.Context, op *model.Operation) (bool, error) {
	if op.OperationID == "" || !op.Kind.IsClientKind() {
		return false, ErrInvalidTransition
	}
	mutate, err := s.mutatorFor(op)
	if err != nil {
		return false, err
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		var result *model.Passation
		applied, err := s.passations.ApplyOperation(ctx, op, func(p *model.Passation) error {
			result = p
			return mutate(p)
		})
		if err == nil {
			if applied && result != nil {
				s.afterWrite(ctx, result, op.Kind)
			}
			return applied, nil
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return false, err
	}
	return false, lastErr
}

// mutatorFor parses the payload and returns the mutation for one client
// operation kind. Parse failures are structural.
func (s *SyncService) mutatorFor(op *model.Operation) (func(*model.Passation) error, error) {
	switch op.Kind {
	case model.OpAnswerWrite:
		var payload model.AnswerWritePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil || payload.ItemID == "" {
			return nil, fmt.Errorf("%w: bad answer payload", ErrInvalidTransition)
		}
		return func(p *model.Passation) error {
			if p.Status.IsTerminal() {
				return ErrInvalidTransition
			}
			if p.Answers == nil {
				p.Answers = make(map[string]json.RawMessage, 1)
			}
			p.Answers[payload.ItemID] = payload.Answer
			return nil
		}, nil

	case model.OpStatusChange:
		var payload model.StatusChangePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: bad status payload", ErrInvalidTransition)
		}
		return func(p *model.Passation) error {
			if outcome := s.applyStatus(p, payload.Target); outcome != nil {
				return ErrInvalidTransition
			}
			return nil
		}, nil
	}
	return nil, ErrInvalidTransition
}

// isStructural reports whether an apply error is a client error (bad
// payload, unknown passation, forbidden transition) rather than a storage
// failure.
func isStructural(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound)
}

// ─── Read paths ─────────────────────────────────────────────────────

// CheckSyncState classifies a client version against the server's. Pure
// read: served from the version cache when warm, healed from the store
// otherwise. Staleness is acceptable — the next write attempt re-checks
// against the authoritative version.
func (s *SyncService) CheckSyncState(ctx context.Context, passationID uuid.UUID, clientVersion int64) (*model.SyncStateResponse, error) {
	serverVersion, ok := s.cachedVersion(ctx, passationID)
	if !ok {
		var err error
		serverVersion, err = s.passations.CurrentVersion(ctx, passationID)
		if err != nil {
			return nil, err
		}
		s.cacheVersion(ctx, passationID, serverVersion)
	}

	state := model.ClassifySync(clientVersion, serverVersion)
	if state == model.SyncConflict {
		s.log.Warn().
			Str("passation_id", passationID.String()).
			Int64("client_version", clientVersion).
			Int64("server_version", serverVersion).
			Msg("Client declared a version ahead of the server")
	}
	return &model.SyncStateResponse{State: state, ServerVersion: serverVersion}, nil
}

// Version returns the authoritative version straight from the store and
// refreshes the cache on the way out.
func (s *SyncService) Version(ctx context.Context, passationID uuid.UUID) (int64, error) {
	v, err := s.passations.CurrentVersion(ctx, passationID)
	if err != nil {
		return 0, err
	}
	s.cacheVersion(ctx, passationID, v)
	return v, nil
}

// CheckResumable finds the resumable passation for a student, optionally
// scoped to one exam. Two non-terminal passations for the same (student,
// exam) indicate store corruption and fail loudly instead of guessing.
func (s *SyncService) CheckResumable(ctx context.Context, studentID, examID string) (*model.ResumeResponse, error) {
	active, err := s.passations.FindActive(ctx, studentID, examID)
	if err != nil {
		return nil, fmt.Errorf("find active: %w", err)
	}
	if len(active) == 0 {
		return &model.ResumeResponse{Found: false}, nil
	}

	perExam := make(map[string]int, len(active))
	for i := range active {
		perExam[active[i].ExamID]++
		if perExam[active[i].ExamID] > 1 {
			s.log.Error().
				Str("etudiant_id", studentID).
				Str("examen_id", active[i].ExamID).
				Msg("Invariant violated: multiple active passations for one exam")
			return nil, repository.ErrMultipleActive
		}
	}

	// FindActive orders by recency; unscoped queries resume the latest exam.
	p := active[0]
	return &model.ResumeResponse{Found: true, Passation: p.Clone()}, nil
}

// Search is a read-only query over passations; no concurrency concerns.
func (s *SyncService) Search(ctx context.Context, f model.SearchFilter) ([]model.Passation, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return s.passations.Search(ctx, f)
}

// Snapshot returns the full current state of a passation.
func (s *SyncService) Snapshot(ctx context.Context, passationID uuid.UUID) (*model.Passation, error) {
	return s.passations.GetByID(ctx, passationID)
}

// Operations returns the applied operation trail for dispute resolution.
func (s *SyncService) Operations(ctx context.Context, passationID uuid.UUID) ([]model.Operation, error) {
	if _, err := s.passations.GetByID(ctx, passationID); err != nil {
		return nil, err
	}
	return s.operations.ListByPassation(ctx, passationID)
}

// ─── Internals ──────────────────────────────────────────────────────

// findSingleActive fetches the winner after a concurrent-create loss.
func (s *SyncService) findSingleActive(ctx context.Context, studentID, examID string) (*model.Passation, error) {
	active, err := s.passations.FindActive(ctx, studentID, examID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, repository.ErrNotFound
	}
	return active[0].Clone(), nil
}

// saveFailure maps a compare-and-swap failure to the proper outcome.
func (s *SyncService) saveFailure(ctx context.Context, passationID uuid.UUID, err error) (*model.SaveOutcome, error) {
	switch {
	case errors.Is(err, repository.ErrVersionConflict):
		snapshot, getErr := s.passations.GetByID(ctx, passationID)
		if getErr != nil {
			return nil, fmt.Errorf("load conflict snapshot: %w", getErr)
		}
		return &model.SaveOutcome{Kind: model.OutcomeConflict, Snapshot: snapshot}, nil
	case errors.Is(err, repository.ErrNotFound):
		return &model.SaveOutcome{Kind: model.OutcomeNotFound}, nil
	default:
		return nil, err
	}
}

// appendAuditOp records the synthetic SAVE operation for an accepted online
// save. The audit entry is best effort: a miss is logged, never turned into
// a failed save.
func (s *SyncService) appendAuditOp(ctx context.Context, p *model.Passation, req *model.SaveRequest) {
	payload, _ := json.Marshal(req)
	op := &model.Operation{
		OperationID:     "save-" + uuid.NewString(),
		PassationID:     p.ID,
		Kind:            model.OpSave,
		Payload:         payload,
		ClientTimestamp: time.Now(),
	}
	if _, err := s.operations.Append(ctx, op); err != nil {
		s.log.Error().Err(err).
			Str("passation_id", p.ID.String()).
			Msg("Audit append failed")
	}
}
