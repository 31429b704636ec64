package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/repository"
	"github.com/examea/passation-backend/internal/service"
	"github.com/examea/passation-backend/internal/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

// fakeStore is a minimal in-memory PassationStore and OperationStore with
// compare-and-swap semantics, enough to drive the handlers end to end.
type fakeStore struct {
	mu         sync.Mutex
	passations map[uuid.UUID]*model.Passation
	ops        map[uuid.UUID][]model.Operation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		passations: make(map[uuid.UUID]*model.Passation),
		ops:        make(map[uuid.UUID][]model.Operation),
	}
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.Passation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

func (f *fakeStore) CurrentVersion(_ context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passations[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return p.Version, nil
}

func (f *fakeStore) Create(_ context.Context, p *model.Passation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.passations {
		if existing.StudentID == p.StudentID && existing.ExamID == p.ExamID && !existing.Status.IsTerminal() {
			return repository.ErrActiveExists
		}
	}
	p.Version = 0
	f.passations[p.ID] = p.Clone()
	return nil
}

func (f *fakeStore) SaveWithVersion(_ context.Context, p *model.Passation, expectedVersion int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.passations[p.ID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return stored.Version, repository.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now()
	f.passations[p.ID] = p.Clone()
	return p.Version, nil
}

func (f *fakeStore) ApplyOperation(ctx context.Context, op *model.Operation, mutate func(*model.Passation) error) (bool, error) {
	f.mu.Lock()
	for _, existing := range f.ops[op.PassationID] {
		if existing.OperationID == op.OperationID {
			f.mu.Unlock()
			return false, nil
		}
	}
	stored, ok := f.passations[op.PassationID]
	if !ok {
		f.mu.Unlock()
		return false, repository.ErrNotFound
	}
	work := stored.Clone()
	if err := mutate(work); err != nil {
		f.mu.Unlock()
		return false, err
	}
	work.Version = stored.Version + 1
	work.UpdatedAt = time.Now()
	f.passations[op.PassationID] = work.Clone()
	op.AppliedAt = time.Now()
	f.ops[op.PassationID] = append(f.ops[op.PassationID], *op)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeStore) FindActive(_ context.Context, studentID, examID string) ([]model.Passation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Passation
	for _, p := range f.passations {
		if p.StudentID != studentID || p.Status.IsTerminal() {
			continue
		}
		if examID != "" && p.ExamID != examID {
			continue
		}
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) Search(_ context.Context, filter model.SearchFilter) ([]model.Passation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Passation
	for _, p := range f.passations {
		if filter.StudentID != "" && p.StudentID != filter.StudentID {
			continue
		}
		if filter.ExamID != "" && p.ExamID != filter.ExamID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, *p.Clone())
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) Append(_ context.Context, op *model.Operation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.ops[op.PassationID] {
		if existing.OperationID == op.OperationID {
			return false, nil
		}
	}
	op.AppliedAt = time.Now()
	f.ops[op.PassationID] = append(f.ops[op.PassationID], *op)
	return true, nil
}

func (f *fakeStore) ListByPassation(_ context.Context, passationID uuid.UUID) ([]model.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Operation{}, f.ops[passationID]...), nil
}

func (f *fakeStore) seed(status model.PassationStatus, version int64) *model.Passation {
	p := &model.Passation{
		ID:        uuid.New(),
		StudentID: "etu-1",
		ExamID:    "exa-1",
		Status:    status,
		Answers:   map[string]json.RawMessage{},
		UpdatedAt: time.Now(),
	}
	f.mu.Lock()
	p.Version = version
	f.passations[p.ID] = p.Clone()
	f.mu.Unlock()
	return p
}

func newTestRouter(store *fakeStore) *gin.Engine {
	svc := service.NewSyncService(store, store, nil, zerolog.Nop())
	h := NewPassationHandler(svc)

	r := gin.New()
	g := r.Group("/api/v1/passations")
	g.POST("/save", h.Save)
	g.POST("/sync", h.SyncLot)
	g.POST("/:id/reponses", h.RecordAnswer)
	g.PUT("/:id/statut", h.ChangeStatus)
	g.POST("/:id/soumettre", h.Submit)
	g.GET("", h.Search)
	g.GET("/verifier-reprise", h.CheckResumable)
	g.GET("/:id", h.GetSnapshot)
	g.GET("/:id/version", h.Version)
	g.GET("/:id/sync-state", h.SyncState)
	g.GET("/:id/operations", h.ListOperations)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, envelope.Data)
	}
}

func TestSaveHandlerCreates(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)

	w := doRequest(t, r, http.MethodPost, "/api/v1/passations/save", gin.H{
		"studentId": "etu-1",
		"examId":    "exa-1",
		"version":   0,
		"answers":   gin.H{"q1": "A"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body model.SaveResponse
	decodeData(t, w, &body)
	if !body.Success || body.Result != model.ResultOK {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.PassationID == nil || body.NewVersion == nil || *body.NewVersion != 0 {
		t.Fatalf("expected passation id and version 0, got %+v", body)
	}
}

func TestSaveHandlerValidation(t *testing.T) {
	r := newTestRouter(newFakeStore())

	// studentId and examId are required.
	w := doRequest(t, r, http.MethodPost, "/api/v1/passations/save", gin.H{"version": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSaveHandlerConflictMapsTo409(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 4)

	w := doRequest(t, r, http.MethodPost, "/api/v1/passations/save", gin.H{
		"passationId": p.ID.String(),
		"studentId":   "etu-1",
		"examId":      "exa-1",
		"version":     3,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var body model.SaveResponse
	decodeData(t, w, &body)
	if body.Result != model.ResultConflict {
		t.Fatalf("expected %s, got %s", model.ResultConflict, body.Result)
	}
	if body.ServerSnapshot == nil || body.ServerSnapshot.Version != 4 {
		t.Fatalf("expected authoritative snapshot at version 4, got %+v", body.ServerSnapshot)
	}
}

func TestChangeStatusHandler(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusNotStarted, 0)

	w := doRequest(t, r, http.MethodPut,
		fmt.Sprintf("/api/v1/passations/%s/statut?statut=IN_PROGRESS&version=0", p.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	// Submitting straight from IN_PROGRESS at the bumped version works.
	w = doRequest(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/passations/%s/soumettre?version=1", p.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status %d: %s", w.Code, w.Body.String())
	}

	// Terminal: any further transition is a 422 with the current status.
	w = doRequest(t, r, http.MethodPut,
		fmt.Sprintf("/api/v1/passations/%s/statut?statut=IN_PROGRESS&version=2", p.ID), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChangeStatusHandlerRejectsUnknownStatus(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 1)

	w := doRequest(t, r, http.MethodPut,
		fmt.Sprintf("/api/v1/passations/%s/statut?statut=FINI&version=1", p.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordAnswerHandler(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 0)

	w := doRequest(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/passations/%s/reponses", p.ID), gin.H{
			"version": 0,
			"itemId":  "q1",
			"reponse": gin.H{"choix": "B"},
		})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body model.SaveResponse
	decodeData(t, w, &body)
	if body.NewVersion == nil || *body.NewVersion != 1 {
		t.Fatalf("expected version 1, got %+v", body.NewVersion)
	}
}

func TestSyncLotHandler(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 0)

	op := func(id, itemID string) gin.H {
		return gin.H{
			"operationId":     id,
			"passationId":     p.ID.String(),
			"kind":            "ANSWER_WRITE",
			"payload":         gin.H{"itemId": itemID, "reponse": "A"},
			"clientTimestamp": time.Now().Format(time.RFC3339),
		}
	}

	w := doRequest(t, r, http.MethodPost, "/api/v1/passations/sync", gin.H{
		"operations": []gin.H{op("op1", "q1"), op("op2", "q2"), op("op1", "q1")},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body model.SyncLotResponse
	decodeData(t, w, &body)
	if !body.Success || len(body.OperationsApplied) != 2 {
		t.Fatalf("expected 2 applied, got %+v", body)
	}
}

func TestSyncStateHandler(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 5)

	w := doRequest(t, r, http.MethodGet,
		fmt.Sprintf("/api/v1/passations/%s/sync-state?versionClient=3", p.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body model.SyncStateResponse
	decodeData(t, w, &body)
	if body.State != model.SyncClientBehind || body.ServerVersion != 5 {
		t.Fatalf("unexpected state: %+v", body)
	}
}

func TestSyncStateHandlerRejectsMissingVersion(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusInProgress, 5)

	w := doRequest(t, r, http.MethodGet,
		fmt.Sprintf("/api/v1/passations/%s/sync-state", p.ID), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckResumableHandler(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	p := store.seed(model.StatusPaused, 2)

	w := doRequest(t, r, http.MethodGet,
		"/api/v1/passations/verifier-reprise?etudiantId=etu-1&examenId=exa-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var body model.ResumeResponse
	decodeData(t, w, &body)
	if !body.Found || body.Passation == nil || body.Passation.ID != p.ID {
		t.Fatalf("expected the paused passation, got %+v", body)
	}
}

func TestCheckResumableHandlerRequiresStudent(t *testing.T) {
	r := newTestRouter(newFakeStore())

	w := doRequest(t, r, http.MethodGet, "/api/v1/passations/verifier-reprise", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckResumableHandlerAmbiguityMapsTo409(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)
	// Two active attempts for the same exam, injected past the guard.
	store.seed(model.StatusInProgress, 0)
	store.seed(model.StatusInProgress, 0)

	w := doRequest(t, r, http.MethodGet,
		"/api/v1/passations/verifier-reprise?etudiantId=etu-1&examenId=exa-1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSnapshotHandlerNotFound(t *testing.T) {
	r := newTestRouter(newFakeStore())

	w := doRequest(t, r, http.MethodGet,
		fmt.Sprintf("/api/v1/passations/%s", uuid.New()), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetSnapshotHandlerRejectsBadID(t *testing.T) {
	r := newTestRouter(newFakeStore())

	w := doRequest(t, r, http.MethodGet, "/api/v1/passations/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
