package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/examea/passation-backend/internal/model"
	"github.com/examea/passation-backend/internal/repository"
	"github.com/examea/passation-backend/internal/response"
	"github.com/examea/passation-backend/internal/service"
	"github.com/examea/passation-backend/internal/validator"
)

// PassationHandler handles the passation synchronization endpoints.
type PassationHandler struct {
	syncService *service.SyncService
}

// NewPassationHandler creates a new PassationHandler.
func NewPassationHandler(syncService *service.SyncService) *PassationHandler {
	return &PassationHandler{syncService: syncService}
}

// saveBody maps a typed outcome onto the boundary contract. Only here do
// the wire result strings exist.
func saveBody(outcome *model.SaveOutcome) (int, model.SaveResponse) {
	switch outcome.Kind {
	case model.OutcomeOK:
		v := outcome.NewVersion
		body := model.SaveResponse{Success: true, Result: model.ResultOK, NewVersion: &v}
		if outcome.Snapshot != nil {
			id := outcome.Snapshot.ID
			body.PassationID = &id
		}
		return http.StatusOK, body
	case model.OutcomeConflict:
		return http.StatusConflict, model.SaveResponse{
			Result:         model.ResultConflict,
			Message:        response.GetMessage(response.ErrVersionConflict),
			ServerSnapshot: outcome.Snapshot,
		}
	case model.OutcomeInvalidTransition:
		return http.StatusUnprocessableEntity, model.SaveResponse{
			Result:  model.ResultError,
			Message: response.GetMessage(response.ErrInvalidTransition) + " Statut actuel: " + string(outcome.CurrentStatus) + ".",
		}
	default: // OutcomeNotFound
		return http.StatusNotFound, model.SaveResponse{
			Result:  model.ResultError,
			Message: response.GetMessage(response.ErrNotFound),
		}
	}
}

// Save godoc
// POST /api/v1/passations/save
// One logical save: answers plus optional status, gated by the client
// version. Conflicts are an expected outcome and map to 409, never 500.
func (h *PassationHandler) Save(c *gin.Context) {
	var req model.SaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.syncService.Save(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status, body := saveBody(outcome)
	response.Success(c, status, body)
}

// SyncLot godoc
// POST /api/v1/passations/sync
// Applies an ordered lot of offline operations with partial-success
// semantics; replayed operations are skipped without error.
func (h *PassationHandler) SyncLot(c *gin.Context) {
	var req model.SyncLotRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.syncService.SyncLot(c.Request.Context(), req.Operations)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// RecordAnswer godoc
// POST /api/v1/passations/:id/reponses
// Single-answer save; shares the passation's version counter with full
// saves, so the conflict semantics are identical.
func (h *PassationHandler) RecordAnswer(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.AnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	outcome, err := h.syncService.RecordAnswer(c.Request.Context(), passationID, &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status, body := saveBody(outcome)
	response.Success(c, status, body)
}

// ChangeStatus godoc
// PUT /api/v1/passations/:id/statut?statut=&version=
func (h *PassationHandler) ChangeStatus(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	target := model.PassationStatus(c.Query("statut"))
	if !model.IsValidStatus(target) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil || version < 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	outcome, err := h.syncService.ChangeStatus(c.Request.Context(), passationID, target, version)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status, body := saveBody(outcome)
	response.Success(c, status, body)
}

// Submit godoc
// POST /api/v1/passations/:id/soumettre
// Sugar for a save with forced SUBMITTED status and a stamped end time.
func (h *PassationHandler) Submit(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil || version < 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	outcome, err := h.syncService.Submit(c.Request.Context(), passationID, version)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status, body := saveBody(outcome)
	response.Success(c, status, body)
}

// SyncState godoc
// GET /api/v1/passations/:id/sync-state?versionClient=N
func (h *PassationHandler) SyncState(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	clientVersion, err := strconv.ParseInt(c.Query("versionClient"), 10, 64)
	if err != nil || clientVersion < 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	state, err := h.syncService.CheckSyncState(c.Request.Context(), passationID, clientVersion)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Version godoc
// GET /api/v1/passations/:id/version
func (h *PassationHandler) Version(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	version, err := h.syncService.Version(c.Request.Context(), passationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"version": version})
}

// CheckResumable godoc
// GET /api/v1/passations/verifier-reprise?etudiantId=&examenId=
// Finds the interrupted attempt a learner can rehydrate locally. Two
// active attempts for one exam mean prior corruption and fail loudly.
func (h *PassationHandler) CheckResumable(c *gin.Context) {
	studentID := c.Query("etudiantId")
	if studentID == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	examID := c.Query("examenId")

	result, err := h.syncService.CheckResumable(c.Request.Context(), studentID, examID)
	if err != nil {
		if errors.Is(err, repository.ErrMultipleActive) {
			response.Fail(c, http.StatusConflict, response.ErrResumeAmbiguous)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetSnapshot godoc
// GET /api/v1/passations/:id
func (h *PassationHandler) GetSnapshot(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	p, err := h.syncService.Snapshot(c.Request.Context(), passationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"passation": p})
}

// ListOperations godoc
// GET /api/v1/passations/:id/operations
// The applied operation trail, kept for dispute resolution.
func (h *PassationHandler) ListOperations(c *gin.Context) {
	passationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ops, err := h.syncService.Operations(c.Request.Context(), passationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if ops == nil {
		ops = []model.Operation{}
	}
	response.Success(c, http.StatusOK, gin.H{"operations": ops})
}

// Search godoc
// GET /api/v1/passations?etudiantId=&examenId=&statut=&page=&perPage=
func (h *PassationHandler) Search(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("perPage", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter := model.SearchFilter{
		StudentID: c.Query("etudiantId"),
		ExamID:    c.Query("examenId"),
		Status:    model.PassationStatus(c.Query("statut")),
		Page:      page,
		PerPage:   perPage,
	}
	if filter.Status != "" && !model.IsValidStatus(filter.Status) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	passations, total, err := h.syncService.Search(c.Request.Context(), filter)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if passations == nil {
		passations = []model.Passation{}
	}
	totalPages := int(total) / filter.PerPage
	if int(total)%filter.PerPage > 0 {
		totalPages++
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"passations": passations}, &response.Pagination{
		Page:       filter.Page,
		PerPage:    filter.PerPage,
		TotalItems: int(total),
		TotalPages: totalPages,
	})
}
