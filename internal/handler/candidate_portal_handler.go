package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prosetya/examgate/internal/examapi"
	"github.com/prosetya/examgate/internal/middleware"
	"github.com/prosetya/examgate/internal/model"
	"github.com/prosetya/examgate/internal/response"
	"github.com/prosetya/examgate/internal/session"
	"github.com/prosetya/examgate/internal/validator"
)

// CandidatePortalHandler handles candidate-facing REST endpoints: the start
// handshake, the reload-recovery state view and the evaluated result.
type CandidatePortalHandler struct {
	registry *session.Registry
	api      session.PlatformAPI
}

// NewCandidatePortalHandler creates a new CandidatePortalHandler.
func NewCandidatePortalHandler(registry *session.Registry, api session.PlatformAPI) *CandidatePortalHandler {
	return &CandidatePortalHandler{registry: registry, api: api}
}

// StartExam godoc
// POST /api/v1/candidate/attempts
// Starts or resumes the candidate's attempt (idempotent).
func (h *CandidatePortalHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, err := uuid.Parse(req.ExamID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	ctrl, err := h.registry.Start(c.Request.Context(), claims.CandidateID, examID)
	if err != nil {
		if errors.Is(err, session.ErrInitFailed) {
			response.Fail(c, http.StatusBadGateway, response.ErrSessionInitFailed)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": ctrl.Attempt})
}

// GetPaper godoc
// GET /api/v1/candidate/attempts/:attempt_id/paper
// Returns the renderable exam for an active session.
func (h *CandidatePortalHandler) GetPaper(c *gin.Context) {
	ctrl := h.ownedController(c)
	if ctrl == nil {
		return
	}
	response.Success(c, http.StatusOK, ctrl.Paper())
}

// GetState godoc
// GET /api/v1/candidate/attempts/:attempt_id/state
// Returns the current session state so a page reload can restore answers,
// flags, remaining time and violation counters.
func (h *CandidatePortalHandler) GetState(c *gin.Context) {
	ctrl := h.ownedController(c)
	if ctrl == nil {
		return
	}
	response.Success(c, http.StatusOK, ctrl.State(c.Request.Context()))
}

// GetResult godoc
// GET /api/v1/candidate/results/:result_id
// Proxies the evaluated result; 202 while the platform is still evaluating.
func (h *CandidatePortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	resultID, err := uuid.Parse(c.Param("result_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.api.FetchResult(c.Request.Context(), resultID)
	if err != nil {
		if errors.Is(err, examapi.ErrNotReady) {
			response.Fail(c, http.StatusAccepted, response.ErrResultNotReady)
			return
		}
		response.Fail(c, http.StatusBadGateway, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// ownedController resolves the attempt in the path and verifies the caller
// owns it. Writes the error response and returns nil on any failure.
func (h *CandidatePortalHandler) ownedController(c *gin.Context) *session.Controller {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil
	}

	ctrl, err := h.registry.Get(attemptID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return nil
	}
	// IDOR guard: the attempt must belong to the authenticated candidate.
	if ctrl.Attempt.CandidateID != claims.CandidateID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return nil
	}
	return ctrl
}
