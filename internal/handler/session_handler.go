package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ct-study-api/internal/service"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
	"github.com/noah-isme/ct-study-api/pkg/response"
)

// SessionHandler exposes session routing and lifecycle endpoints.
type SessionHandler struct {
	scheduler *service.SchedulerService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(scheduler *service.SchedulerService) *SessionHandler {
	return &SessionHandler{scheduler: scheduler}
}

type beginSessionRequest struct {
	Lang string `json:"lang"`
}

// Route godoc
// @Summary Compute the routing decision for a participant
// @Tags Sessions
// @Produce json
// @Param id path string true "Participant ID"
// @Success 200 {object} response.Envelope
// @Router /participants/{id}/route [get]
func (h *SessionHandler) Route(c *gin.Context) {
	outcome, err := h.scheduler.Route(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome)
}

// Begin godoc
// @Summary Begin a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Participant ID"
// @Param n path int true "Session number"
// @Success 200 {object} response.Envelope
// @Router /participants/{id}/sessions/{n}/begin [post]
func (h *SessionHandler) Begin(c *gin.Context) {
	n, ok := h.sessionNumber(c)
	if !ok {
		return
	}
	var req beginSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}

	state, err := h.scheduler.BeginSession(c.Request.Context(), c.Param("id"), n, req.Lang)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state)
}

// Complete godoc
// @Summary Complete a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Participant ID"
// @Param n path int true "Session number"
// @Success 200 {object} response.Envelope
// @Router /participants/{id}/sessions/{n}/complete [post]
func (h *SessionHandler) Complete(c *gin.Context) {
	n, ok := h.sessionNumber(c)
	if !ok {
		return
	}
	state, err := h.scheduler.CompleteSession(c.Request.Context(), c.Param("id"), n)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, state)
}

// Withdraw godoc
// @Summary Record a withdrawal timestamp on a started session
// @Tags Sessions
// @Produce json
// @Param id path string true "Participant ID"
// @Param n path int true "Session number"
// @Success 204 "No Content"
// @Router /participants/{id}/sessions/{n}/withdraw [post]
func (h *SessionHandler) Withdraw(c *gin.Context) {
	n, ok := h.sessionNumber(c)
	if !ok {
		return
	}
	if err := h.scheduler.Withdraw(c.Request.Context(), c.Param("id"), n); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *SessionHandler) sessionNumber(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid session number"))
		return 0, false
	}
	return n, true
}