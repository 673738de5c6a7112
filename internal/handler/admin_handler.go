package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ct-study-api/internal/service"
	"github.com/noah-isme/ct-study-api/pkg/response"
)

// AdminHandler exposes the authenticated operator endpoints.
type AdminHandler struct {
	operators *service.OperatorService
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(operators *service.OperatorService) *AdminHandler {
	return &AdminHandler{operators: operators}
}

// Balance godoc
// @Summary Snapshot of counterbalancing counters
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/balance [get]
func (h *AdminHandler) Balance(c *gin.Context) {
	counters, err := h.operators.BalanceSnapshot(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counters)
}

// CodeStatus godoc
// @Summary Look up a registration code
// @Tags Admin
// @Produce json
// @Param code path string true "Registration code"
// @Success 200 {object} response.Envelope
// @Router /admin/codes/{code} [get]
func (h *AdminHandler) CodeStatus(c *gin.Context) {
	rec, err := h.operators.CodeStatus(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec)
}

// CompleteMapping godoc
// @Summary Mark an identity mapping completed
// @Tags Admin
// @Produce json
// @Param code path string true "Public registration code"
// @Success 200 {object} response.Envelope
// @Router /admin/mappings/{code}/complete [post]
func (h *AdminHandler) CompleteMapping(c *gin.Context) {
	mapping, err := h.operators.CompleteMapping(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mapping)
}

// ParticipantEvents godoc
// @Summary List enrollment events for a participant
// @Tags Admin
// @Produce json
// @Param id path string true "Participant ID"
// @Param limit query int false "Max events"
// @Success 200 {object} response.Envelope
// @Router /admin/participants/{id}/events [get]
func (h *AdminHandler) ParticipantEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.operators.ParticipantEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events)
}

// ExportEvents godoc
// @Summary Export a participant's enrollment events as CSV
// @Tags Admin
// @Produce text/csv
// @Param id path string true "Participant ID"
// @Success 200 {string} string "CSV payload"
// @Router /admin/participants/{id}/events.csv [get]
func (h *AdminHandler) ExportEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	data, err := h.operators.ExportEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=events.csv")
	c.Data(http.StatusOK, "text/csv", data)
}