package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/ct-study-api/internal/service"
	appErrors "github.com/noah-isme/ct-study-api/pkg/errors"
	"github.com/noah-isme/ct-study-api/pkg/response"
)

// EnrollmentHandler exposes the public claim endpoint.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	scheduler   *service.SchedulerService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, scheduler *service.SchedulerService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, scheduler: scheduler}
}

// Claim godoc
// @Summary Claim a registration code
// @Tags Enrollment
// @Accept json
// @Produce json
// @Param payload body service.ClaimRequest true "Claim payload"
// @Param route query bool false "Include routing decision in the response"
// @Success 200 {object} response.Envelope "Resumed enrollment"
// @Success 201 {object} response.Envelope "New enrollment"
// @Router /claims [post]
func (h *EnrollmentHandler) Claim(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.IP = c.ClientIP()

	identity, err := h.enrollments.Claim(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusCreated
	if identity.Resumed {
		status = http.StatusOK
	}

	if c.Query("route") == "1" || c.Query("route") == "true" {
		outcome, err := h.scheduler.Route(c.Request.Context(), identity.ParticipantID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, status, gin.H{"identity": identity, "route": outcome})
		return
	}

	response.JSON(c, status, identity)
}