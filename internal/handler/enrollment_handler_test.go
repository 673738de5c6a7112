package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/ct-study-api/internal/service"
	"github.com/noah-isme/ct-study-api/pkg/config"
)

func newClaimRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	enrollments := service.NewEnrollmentService(passthroughTxRunner{}, nil, nil, nil, nil,
		nil, nil, nil, nil, config.EnrollmentConfig{})
	h := NewEnrollmentHandler(enrollments, nil)

	r := gin.New()
	r.POST("/claims", h.Claim)
	return r
}

func TestClaimEndpointRejectsMalformedPayload(t *testing.T) {
	r := newClaimRouter()
	w, envelope := doRequest(t, r, http.MethodPost, "/claims", `{"code":`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestClaimEndpointRejectsMissingCode(t *testing.T) {
	r := newClaimRouter()
	w, envelope := doRequest(t, r, http.MethodPost, "/claims", `{"code":"  "}`)

	require.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_CODE", envelope.Error.Code)
}
