// Package instance exposes manual-test operations on a single channel test
// instance over HTTP.
package instance

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
	"brokle/internal/core/services/coordination"
	"brokle/pkg/ferrors"
	"brokle/pkg/validator"
)

// Handler handles per-instance manual test endpoints.
type Handler struct {
	coordinator *coordination.Service
}

// NewHandler creates a new instance handler.
func NewHandler(coordinator *coordination.Service) *Handler {
	return &Handler{coordinator: coordinator}
}

type manualTestRequest struct {
	SubTestItem   fat.SubTestItem `json:"sub_test_item"`
	Passed        bool            `json:"passed"`
	OperatorNotes string          `json:"operator_notes,omitempty"`
	RawValue      *float64        `json:"raw_value,omitempty"`
}

// ManualTest records one operator-driven sub-test result against an
// instance, starting the sub-test first if it hasn't been started yet.
func (h *Handler) ManualTest(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}

	var req manualTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := validator.ValidateManualTestSubmission(instanceID.String(), string(req.SubTestItem), req.RawValue); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.coordinator.StartManualTest(c.Request.Context(), instanceID, req.SubTestItem); err != nil {
		writeServiceError(c, err)
		return
	}

	instance, err := h.coordinator.UpdateManualTestSubitem(c.Request.Context(), instanceID, req.SubTestItem, req.Passed, req.OperatorNotes)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, instance)
}

// Status returns the current overall and sub-test state of one instance.
func (h *Handler) Status(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
		return
	}

	instance, err := h.coordinator.GetManualTestStatus(c.Request.Context(), instanceID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, instance)
}

func writeServiceError(c *gin.Context, err error) {
	appErr := ferrors.FromDomainError(err)
	c.JSON(appErr.StatusCode, appErr)
}
