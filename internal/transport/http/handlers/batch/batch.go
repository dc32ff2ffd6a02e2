// Package batch exposes the Test Coordination Service's batch lifecycle
// operations over HTTP.
package batch

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"brokle/internal/core/domain/fat"
	"brokle/internal/core/services/coordination"
	"brokle/pkg/ferrors"
	"brokle/pkg/validator"
)

// Handler handles batch submission and lifecycle endpoints.
type Handler struct {
	coordinator *coordination.Service
}

// NewHandler creates a new batch handler.
func NewHandler(coordinator *coordination.Service) *Handler {
	return &Handler{coordinator: coordinator}
}

// createRequest is the wire shape of a batch submission.
type createRequest struct {
	BatchName          string                       `json:"batch_name"`
	ProductModel       *string                      `json:"product_model,omitempty"`
	SerialNumber       *string                      `json:"serial_number,omitempty"`
	StationName        *string                      `json:"station_name,omitempty"`
	ChannelDefinitions []fat.ChannelPointDefinition `json:"channel_definitions"`
	MaxConcurrentTests *int                         `json:"max_concurrent_tests,omitempty"`
	AutoStart          bool                         `json:"auto_start"`
}

// Create submits a new batch for allocation and (optionally) starts it.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tags := make([]string, len(req.ChannelDefinitions))
	for i, d := range req.ChannelDefinitions {
		tags[i] = d.Tag
	}
	if err := validator.ValidateExecutionRequest(req.BatchName, tags, req.MaxConcurrentTests); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for i := range req.ChannelDefinitions {
		if req.ChannelDefinitions[i].ID == uuid.Nil {
			req.ChannelDefinitions[i].ID = uuid.New()
		}
	}

	resp, err := h.coordinator.SubmitTestExecution(c.Request.Context(), coordination.ExecutionRequest{
		BatchInfo: fat.TestBatchInfo{
			BatchID:      uuid.New(),
			BatchName:    req.BatchName,
			ProductModel: req.ProductModel,
			SerialNumber: req.SerialNumber,
			StationName:  req.StationName,
		},
		ChannelDefinitions: req.ChannelDefinitions,
		MaxConcurrentTests: req.MaxConcurrentTests,
		AutoStart:          req.AutoStart,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Start begins test execution for a previously submitted batch.
func (h *Handler) Start(c *gin.Context) {
	h.lifecycleOp(c, h.coordinator.StartBatchTesting)
}

// Pause pauses an in-progress batch, allowing it to be resumed later.
func (h *Handler) Pause(c *gin.Context) {
	h.lifecycleOp(c, h.coordinator.PauseBatchTesting)
}

// Resume resumes a paused batch.
func (h *Handler) Resume(c *gin.Context) {
	h.lifecycleOp(c, h.coordinator.ResumeBatchTesting)
}

// Stop cancels all outstanding tasks for a batch.
func (h *Handler) Stop(c *gin.Context) {
	h.lifecycleOp(c, h.coordinator.StopBatchTesting)
}

func (h *Handler) lifecycleOp(c *gin.Context, op func(ctx context.Context, batchID uuid.UUID) error) {
	batchID, err := parseBatchID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := op(c.Request.Context(), batchID); err != nil {
		writeServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Progress returns a point-in-time progress snapshot for every instance in
// the batch.
func (h *Handler) Progress(c *gin.Context) {
	batchID, err := parseBatchID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	progress, err := h.coordinator.GetBatchProgress(c.Request.Context(), batchID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

func parseBatchID(c *gin.Context) (uuid.UUID, error) {
	return uuid.Parse(c.Param("id"))
}

func writeServiceError(c *gin.Context, err error) {
	appErr := ferrors.FromDomainError(err)
	c.JSON(appErr.StatusCode, appErr)
}
