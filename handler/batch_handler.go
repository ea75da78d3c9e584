package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Aashish23092/invoice-reconcile/dto"
)

// Jobs is the background batch runner behind the HTTP surface.
type Jobs interface {
	Start(req dto.StartBatchRequest) (string, error)
	Status(id string) (*dto.BatchSummary, error)
	List() ([]*dto.BatchSummary, error)
	Events(id string) (*dto.EventsResponse, error)
	Records(id string) ([]dto.ReconciledRecord, error)
	Cancel(id string) error
	Delete(id string) error
}

type BatchHandler struct {
	jobs Jobs
	log  zerolog.Logger
}

func NewBatchHandler(jobs Jobs, log zerolog.Logger) *BatchHandler {
	return &BatchHandler{
		jobs: jobs,
		log:  log,
	}
}

// Register mounts the batch routes on an /api/v1 group.
func (h *BatchHandler) Register(api *gin.RouterGroup) {
	batches := api.Group("/batches")
	{
		batches.POST("", h.StartBatch)
		batches.GET("", h.ListBatches)
		batches.GET("/:id", h.GetBatch)
		batches.GET("/:id/events", h.GetEvents)
		batches.GET("/:id/records", h.GetRecords)
		batches.DELETE("/:id", h.CancelBatch)
	}
}

// StartBatch handles POST /api/v1/batches
func (h *BatchHandler) StartBatch(c *gin.Context) {
	var req dto.StartBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	id, err := h.jobs.Start(req)
	if err != nil {
		h.sendServiceError(c, err)
		return
	}

	h.log.Info().Str("batch_id", id).Str("folder", req.FolderPath).Msg("batch accepted")
	c.JSON(http.StatusAccepted, dto.StartBatchResponse{
		BatchID: id,
		Status:  string(dto.BatchStatusRunning),
	})
}

// ListBatches handles GET /api/v1/batches
func (h *BatchHandler) ListBatches(c *gin.Context) {
	batches, err := h.jobs.List()
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	summary, err := h.jobs.Status(c.Param("id"))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetEvents handles GET /api/v1/batches/:id/events
func (h *BatchHandler) GetEvents(c *gin.Context) {
	events, err := h.jobs.Events(c.Param("id"))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetRecords handles GET /api/v1/batches/:id/records
func (h *BatchHandler) GetRecords(c *gin.Context) {
	records, err := h.jobs.Records(c.Param("id"))
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// CancelBatch handles DELETE /api/v1/batches/:id. A running batch is
// cancelled; a stopped one is removed from history.
func (h *BatchHandler) CancelBatch(c *gin.Context) {
	id := c.Param("id")
	err := h.jobs.Cancel(id)
	if errors.Is(err, dto.ErrBatchFinished) {
		if err := h.jobs.Delete(id); err != nil {
			h.sendServiceError(c, err)
			return
		}
		h.log.Info().Str("batch_id", id).Msg("batch deleted")
		c.JSON(http.StatusOK, dto.StartBatchResponse{
			BatchID: id,
			Status:  "deleted",
		})
		return
	}
	if err != nil {
		h.sendServiceError(c, err)
		return
	}
	h.log.Info().Str("batch_id", id).Msg("batch cancellation requested")
	c.JSON(http.StatusAccepted, dto.StartBatchResponse{
		BatchID: id,
		Status:  "cancelling",
	})
}

func (h *BatchHandler) sendServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dto.ErrBatchNotFound):
		h.sendError(c, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, dto.ErrBatchRunning), errors.Is(err, dto.ErrBatchFinished):
		h.sendError(c, http.StatusConflict, "CONFLICT", err)
	case errors.Is(err, dto.ErrInvalidInput):
		h.sendError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
	default:
		h.sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err)
	}
}

// sendError sends a structured error response
func (h *BatchHandler) sendError(c *gin.Context, statusCode int, code string, err error) {
	if statusCode >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}

	c.JSON(statusCode, dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
		Code:    statusCode,
	})
}
