package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/service"
)

// DownloadHandler streams batch export archives.
type DownloadHandler struct {
	exportService *service.ExportService
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(exportService *service.ExportService) *DownloadHandler {
	return &DownloadHandler{exportService: exportService}
}

// Download handles GET /api/v1/images/download/:id and streams a ZIP of the
// batch's successful images.
func (h *DownloadHandler) Download(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Batch ID is required",
		})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch_"+id+".zip"))

	err := h.exportService.ExportZip(c.Request.Context(), id, c.Writer)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrBatchNotFound):
		// Reset headers only works before the first byte; export fails
		// before writing when the batch is missing
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", "")
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Batch not found",
		})
	case errors.Is(err, domain.ErrNoSuccessfulImages):
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", "")
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Batch has no successful images",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Export failed: " + err.Error(),
		})
	}
}
