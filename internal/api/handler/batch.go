package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/service"
)

// BatchHandler handles image upload and batch polling endpoints.
type BatchHandler struct {
	batchService *service.BatchService
	tempDir      string
}

// NewBatchHandler creates a new batch handler. Uploaded files are staged
// under tempDir until their jobs consume them.
func NewBatchHandler(batchService *service.BatchService, tempDir string) *BatchHandler {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &BatchHandler{
		batchService: batchService,
		tempDir:      tempDir,
	}
}

// batchResponse is the poll payload for one batch.
type batchResponse struct {
	BatchID               string                   `json:"batch_id"`
	Status                domain.BatchStatus       `json:"status"`
	TotalImages           int                      `json:"total_images"`
	SuccessfulImages      domain.ImageResultList   `json:"successful_images"`
	FailedImages          domain.FailureResultList `json:"failed_images"`
	SuccessfulImagesCount int                      `json:"successful_images_count"`
	FailedImagesCount     int                      `json:"failed_images_count"`
	RemainingTokens       int64                    `json:"remaining_tokens"`
}

func toBatchResponse(b *domain.Batch) batchResponse {
	return batchResponse{
		BatchID:               b.ID,
		Status:                b.Status,
		TotalImages:           b.TotalImages,
		SuccessfulImages:      b.SuccessfulImages,
		FailedImages:          b.FailedImages,
		SuccessfulImagesCount: len(b.SuccessfulImages),
		FailedImagesCount:     len(b.FailedImages),
		RemainingTokens:       b.RemainingTokens,
	}
}

// Upload handles POST /api/v1/images/generate. It stages the uploaded files,
// creates the batch, and returns immediately; processing continues in the
// background.
func (h *BatchHandler) Upload(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		userID = c.GetHeader("X-User-ID")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form: " + err.Error(),
		})
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "At least one image is required",
		})
		return
	}

	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to prepare staging area",
		})
		return
	}

	jobs := make([]*service.Job, 0, len(files))
	for _, file := range files {
		name := filepath.Base(file.Filename)
		staged := filepath.Join(h.tempDir, uuid.New().String()+"_"+name)
		if err := c.SaveUploadedFile(file, staged); err != nil {
			// Release everything staged so far; the batch was never created
			for _, job := range jobs {
				os.Remove(job.SourceFile)
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to stage uploaded file: " + err.Error(),
			})
			return
		}
		jobs = append(jobs, &service.Job{
			SourceFile: staged,
			FileName:   name,
		})
	}

	batch, err := h.batchService.CreateBatch(c.Request.Context(), userID, jobs)
	if err != nil {
		for _, job := range jobs {
			os.Remove(job.SourceFile)
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create batch: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":         batch.ID,
		"total_images":     batch.TotalImages,
		"remaining_tokens": batch.RemainingTokens,
	})
}

// GetBatch handles GET /api/v1/batches/:id. Safe to call repeatedly; always
// reflects the latest committed state.
func (h *BatchHandler) GetBatch(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Batch ID is required",
		})
		return
	}

	batch, err := h.batchService.GetBatch(c.Request.Context(), id)
	if err != nil {
		if err == domain.ErrBatchNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Batch not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load batch: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, toBatchResponse(batch))
}

// ListBatches handles GET /api/v1/batches?user_id=...
func (h *BatchHandler) ListBatches(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	batches, err := h.batchService.ListBatches(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list batches: " + err.Error(),
		})
		return
	}

	results := make([]batchResponse, 0, len(batches))
	for i := range batches {
		results = append(results, toBatchResponse(&batches[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"batches": results,
		"count":   len(results),
	})
}
