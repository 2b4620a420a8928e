package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/snapmeta/snapmeta/internal/storage"
	"gorm.io/gorm"
)

// HealthHandler reports service liveness and the reachability of the batch
// store and object storage.
type HealthHandler struct {
	db      *gorm.DB
	storage storage.ObjectStorage
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *gorm.DB, objectStorage storage.ObjectStorage) *HealthHandler {
	return &HealthHandler{
		db:      db,
		storage: objectStorage,
	}
}

// Health returns 200 when both dependencies answer, 503 otherwise.
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := h.pingDatabase(c); err != nil {
		checks["database"] = "unreachable"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	// Checking a key that does not exist exercises the storage backend
	// without side effects; only transport errors count as failures.
	if _, err := h.storage.Exists(c.Request.Context(), "healthz"); err != nil {
		checks["storage"] = "unreachable"
		healthy = false
	} else {
		checks["storage"] = "ok"
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	c.JSON(status, gin.H{
		"status":  state,
		"service": "snapmeta",
		"checks":  checks,
	})
}

func (h *HealthHandler) pingDatabase(c *gin.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request.Context())
}
