package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// reachableStorage answers every check without holding any objects.
type reachableStorage struct{}

func (reachableStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	return nil
}
func (reachableStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("object %s not found", key)
}
func (reachableStorage) GetURL(key string) string { return "" }

func (reachableStorage) Delete(ctx context.Context, key string) error { return nil }

func (reachableStorage) EnsureBucket(ctx context.Context) error { return nil }

func (reachableStorage) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}

// unreachableStorage fails every check with a transport error.
type unreachableStorage struct{ reachableStorage }

func (unreachableStorage) Exists(ctx context.Context, key string) (bool, error) {
	return false, fmt.Errorf("connection refused")
}

func healthDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	return db
}

func serveHealth(t *testing.T, h *HealthHandler) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.Health)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler(healthDB(t), reachableStorage{})
	w := serveHealth(t, h)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"status":"ok"`, `"service":"snapmeta"`, `"database":"ok"`, `"storage":"ok"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}

func TestHealthDegradedWhenStorageUnreachable(t *testing.T) {
	h := NewHealthHandler(healthDB(t), unreachableStorage{})
	w := serveHealth(t, h)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"status":"degraded"`) {
		t.Errorf("body missing degraded status: %s", body)
	}
	if !strings.Contains(body, `"storage":"unreachable"`) {
		t.Errorf("body missing storage check result: %s", body)
	}
	if !strings.Contains(body, `"database":"ok"`) {
		t.Errorf("database check should still pass: %s", body)
	}
}
