package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/logger"
	"github.com/snapmeta/snapmeta/internal/storage"
)

// ExportService streams a batch's successful images as a single ZIP archive.
// Read-only with respect to the batch store; failed images are not consulted.
type ExportService struct {
	batches BatchStore
	storage storage.ObjectStorage
	logger  *logger.Logger
}

// NewExportService creates a new export service.
func NewExportService(batches BatchStore, objectStorage storage.ObjectStorage, log *logger.Logger) *ExportService {
	return &ExportService{
		batches: batches,
		storage: objectStorage,
		logger:  log,
	}
}

func (s *ExportService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// ExportZip writes a ZIP of the batch's successful images to w. Returns
// domain.ErrBatchNotFound for an unknown batch and
// domain.ErrNoSuccessfulImages when there is nothing to archive (an empty
// archive is never produced).
func (s *ExportService) ExportZip(ctx context.Context, batchID string, w io.Writer) error {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	if len(batch.SuccessfulImages) == 0 {
		return domain.ErrNoSuccessfulImages
	}

	zw := zip.NewWriter(w)
	names := make(map[string]int, len(batch.SuccessfulImages))

	for _, result := range batch.SuccessfulImages {
		if err := s.addEntry(ctx, zw, names, result); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldBatchID: batchID,
		logger.FieldCount:   len(batch.SuccessfulImages),
	}).Info("Exported batch archive")
	return nil
}

func (s *ExportService) addEntry(ctx context.Context, zw *zip.Writer, names map[string]int, result domain.ImageResult) error {
	reader, err := s.storage.Download(ctx, result.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to locate image %s: %w", result.ImageName, err)
	}
	defer reader.Close()

	entry, err := zw.Create(entryName(names, result.ImageName))
	if err != nil {
		return fmt.Errorf("failed to create archive entry: %w", err)
	}
	if _, err := io.Copy(entry, reader); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}
	return nil
}

// entryName keeps archive names deterministic and collision-free: repeated
// filenames get a numeric suffix before the extension.
func entryName(seen map[string]int, name string) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}
