package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/logger"
	"github.com/snapmeta/snapmeta/internal/storage"
)

// Job is the ephemeral unit of work for one uploaded image. SourceFile is a
// temporary artifact owned by the job; it is released on every exit path.
type Job struct {
	SourceFile string
	FileName   string
	BatchID    string
	UserID     string
}

// Outcome is the tagged result of one job: exactly one of Success or
// Failure is set. Modeling outcomes as data keeps the orchestrator's
// aggregation loop total.
type Outcome struct {
	Success *domain.ImageResult
	Failure *domain.FailureResult
}

// Executor runs resize, generate, and upload for one image and converts
// every failure mode into a FailureResult. Execute never returns an error:
// all failure is data.
type Executor struct {
	resizer   *Resizer
	generator MetadataGenerator
	storage   storage.ObjectStorage
	logger    *logger.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(resizer *Resizer, generator MetadataGenerator, objectStorage storage.ObjectStorage, log *logger.Logger) *Executor {
	return &Executor{
		resizer:   resizer,
		generator: generator,
		storage:   objectStorage,
		logger:    log,
	}
}

func (e *Executor) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return e.logger
}

// Execute processes one image job. After it returns, no temporary file from
// the job remains on disk, whether it succeeded or failed.
func (e *Executor) Execute(ctx context.Context, job *Job) Outcome {
	var resizedPath string
	defer func() {
		e.cleanup(ctx, job.SourceFile)
		if resizedPath != "" {
			e.cleanup(ctx, resizedPath)
		}
	}()

	resizedPath, err := e.resizer.Resize(job.SourceFile)
	if err != nil {
		return e.failure(job, err)
	}

	imageData, err := os.ReadFile(resizedPath)
	if err != nil {
		return e.failure(job, domain.WrapError(domain.ErrorKindIO,
			fmt.Errorf("failed to read resized image: %w", err)))
	}

	// The resize step may have re-encoded the image (webp comes out as
	// jpeg), so the format follows the output file, not the upload name.
	format := formatFor(resizedPath)

	// Call the AI backend before persisting anything, so a generation
	// failure needs no storage rollback.
	metadata, err := e.generator.Generate(ctx, imageData, format)
	if err != nil {
		return e.failure(job, err)
	}

	storageKey := storageKeyFor(job, resizedPath)
	contentType := mimeTypeFor(format)
	if err := e.storage.Upload(ctx, storageKey, bytes.NewReader(imageData), int64(len(imageData)), contentType); err != nil {
		return e.failure(job, domain.WrapError(domain.ErrorKindIO,
			fmt.Errorf("failed to upload image: %w", err)))
	}

	return Outcome{Success: &domain.ImageResult{
		ImageName:  job.FileName,
		ImageURL:   e.storage.GetURL(storageKey),
		StorageKey: storageKey,
		Metadata:   *metadata,
	}}
}

func (e *Executor) failure(job *Job, err error) Outcome {
	return Outcome{Failure: &domain.FailureResult{
		Filename: job.FileName,
		Reason:   domain.KindOf(err),
		Message:  err.Error(),
	}}
}

// cleanup removes a temporary artifact. Errors are logged, never propagated:
// a cleanup failure must not mask the job's primary outcome.
func (e *Executor) cleanup(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.log(ctx).WithFields(logger.Fields{
			"path": path,
		}).WithError(err).Warn("Failed to remove temporary file")
	}
}

// storageKeyFor builds the object key for one processed image: batch scope,
// a fresh uuid so repeated filenames in a batch never collide, and the
// original name carrying the extension the resize step actually produced.
func storageKeyFor(job *Job, resizedPath string) string {
	base := strings.TrimSuffix(job.FileName, filepath.Ext(job.FileName))
	return fmt.Sprintf("%s/%s_%s%s", job.BatchID, uuid.New().String(), base, filepath.Ext(resizedPath))
}

func formatFor(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "jpeg"
	}
	return ext
}
