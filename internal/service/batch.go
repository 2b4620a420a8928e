package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/logger"
	"github.com/snapmeta/snapmeta/internal/storage"
)

// BatchStore is the persistence contract for batch records. The orchestrator
// that owns a batch's dispatch loop is the only writer of that record.
type BatchStore interface {
	Create(ctx context.Context, batch *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	AppendSuccess(ctx context.Context, batchID string, result domain.ImageResult, remainingTokens int64) (*domain.Batch, error)
	AppendFailure(ctx context.Context, batchID string, failure domain.FailureResult) (*domain.Batch, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Batch, error)
}

// TokenLedger is the authoritative credit balance. All mutation goes through
// TryDebit; callers never read-modify-write.
type TokenLedger interface {
	TryDebit(ctx context.Context, userID string, amount int64) (bool, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// BatchConfig holds orchestrator configuration.
type BatchConfig struct {
	Workers   int   // concurrency bound per batch
	TokenCost int64 // tokens debited per successful image
}

// BatchService owns batch creation, concurrency-bounded dispatch, result
// aggregation, and status transitions.
type BatchService struct {
	batches   BatchStore
	tokens    TokenLedger
	storage   storage.ObjectStorage
	executor  *Executor
	logger    *logger.Logger
	workers   int
	tokenCost int64
}

// NewBatchService creates a new batch orchestrator.
func NewBatchService(
	batches BatchStore,
	tokens TokenLedger,
	objectStorage storage.ObjectStorage,
	executor *Executor,
	log *logger.Logger,
	cfg *BatchConfig,
) *BatchService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 5
	}
	tokenCost := cfg.TokenCost
	if tokenCost <= 0 {
		tokenCost = 1
	}
	return &BatchService{
		batches:   batches,
		tokens:    tokens,
		storage:   objectStorage,
		executor:  executor,
		logger:    log,
		workers:   workers,
		tokenCost: tokenCost,
	}
}

func (s *BatchService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateBatch persists a new batch record in processing state and dispatches
// its jobs asynchronously. It returns as soon as the record exists; the
// caller polls GetBatch for progress.
func (s *BatchService) CreateBatch(ctx context.Context, userID string, jobs []*Job) (*domain.Batch, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("batch must contain at least one image")
	}

	balance, err := s.tokens.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance: %w", err)
	}

	now := time.Now()
	batch := &domain.Batch{
		ID:               uuid.New().String(),
		UserID:           userID,
		TotalImages:      len(jobs),
		Status:           domain.BatchStatusProcessing,
		SuccessfulImages: domain.ImageResultList{},
		FailedImages:     domain.FailureResultList{},
		RemainingTokens:  balance,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, job := range jobs {
		job.BatchID = batch.ID
		job.UserID = userID
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch record: %w", err)
	}

	// The request context dies when the upload response is written; the
	// pipeline runs on its own context and carries the tracing fields.
	runCtx := logger.WithFields(context.Background(), logger.Fields{
		logger.FieldBatchID:   batch.ID,
		logger.FieldUserID:    userID,
		logger.FieldComponent: "pipeline",
	})
	go s.process(runCtx, batch, jobs)

	return batch, nil
}

// GetBatch returns the latest committed state of a batch.
func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.batches.GetByID(ctx, batchID)
}

// ListBatches returns a user's batches newest first.
func (s *BatchService) ListBatches(ctx context.Context, userID string, limit, offset int) ([]domain.Batch, error) {
	return s.batches.ListByUser(ctx, userID, limit, offset)
}

// process fans the batch's jobs out to the executor with bounded concurrency
// and aggregates outcomes as they complete. Every job gets exactly one
// outcome; there is no early termination on first failure.
func (s *BatchService) process(ctx context.Context, batch *domain.Batch, jobs []*Job) {
	start := time.Now()
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCount: len(jobs),
		"workers":         s.workers,
	}).Info("Starting batch processing")

	jobsChan := make(chan *Job)
	resultsChan := make(chan Outcome, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				resultsChan <- s.executor.Execute(ctx, job)
			}
		}()
	}

	// Single collector goroutine: serializes settlement and record appends,
	// so the batch record has one writer and no outcome is lost.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for outcome := range resultsChan {
			s.collect(ctx, batch, outcome)
		}
	}()

	// Dispatch in upload order. The admission check short-circuits jobs the
	// balance can no longer cover without invoking the executor.
	for _, job := range jobs {
		if outcome, short := s.admit(ctx, job); short {
			resultsChan <- outcome
			continue
		}
		jobsChan <- job
	}

	close(jobsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	final, err := s.batches.GetByID(ctx, batch.ID)
	if err != nil {
		s.log(ctx).WithError(err).Error("Failed to load final batch state")
		return
	}
	s.log(ctx).WithFields(logger.Fields{
		logger.FieldStatus:     string(final.Status),
		"successful":           len(final.SuccessfulImages),
		"failed":               len(final.FailedImages),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Batch processing completed")
}

// admit consults the ledger before dispatch. A user whose balance is already
// exhausted gets an InsufficientTokens outcome directly; the job's temporary
// file is released here because the executor never sees it.
func (s *BatchService) admit(ctx context.Context, job *Job) (Outcome, bool) {
	balance, err := s.tokens.Balance(ctx, job.UserID)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Admission balance check failed, dispatching anyway")
		return Outcome{}, false
	}
	if balance >= s.tokenCost {
		return Outcome{}, false
	}

	s.removeTempFile(ctx, job.SourceFile)
	return Outcome{Failure: &domain.FailureResult{
		Filename: job.FileName,
		Reason:   domain.ErrorKindInsufficientTokens,
		Message:  fmt.Sprintf("balance %d cannot cover image cost %d", balance, s.tokenCost),
	}}, true
}

// collect settles and records one outcome. A success whose debit cannot be
// satisfied (race against concurrent batches) becomes an InsufficientTokens
// failure, and its uploaded artifact is rolled back so no generated success
// is left undebited.
func (s *BatchService) collect(ctx context.Context, batch *domain.Batch, outcome Outcome) {
	if outcome.Failure != nil {
		s.recordFailure(ctx, batch.ID, *outcome.Failure)
		return
	}

	result := outcome.Success
	debited, err := s.tokens.TryDebit(ctx, batch.UserID, s.tokenCost)
	if err != nil {
		s.log(ctx).WithError(err).Error("Token debit failed")
		s.rollbackUpload(ctx, result.StorageKey)
		s.recordFailure(ctx, batch.ID, domain.FailureResult{
			Filename: result.ImageName,
			Reason:   domain.ErrorKindIO,
			Message:  "token ledger unavailable: " + err.Error(),
		})
		return
	}
	if !debited {
		s.rollbackUpload(ctx, result.StorageKey)
		s.recordFailure(ctx, batch.ID, domain.FailureResult{
			Filename: result.ImageName,
			Reason:   domain.ErrorKindInsufficientTokens,
			Message:  fmt.Sprintf("balance cannot cover image cost %d", s.tokenCost),
		})
		return
	}

	remaining, err := s.tokens.Balance(ctx, batch.UserID)
	if err != nil {
		s.log(ctx).WithError(err).Warn("Failed to read balance after debit")
	}
	if _, err := s.batches.AppendSuccess(ctx, batch.ID, *result, remaining); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldImage: result.ImageName,
		}).WithError(err).Error("Failed to record success outcome")
	}
}

func (s *BatchService) recordFailure(ctx context.Context, batchID string, failure domain.FailureResult) {
	if _, err := s.batches.AppendFailure(ctx, batchID, failure); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldImage: failure.Filename,
		}).WithError(err).Error("Failed to record failure outcome")
	}
}

func (s *BatchService) rollbackUpload(ctx context.Context, storageKey string) {
	if err := s.storage.Delete(ctx, storageKey); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			"storage_key": storageKey,
		}).WithError(err).Error("Failed to rollback uploaded image")
	}
}

func (s *BatchService) removeTempFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log(ctx).WithFields(logger.Fields{
			"path": path,
		}).WithError(err).Warn("Failed to remove temporary file")
	}
}
