package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapmeta/snapmeta/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchRepository persists batch records. A batch is stored as a single row
// with the per-image results embedded as JSON columns, because a batch's
// result set is always read and written as a unit.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new batch record.
func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// GetByID retrieves a batch by its ID. Returns domain.ErrBatchNotFound when
// no record exists.
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// AppendSuccess records one successful image outcome and recomputes the
// batch status. The read-append-write runs inside a transaction with the
// batch row locked, so concurrent appends to the same batch serialize and
// no outcome is lost.
func (r *BatchRepository) AppendSuccess(ctx context.Context, batchID string, result domain.ImageResult, remainingTokens int64) (*domain.Batch, error) {
	return r.appendOutcome(ctx, batchID, func(b *domain.Batch) {
		b.SuccessfulImages = append(b.SuccessfulImages, result)
		b.RemainingTokens = remainingTokens
	})
}

// AppendFailure records one failed image outcome and recomputes the batch status.
func (r *BatchRepository) AppendFailure(ctx context.Context, batchID string, failure domain.FailureResult) (*domain.Batch, error) {
	return r.appendOutcome(ctx, batchID, func(b *domain.Batch) {
		b.FailedImages = append(b.FailedImages, failure)
	})
}

func (r *BatchRepository) appendOutcome(ctx context.Context, batchID string, mutate func(*domain.Batch)) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&batch, "id = ?", batchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrBatchNotFound
			}
			return err
		}

		mutate(&batch)

		if batch.OutcomeCount() > batch.TotalImages {
			return fmt.Errorf("batch %s has more outcomes than images (%d > %d)",
				batchID, batch.OutcomeCount(), batch.TotalImages)
		}

		batch.Status = batch.ComputeStatus()
		batch.UpdatedAt = time.Now()
		return tx.Save(&batch).Error
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListByUser retrieves a user's batches newest first with pagination.
func (r *BatchRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Batch, error) {
	var batches []domain.Batch
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// CountByStatus counts batches by status.
func (r *BatchRepository) CountByStatus(ctx context.Context, status domain.BatchStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Batch{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
