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

// TokenRepository is the token ledger. The balance is only ever mutated
// through conditional single-statement updates, so concurrent debits from
// in-flight jobs cannot lose updates or push the balance below zero.
type TokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// TryDebit atomically decrements the user's balance by amount. Returns true
// if the debit was applied, false if the balance was insufficient (the
// balance is left unchanged in that case).
func (r *TokenRepository) TryDebit(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	res := r.db.WithContext(ctx).Model(&domain.TokenBalance{}).
		Where("user_id = ? AND available_tokens >= ?", userID, amount).
		Updates(map[string]interface{}{
			"available_tokens": gorm.Expr("available_tokens - ?", amount),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Balance returns the user's current balance. Unknown users have a zero balance.
func (r *TokenRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance domain.TokenBalance
	if err := r.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.AvailableTokens, nil
}

// Grant adds tokens to the user's balance, creating the row if needed.
// The pipeline never credits; this exists for the billing collaborator and
// operational tooling.
func (r *TokenRepository) Grant(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available_tokens": gorm.Expr("token_balances.available_tokens + ?", amount),
			"updated_at":       now,
		}),
	}).Create(&domain.TokenBalance{
		UserID:          userID,
		AvailableTokens: amount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error
}
