package domain

import "time"

// TokenBalance is the authoritative generation-credit balance for one user.
// AvailableTokens never goes negative; all debits go through the ledger's
// conditional decrement, never through caller-side read-modify-write.
type TokenBalance struct {
	UserID          string    `gorm:"type:text;primaryKey" json:"user_id"`
	AvailableTokens int64     `gorm:"not null;default:0" json:"available_tokens"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for TokenBalance.
func (TokenBalance) TableName() string {
	return "token_balances"
}
