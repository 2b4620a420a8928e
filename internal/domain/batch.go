package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// BatchStatus represents the lifecycle status of a generation batch.
// Values include BatchStatusProcessing, BatchStatusCompleted,
// BatchStatusPartial, and BatchStatusFailed.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusPartial    BatchStatus = "partial"
	BatchStatusFailed     BatchStatus = "failed"
)

// IsTerminal reports whether no further status transition can occur.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusPartial || s == BatchStatusFailed
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Metadata holds the AI-generated SEO metadata for one image.
// Immutable once attached to an ImageResult.
type Metadata struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Keywords    StringArray `json:"keywords"`
}

// ImageResult records one successfully processed image.
type ImageResult struct {
	ImageName  string   `json:"image_name"`
	ImageURL   string   `json:"image_url"`
	StorageKey string   `json:"storage_key"`
	Metadata   Metadata `json:"metadata"`
}

// FailureResult records one failed image with a stable error-kind tag.
type FailureResult struct {
	Filename string    `json:"filename"`
	Reason   ErrorKind `json:"reason"`
	Message  string    `json:"message,omitempty"`
}

// ImageResultList stores a sequence of ImageResult as JSON in a single column.
type ImageResultList []ImageResult

// Value implements the driver.Valuer interface for database serialization.
func (l ImageResultList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *ImageResultList) Scan(value interface{}) error {
	return scanJSONList(value, l)
}

// FailureResultList stores a sequence of FailureResult as JSON in a single column.
type FailureResultList []FailureResult

// Value implements the driver.Valuer interface for database serialization.
func (l FailureResultList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (l *FailureResultList) Scan(value interface{}) error {
	return scanJSONList(value, l)
}

func scanJSONList(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSON list column")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, dest)
}

// Batch is the persisted record of one user-submitted image batch.
// TotalImages is fixed at creation; the result lists grow one outcome at a
// time until len(successful)+len(failed) == TotalImages, at which point the
// status becomes terminal.
type Batch struct {
	ID               string            `gorm:"type:text;primaryKey" json:"batch_id"`
	UserID           string            `gorm:"type:text;not null;index:idx_batches_user" json:"user_id"`
	TotalImages      int               `gorm:"not null" json:"total_images"`
	Status           BatchStatus       `gorm:"type:text;index:idx_batches_status;default:processing" json:"status"`
	SuccessfulImages ImageResultList   `gorm:"type:text" json:"successful_images"`
	FailedImages     FailureResultList `gorm:"type:text" json:"failed_images"`
	RemainingTokens  int64             `json:"remaining_tokens"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Batch.
func (Batch) TableName() string {
	return "batches"
}

// OutcomeCount returns the number of recorded outcomes.
func (b *Batch) OutcomeCount() int {
	return len(b.SuccessfulImages) + len(b.FailedImages)
}

// ComputeStatus derives the batch status from the recorded outcomes.
// While outcomes are outstanding the batch stays processing; once every
// image has exactly one outcome the status is terminal. Recomputing on a
// finished batch yields the same terminal state.
func (b *Batch) ComputeStatus() BatchStatus {
	if b.OutcomeCount() < b.TotalImages {
		return BatchStatusProcessing
	}
	switch {
	case len(b.FailedImages) == 0:
		return BatchStatusCompleted
	case len(b.SuccessfulImages) == 0:
		return BatchStatusFailed
	default:
		return BatchStatusPartial
	}
}
