package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// IdempotencyKey provides durable, DB-backed idempotency for write handlers.
// A retried craft or destroy carrying the same client key is a no-op replay
// instead of a second stock movement. Unique constraint: (handler_name,
// request_key).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	RequestKey  string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"request_key"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	ResultId    *int              `json:"result_id"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrDuplicateRequest signals that the same client key was already claimed.
// The handler replays the recorded outcome instead of re-running.
var ErrDuplicateRequest = errors.New("duplicate request")

// ClaimIdempotencyKey inserts the STARTED marker row in its own short
// transaction. A duplicate-key failure means another request with the same
// key got there first; a FAILED key is re-claimed so the client can retry
// after a transient failure, otherwise the existing row is returned
// alongside ErrDuplicateRequest so the caller can replay its outcome.
func ClaimIdempotencyKey(db *gorm.DB, handlerName string, requestKey string) (*IdempotencyKey, error) {
	key := IdempotencyKey{
		HandlerName: handlerName,
		RequestKey:  requestKey,
		Status:      IdempotencyStatusStarted,
	}
	if err := db.Create(&key).Error; err != nil {
		if isDuplicateKeyError(err) {
			var existing IdempotencyKey
			if ferr := db.Where("handler_name = ? AND request_key = ?", handlerName, requestKey).
				First(&existing).Error; ferr != nil {
				return nil, ErrDuplicateRequest
			}
			if existing.Status == IdempotencyStatusFailed {
				// Guarded takeover: only one concurrent retry wins the row.
				res := db.Model(&IdempotencyKey{}).
					Where("id = ? AND status = ?", existing.ID, IdempotencyStatusFailed).
					Updates(map[string]any{
						"status":     IdempotencyStatusStarted,
						"last_error": nil,
					})
				if res.Error != nil {
					return nil, res.Error
				}
				if res.RowsAffected == 1 {
					existing.Status = IdempotencyStatusStarted
					existing.LastError = nil
					return &existing, nil
				}
			}
			return &existing, ErrDuplicateRequest
		}
		return nil, err
	}
	return &key, nil
}

func (key *IdempotencyKey) MarkSucceeded(db *gorm.DB, resultId int) error {
	return db.Model(key).Updates(map[string]any{
		"status":    IdempotencyStatusSucceeded,
		"result_id": resultId,
	}).Error
}

func (key *IdempotencyKey) MarkFailed(db *gorm.DB, cause error) error {
	msg := cause.Error()
	return db.Model(key).Updates(map[string]any{
		"status":     IdempotencyStatusFailed,
		"last_error": &msg,
	}).Error
}
