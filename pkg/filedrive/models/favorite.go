package models

import "time"

// Favorite records that a user starred a file. It lives independently of the
// file's deletion mark and is only removed by a toggle or by the purge job.
type Favorite struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	FileID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_favorite_file_user" json:"file_id"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_favorite_file_user;index" json:"user_id"`
	ScopeID   string    `gorm:"type:varchar(36);not null;index" json:"scope_id"`
}

// ToggleReceipt remembers the outcome of a favorite toggle sent with an
// idempotency key, so a redelivered request does not flip the state again.
type ToggleReceipt struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"index"`
	UserID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_receipt_user_key"`
	Key       string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_receipt_user_key"`
	FileID    string    `gorm:"type:varchar(36);not null;index"`
	Favorited bool      `gorm:"not null"`
}
