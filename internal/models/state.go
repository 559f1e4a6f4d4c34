package models

import (
	"time"

	"gorm.io/datatypes"
)

// Persisted state record keys.
const (
	// StateKeyAccount is the row key for the cached account record.
	StateKeyAccount = "account"
	// StateKeyLease is the row key for the cached lease record.
	StateKeyLease = "lease"
)

// State is a persisted local state record. Exactly two rows exist per
// device, keyed "account" and "lease", each holding one JSON snapshot.
type State struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key     string         `gorm:"type:text;not null;uniqueIndex"` // Stable record key.
	Content datatypes.JSON `gorm:"type:jsonb"`                     // Snapshot payload.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
