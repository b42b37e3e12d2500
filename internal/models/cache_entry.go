package models

import (
	"time"
)

// CacheEntry represents a counter or cached value stored in the database,
// used by the rate limiter when no external cache is configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NamedLock is a database-backed advisory lock row. Publish-style operations
// take a lock keyed by the mutated aggregate (for example
// "release:{gateway}:{stage}") with a bounded wait.
type NamedLock struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Owner     string    `gorm:"size:64"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
