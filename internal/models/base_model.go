package models

import (
	"time"
)

// BaseModel provides shared fields for all persistent models.
//
// Domain entities use numeric identifiers because resource id sets travel
// through apply records, grant rows and renewal calls as compact integer
// collections.
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
