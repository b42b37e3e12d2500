package models

import (
	"gorm.io/datatypes"
)

// ComponentSystem groups legacy ESB components under a named system.
type ComponentSystem struct {
	BaseModel

	Name        string `gorm:"size:64;uniqueIndex" json:"name"`
	Description string `gorm:"size:512" json:"description"`
	Maintainers string `gorm:"size:1024" json:"maintainers"`
}

// ESBComponent is a legacy component channel kept for ESB compatibility.
// Rows are reconciled from a static definition file by the esb-sync command;
// components missing from the definition are deactivated, never deleted.
type ESBComponent struct {
	BaseModel

	SystemName  string         `gorm:"size:64;index:idx_esb_system_name,unique" json:"system_name"`
	Name        string         `gorm:"size:128;index:idx_esb_system_name,unique" json:"name"`
	Description string         `gorm:"size:512" json:"description"`
	Method      string         `gorm:"size:10" json:"method"`
	Path        string         `gorm:"size:2048" json:"path"`
	Config      datatypes.JSON `json:"config"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	IsPublic    bool           `gorm:"default:true" json:"is_public"`
}
