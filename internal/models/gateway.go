package models

import (
	"strings"

	"gorm.io/datatypes"
)

// Gateway statuses.
const (
	GatewayStatusActive   = 1
	GatewayStatusInactive = 0
)

// Stage statuses. A stage becomes active on its first release.
const (
	StageStatusActive   = 1
	StageStatusInactive = 0
)

// Gateway represents a managed API gateway instance.
type Gateway struct {
	BaseModel

	Name        string `gorm:"size:64;uniqueIndex" json:"name"`
	Description string `gorm:"size:512" json:"description"`
	Tenant      string `gorm:"size:32;index" json:"tenant"`
	// Maintainers is a semicolon separated list of operator usernames.
	Maintainers string `gorm:"size:1024" json:"maintainers"`
	Status      int    `gorm:"default:1" json:"status"`
	IsPublic    bool   `gorm:"default:false" json:"is_public"`
}

// MaintainerList splits the stored maintainer string into usernames.
func (g *Gateway) MaintainerList() []string {
	if strings.TrimSpace(g.Maintainers) == "" {
		return nil
	}
	parts := strings.Split(g.Maintainers, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HasMaintainer reports whether the username is listed as a gateway maintainer.
func (g *Gateway) HasMaintainer(username string) bool {
	for _, m := range g.MaintainerList() {
		if m == username {
			return true
		}
	}
	return false
}

// Stage is a deployment environment of a gateway (for example prod or test).
type Stage struct {
	BaseModel

	GatewayID   int64             `gorm:"index:idx_stage_gateway_name,unique" json:"gateway_id"`
	Name        string            `gorm:"size:64;index:idx_stage_gateway_name,unique" json:"name"`
	Description string            `gorm:"size:512" json:"description"`
	Vars        datatypes.JSONMap `json:"vars"`
	Status      int               `gorm:"default:0" json:"status"`
}

// Backend is an upstream service a gateway forwards traffic to.
type Backend struct {
	BaseModel

	GatewayID      int64                       `gorm:"index:idx_backend_gateway_name,unique" json:"gateway_id"`
	Name           string                      `gorm:"size:64;index:idx_backend_gateway_name,unique" json:"name"`
	Description    string                      `gorm:"size:512" json:"description"`
	Type           string                      `gorm:"size:16;default:http" json:"type"`
	Hosts          datatypes.JSONSlice[string] `json:"hosts"`
	TimeoutSeconds int                         `gorm:"default:30" json:"timeout_seconds"`
}
