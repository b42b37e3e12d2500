package models

import (
	"gorm.io/datatypes"
)

// Resource is a single routable API operation on a gateway.
type Resource struct {
	BaseModel

	GatewayID    int64  `gorm:"index:idx_resource_gateway_name,unique" json:"gateway_id"`
	Name         string `gorm:"size:256;index:idx_resource_gateway_name,unique" json:"name"`
	Description  string `gorm:"size:512" json:"description"`
	Method       string `gorm:"size:10" json:"method"`
	Path         string `gorm:"size:2048" json:"path"`
	MatchSubpath bool   `gorm:"default:false" json:"match_subpath"`
	BackendID    int64  `gorm:"index" json:"backend_id"`
	IsPublic     bool   `gorm:"default:true" json:"is_public"`
	// AllowApplyPermission controls whether apps may request per-resource access.
	AllowApplyPermission bool `gorm:"default:true" json:"allow_apply_permission"`
}

// PluginBinding scope types.
const (
	PluginScopeGateway  = "gateway"
	PluginScopeStage    = "stage"
	PluginScopeResource = "resource"
)

// PluginType describes an installable plugin kind and its config schema.
type PluginType struct {
	BaseModel

	Code   string         `gorm:"size:64;uniqueIndex" json:"code"`
	Name   string         `gorm:"size:128" json:"name"`
	Schema datatypes.JSON `json:"schema"`
}

// PluginBinding attaches a configured plugin to a gateway, stage or resource.
type PluginBinding struct {
	BaseModel

	GatewayID int64          `gorm:"index" json:"gateway_id"`
	ScopeType string         `gorm:"size:16;index:idx_plugin_scope,unique" json:"scope_type"`
	ScopeID   int64          `gorm:"index:idx_plugin_scope,unique" json:"scope_id"`
	TypeCode  string         `gorm:"size:64;index:idx_plugin_scope,unique" json:"type_code"`
	Config    datatypes.JSON `json:"config"`
}

// ResourceVersion is an immutable snapshot of a gateway's resources.
type ResourceVersion struct {
	BaseModel

	GatewayID int64          `gorm:"index:idx_version_gateway_version,unique" json:"gateway_id"`
	Version   string         `gorm:"size:64;index:idx_version_gateway_version,unique" json:"version"`
	Comment   string         `gorm:"size:512" json:"comment"`
	Snapshot  datatypes.JSON `json:"snapshot"`
	CreatedBy string         `gorm:"size:64" json:"created_by"`
}

// Release binds a resource version to a stage. A stage carries at most one
// live release; re-releasing replaces the bound version.
type Release struct {
	BaseModel

	GatewayID         int64  `gorm:"index" json:"gateway_id"`
	StageID           int64  `gorm:"uniqueIndex" json:"stage_id"`
	ResourceVersionID int64  `gorm:"index" json:"resource_version_id"`
	Comment           string `gorm:"size:512" json:"comment"`
	ReleasedBy        string `gorm:"size:64" json:"released_by"`
}
