package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MCP server permission grant types.
const (
	MCPGrantTypeGrant = "grant"
	MCPGrantTypeApply = "apply"
)

// MCPServer exposes a curated subset of gateway resources as MCP tools.
type MCPServer struct {
	BaseModel

	GatewayID   int64                       `gorm:"index:idx_mcp_gateway_name,unique" json:"gateway_id"`
	Name        string                      `gorm:"size:128;index:idx_mcp_gateway_name,unique" json:"name"`
	Description string                      `gorm:"size:512" json:"description"`
	IsPublic    bool                        `gorm:"default:false" json:"is_public"`
	ToolNames   datatypes.JSONSlice[string] `json:"tool_names"`
	// ResourceNames is recomputed from ToolNames by permission sync and never
	// written directly by API callers.
	ResourceNames datatypes.JSONSlice[string] `json:"resource_names"`
	Status        int                         `gorm:"default:1" json:"status"`
}

// MCPServerAppPermission is the boolean access fact for an (app, server)
// pair. There is no expiry and no renewal in this variant.
type MCPServerAppPermission struct {
	BaseModel

	AppCode     string `gorm:"size:64;index:idx_mcp_grant_key,unique" json:"app_code"`
	MCPServerID int64  `gorm:"index:idx_mcp_grant_key,unique" json:"mcp_server_id"`
	GrantType   string `gorm:"size:16;default:grant" json:"grant_type"`
}

// MCPServerAppPermissionApply is the pending request in the MCP variant.
// Unlike AppPermissionApply it survives resolution and is soft-deleted on
// revoke so the audit trail stays intact.
type MCPServerAppPermissionApply struct {
	BaseModel

	AppCode     string         `gorm:"size:64;index" json:"app_code"`
	MCPServerID int64          `gorm:"index" json:"mcp_server_id"`
	Reason      string         `gorm:"size:512" json:"reason"`
	Status      string         `gorm:"size:16;default:pending;index" json:"status"`
	AppliedBy   string         `gorm:"size:64" json:"applied_by"`
	HandledBy   string         `gorm:"size:64" json:"handled_by"`
	HandledTime *time.Time     `json:"handled_time"`
	Comment     string         `gorm:"size:512" json:"comment"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
