package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grant dimensions. A grant either covers a whole gateway or a single
// resource within it.
const (
	GrantDimensionGateway  = "gateway"
	GrantDimensionResource = "resource"
)

// Apply record resolution statuses.
const (
	ApplyStatusPending         = "pending"
	ApplyStatusApproved        = "approved"
	ApplyStatusPartialApproved = "partial_approved"
	ApplyStatusRejected        = "rejected"
)

// Grant origins.
const (
	GrantTypeInitialize = "initialize"
	GrantTypeApply      = "apply"
	GrantTypeRenew      = "renew"
)

// ExpireDaysNever requests a grant that never expires.
const ExpireDaysNever = 0

// ValidExpireDays enumerates the accepted apply validity periods, in days.
// ExpireDaysNever maps to the never-expires sentinel.
var ValidExpireDays = []int{ExpireDaysNever, 7, 30, 90, 180, 360}

// IsValidExpireDays reports whether the requested validity period is accepted.
func IsValidExpireDays(days int) bool {
	for _, d := range ValidExpireDays {
		if d == days {
			return true
		}
	}
	return false
}

// AppPermissionApply is a pending access request submitted by an app.
// It is consumed (read then hard-deleted) exactly once when a maintainer
// resolves it; the outcome lives on in AppPermissionRecord.
type AppPermissionApply struct {
	BaseModel

	AppCode        string                     `gorm:"size:64;index:idx_apply_key,unique" json:"app_code"`
	GatewayID      int64                      `gorm:"index:idx_apply_key,unique" json:"gateway_id"`
	GrantDimension string                     `gorm:"size:16;index:idx_apply_key,unique" json:"grant_dimension"`
	ResourceIDs    datatypes.JSONSlice[int64] `json:"resource_ids"`
	Reason         string                     `gorm:"size:512" json:"reason"`
	ExpireDays     int                        `json:"expire_days"`
	AppliedBy      string                     `gorm:"size:64" json:"applied_by"`
}

// AppPermissionRecord is the immutable history row written when an apply is
// resolved, or when a maintainer grants access directly.
type AppPermissionRecord struct {
	BaseModel

	AppCode             string                     `gorm:"size:64;index" json:"app_code"`
	GatewayID           int64                      `gorm:"index" json:"gateway_id"`
	GrantDimension      string                     `gorm:"size:16" json:"grant_dimension"`
	Status              string                     `gorm:"size:24;index" json:"status"`
	Reason              string                     `gorm:"size:512" json:"reason"`
	Comment             string                     `gorm:"size:512" json:"comment"`
	ExpireDays          int                        `json:"expire_days"`
	AppliedBy           string                     `gorm:"size:64" json:"applied_by"`
	AppliedTime         time.Time                  `json:"applied_time"`
	HandledBy           string                     `gorm:"size:64" json:"handled_by"`
	HandledTime         time.Time                  `json:"handled_time"`
	ApprovedResourceIDs datatypes.JSONSlice[int64] `json:"approved_resource_ids"`
	RejectedResourceIDs datatypes.JSONSlice[int64] `json:"rejected_resource_ids"`
}

// OutcomeMap shapes the per-resource resolution buckets for display,
// omitting empty buckets.
func (r *AppPermissionRecord) OutcomeMap() map[string][]int64 {
	out := make(map[string][]int64, 2)
	if len(r.ApprovedResourceIDs) > 0 {
		out[ApplyStatusApproved] = r.ApprovedResourceIDs
	}
	if len(r.RejectedResourceIDs) > 0 {
		out[ApplyStatusRejected] = r.RejectedResourceIDs
	}
	return out
}

// AppGatewayPermission grants an app access to every resource of a gateway
// until ExpiresAt. At most one row exists per (app_code, gateway_id);
// re-granting extends ExpiresAt in place.
type AppGatewayPermission struct {
	BaseModel

	AppCode   string    `gorm:"size:64;index:idx_gw_grant_key,unique" json:"app_code"`
	GatewayID int64     `gorm:"index:idx_gw_grant_key,unique" json:"gateway_id"`
	GrantType string    `gorm:"size:16;default:initialize" json:"grant_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AppResourcePermission grants an app access to a single resource until
// ExpiresAt. At most one row exists per (app_code, gateway_id, resource_id).
type AppResourcePermission struct {
	BaseModel

	AppCode    string    `gorm:"size:64;index:idx_res_grant_key,unique" json:"app_code"`
	GatewayID  int64     `gorm:"index:idx_res_grant_key,unique" json:"gateway_id"`
	ResourceID int64     `gorm:"index:idx_res_grant_key,unique" json:"resource_id"`
	GrantType  string    `gorm:"size:16;default:initialize" json:"grant_type"`
	ExpiresAt  time.Time `json:"expires_at"`
}
