package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kitewall/apigate/internal/database"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// ErrMCPServerNotFound indicates the MCP server does not exist.
var ErrMCPServerNotFound = apperrors.New("MCP_SERVER_NOT_FOUND", "MCP server not found", 404)

// ErrMCPApplyResolved indicates the apply was already handled.
var ErrMCPApplyResolved = apperrors.New("MCP_APPLY_RESOLVED", "Apply already resolved", 409)

// MCPApplyInput requests access to an MCP server for an app.
type MCPApplyInput struct {
	AppCode     string
	MCPServerID int64
	Reason      string
	AppliedBy   string
}

// MCPHandleInput resolves a pending MCP apply. Partial approval does not
// exist in this variant: the grant is all-or-nothing per server.
type MCPHandleInput struct {
	ApplyID   int64
	Approve   bool
	Comment   string
	HandledBy string
}

// MCPPermissionOption customises MCPPermissionService behaviour.
type MCPPermissionOption func(*MCPPermissionService)

// WithMCPClock injects a custom clock primarily for testing.
func WithMCPClock(clock func() time.Time) MCPPermissionOption {
	return func(s *MCPPermissionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// MCPPermissionService manages the boolean per-server permission variant
// used by MCP servers. Grants have no expiry; revocation is explicit. Every
// grant mutation resyncs the owning server's resource name list, so tools
// whose backing resource disappeared drop out as soon as access changes.
type MCPPermissionService struct {
	db    *gorm.DB
	audit *AuditService
	now   func() time.Time
}

// NewMCPPermissionService constructs the MCP permission service.
func NewMCPPermissionService(db *gorm.DB, audit *AuditService, opts ...MCPPermissionOption) (*MCPPermissionService, error) {
	if db == nil {
		return nil, errors.New("mcp permission service: db is required")
	}
	service := &MCPPermissionService{db: db, audit: audit, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Apply submits an access request for an MCP server. A live grant or an
// unresolved apply for the same (app, server) pair blocks a new apply.
func (s *MCPPermissionService) Apply(ctx context.Context, in MCPApplyInput) (*models.MCPServerAppPermissionApply, error) {
	ctx = ensureContext(ctx)

	appCode := strings.TrimSpace(in.AppCode)
	if appCode == "" {
		return nil, apperrors.NewBadRequest("app code is required")
	}

	server, err := s.loadServer(ctx, in.MCPServerID)
	if err != nil {
		return nil, err
	}

	var granted int64
	if err := s.db.WithContext(ctx).
		Model(&models.MCPServerAppPermission{}).
		Where("app_code = ? AND mcp_server_id = ?", appCode, server.ID).
		Count(&granted).Error; err != nil {
		return nil, fmt.Errorf("mcp permission service: count grants: %w", err)
	}
	if granted > 0 {
		return nil, apperrors.NewNoPermission("app already has access to this MCP server")
	}

	var pending int64
	if err := s.db.WithContext(ctx).
		Model(&models.MCPServerAppPermissionApply{}).
		Where("app_code = ? AND mcp_server_id = ? AND status = ?",
			appCode, server.ID, models.ApplyStatusPending).
		Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("mcp permission service: count pending applies: %w", err)
	}
	if pending > 0 {
		return nil, apperrors.NewNoPermission("an unresolved apply already exists for this MCP server")
	}

	apply := models.MCPServerAppPermissionApply{
		AppCode:     appCode,
		MCPServerID: server.ID,
		Reason:      strings.TrimSpace(in.Reason),
		Status:      models.ApplyStatusPending,
		AppliedBy:   strings.TrimSpace(in.AppliedBy),
	}
	if err := s.db.WithContext(ctx).Create(&apply).Error; err != nil {
		return nil, fmt.Errorf("mcp permission service: create apply: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  apply.AppliedBy,
		GatewayID: server.GatewayID,
		Action:    "mcp.permission.apply",
		Resource:  fmt.Sprintf("mcp-apply/%d", apply.ID),
		Result:    "success",
		Metadata:  map[string]any{"app_code": appCode, "mcp_server_id": server.ID},
	})
	return &apply, nil
}

// Handle approves or rejects a pending MCP apply. The apply row is kept and
// marked, not deleted, so the history endpoint reads straight from it.
func (s *MCPPermissionService) Handle(ctx context.Context, in MCPHandleInput) (*models.MCPServerAppPermissionApply, error) {
	ctx = ensureContext(ctx)

	status := models.ApplyStatusRejected
	if in.Approve {
		status = models.ApplyStatusApproved
	}

	var apply models.MCPServerAppPermissionApply
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := database.LockForUpdate(tx).
			Take(&apply, "id = ?", in.ApplyID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load apply: %w", err)
		}
		if apply.Status != models.ApplyStatusPending {
			return ErrMCPApplyResolved
		}

		now := s.now()
		apply.Status = status
		apply.Comment = strings.TrimSpace(in.Comment)
		apply.HandledBy = strings.TrimSpace(in.HandledBy)
		apply.HandledTime = &now
		if err := tx.Save(&apply).Error; err != nil {
			return fmt.Errorf("update apply: %w", err)
		}

		if !in.Approve {
			return nil
		}

		grant := models.MCPServerAppPermission{
			AppCode:     apply.AppCode,
			MCPServerID: apply.MCPServerID,
			GrantType:   models.MCPGrantTypeApply,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app_code"}, {Name: "mcp_server_id"}},
			DoNothing: true,
		}).Create(&grant).Error; err != nil {
			return fmt.Errorf("create grant: %w", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("mcp permission service: handle apply: %w", err)
	}

	if in.Approve {
		if err := s.SyncResourceNames(ctx, apply.MCPServerID); err != nil {
			return nil, err
		}
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator: apply.HandledBy,
		Action:   "mcp.permission.handle",
		Resource: fmt.Sprintf("mcp-apply/%d", apply.ID),
		Result:   "success",
		Metadata: map[string]any{"app_code": apply.AppCode, "status": apply.Status},
	})
	return &apply, nil
}

// Grant gives an app direct access to an MCP server without an apply.
// Re-granting an existing pair is a no-op.
func (s *MCPPermissionService) Grant(ctx context.Context, serverID int64, appCode, grantedBy string) error {
	ctx = ensureContext(ctx)

	appCode = strings.TrimSpace(appCode)
	if appCode == "" {
		return apperrors.NewBadRequest("app code is required")
	}
	server, err := s.loadServer(ctx, serverID)
	if err != nil {
		return err
	}

	grant := models.MCPServerAppPermission{
		AppCode:     appCode,
		MCPServerID: server.ID,
		GrantType:   models.MCPGrantTypeGrant,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_code"}, {Name: "mcp_server_id"}},
		DoNothing: true,
	}).Create(&grant).Error; err != nil {
		return fmt.Errorf("mcp permission service: create grant: %w", err)
	}

	if err := s.SyncResourceNames(ctx, server.ID); err != nil {
		return err
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  grantedBy,
		GatewayID: server.GatewayID,
		Action:    "mcp.permission.grant",
		Resource:  fmt.Sprintf("mcp-server/%d", server.ID),
		Result:    "success",
		Metadata:  map[string]any{"app_code": appCode},
	})
	return nil
}

// Revoke removes an app's access to an MCP server. The grant row is deleted
// and any approved apply backing it is soft-deleted, so a later apply for
// the same pair starts fresh while history survives for audit.
func (s *MCPPermissionService) Revoke(ctx context.Context, serverID int64, appCode, revokedBy string) error {
	ctx = ensureContext(ctx)

	appCode = strings.TrimSpace(appCode)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("app_code = ? AND mcp_server_id = ?", appCode, serverID).
			Delete(&models.MCPServerAppPermission{})
		if result.Error != nil {
			return fmt.Errorf("delete grant: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}

		if err := tx.Where("app_code = ? AND mcp_server_id = ? AND status = ?",
			appCode, serverID, models.ApplyStatusApproved).
			Delete(&models.MCPServerAppPermissionApply{}).Error; err != nil {
			return fmt.Errorf("soft delete applies: %w", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return fmt.Errorf("mcp permission service: revoke: %w", err)
	}

	if err := s.SyncResourceNames(ctx, serverID); err != nil {
		return err
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator: revokedBy,
		Action:   "mcp.permission.revoke",
		Resource: fmt.Sprintf("mcp-server/%d", serverID),
		Result:   "success",
		Metadata: map[string]any{"app_code": appCode},
	})
	return nil
}

// HasPermission reports whether an app can call an MCP server. Public
// servers are open to every app.
func (s *MCPPermissionService) HasPermission(ctx context.Context, serverID int64, appCode string) (bool, error) {
	ctx = ensureContext(ctx)

	server, err := s.loadServer(ctx, serverID)
	if err != nil {
		return false, err
	}
	if server.IsPublic {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.MCPServerAppPermission{}).
		Where("app_code = ? AND mcp_server_id = ?", strings.TrimSpace(appCode), serverID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("mcp permission service: count grants: %w", err)
	}
	return count > 0, nil
}

// ListApplies pages through applies for one MCP server, optionally filtered
// by status.
func (s *MCPPermissionService) ListApplies(ctx context.Context, serverID int64, status string, page, pageSize int) ([]models.MCPServerAppPermissionApply, int64, error) {
	ctx = ensureContext(ctx)

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).
		Model(&models.MCPServerAppPermissionApply{}).
		Where("mcp_server_id = ?", serverID)
	if status = strings.TrimSpace(status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("mcp permission service: count applies: %w", err)
	}

	var applies []models.MCPServerAppPermissionApply
	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&applies).Error; err != nil {
		return nil, 0, fmt.Errorf("mcp permission service: list applies: %w", err)
	}
	return applies, total, nil
}

// ListGrantedApps returns the app codes holding access to a server.
func (s *MCPPermissionService) ListGrantedApps(ctx context.Context, serverID int64) ([]models.MCPServerAppPermission, error) {
	ctx = ensureContext(ctx)

	var grants []models.MCPServerAppPermission
	if err := s.db.WithContext(ctx).
		Where("mcp_server_id = ?", serverID).
		Order("app_code ASC").
		Find(&grants).Error; err != nil {
		return nil, fmt.Errorf("mcp permission service: list grants: %w", err)
	}
	return grants, nil
}

// SyncResourceNames recomputes a server's resource name list from its tool
// names, intersected with the resources that still exist on the gateway.
// Tools whose backing resource was deleted drop out of the list.
func (s *MCPPermissionService) SyncResourceNames(ctx context.Context, serverID int64) error {
	ctx = ensureContext(ctx)

	server, err := s.loadServer(ctx, serverID)
	if err != nil {
		return err
	}

	var resources []models.Resource
	if err := s.db.WithContext(ctx).
		Select("name").
		Where("gateway_id = ?", server.GatewayID).
		Find(&resources).Error; err != nil {
		return fmt.Errorf("mcp permission service: load resources: %w", err)
	}
	existing := make(map[string]struct{}, len(resources))
	for _, res := range resources {
		existing[res.Name] = struct{}{}
	}

	names := make([]string, 0, len(server.ToolNames))
	for _, tool := range server.ToolNames {
		if _, ok := existing[tool]; ok {
			names = append(names, tool)
		}
	}

	if err := s.db.WithContext(ctx).
		Model(&models.MCPServer{}).
		Where("id = ?", server.ID).
		Update("resource_names", datatypes.JSONSlice[string](names)).Error; err != nil {
		return fmt.Errorf("mcp permission service: update resource names: %w", err)
	}
	return nil
}

func (s *MCPPermissionService) loadServer(ctx context.Context, id int64) (*models.MCPServer, error) {
	var server models.MCPServer
	err := s.db.WithContext(ctx).Take(&server, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMCPServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mcp permission service: load server: %w", err)
	}
	return &server, nil
}
