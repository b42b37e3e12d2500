package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// MCPServerInput carries MCP server create/update fields.
type MCPServerInput struct {
	Name        string
	Description string
	IsPublic    bool
	ToolNames   []string
}

// MCPServerService manages MCP server definitions. Tool list changes are
// followed by a resource-name sync so the server only advertises resources
// that still exist.
type MCPServerService struct {
	db          *gorm.DB
	permissions *MCPPermissionService
	audit       *AuditService
}

// NewMCPServerService constructs the MCP server service.
func NewMCPServerService(db *gorm.DB, permissions *MCPPermissionService, audit *AuditService) (*MCPServerService, error) {
	if db == nil {
		return nil, errors.New("mcp server service: db is required")
	}
	if permissions == nil {
		return nil, errors.New("mcp server service: permission service is required")
	}
	return &MCPServerService{db: db, permissions: permissions, audit: audit}, nil
}

// Create registers an MCP server on a gateway.
func (s *MCPServerService) Create(ctx context.Context, gatewayID int64, in MCPServerInput, createdBy string) (*models.MCPServer, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("mcp server name is required")
	}

	server := models.MCPServer{
		GatewayID:   gatewayID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		IsPublic:    in.IsPublic,
		ToolNames:   datatypes.JSONSlice[string](in.ToolNames),
		Status:      1,
	}
	if err := s.db.WithContext(ctx).Create(&server).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("mcp server name already exists on this gateway")
		}
		return nil, fmt.Errorf("mcp server service: create server: %w", err)
	}

	if err := s.permissions.SyncResourceNames(ctx, server.ID); err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  createdBy,
		GatewayID: gatewayID,
		Action:    "mcp.server.create",
		Resource:  fmt.Sprintf("mcp-server/%d", server.ID),
		Result:    "success",
		Metadata:  map[string]any{"name": name},
	})
	return s.Get(ctx, server.ID)
}

// Get loads one MCP server.
func (s *MCPServerService) Get(ctx context.Context, id int64) (*models.MCPServer, error) {
	ctx = ensureContext(ctx)

	var server models.MCPServer
	err := s.db.WithContext(ctx).Take(&server, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMCPServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mcp server service: load server: %w", err)
	}
	return &server, nil
}

// List returns the MCP servers of a gateway.
func (s *MCPServerService) List(ctx context.Context, gatewayID int64) ([]models.MCPServer, error) {
	ctx = ensureContext(ctx)

	var servers []models.MCPServer
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("name ASC").
		Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("mcp server service: list servers: %w", err)
	}
	return servers, nil
}

// Update replaces the mutable fields of an MCP server and re-syncs its
// resource names.
func (s *MCPServerService) Update(ctx context.Context, id int64, in MCPServerInput, updatedBy string) (*models.MCPServer, error) {
	ctx = ensureContext(ctx)

	server, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"description": strings.TrimSpace(in.Description),
		"is_public":   in.IsPublic,
		"tool_names":  datatypes.JSONSlice[string](in.ToolNames),
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		updates["name"] = name
	}
	if err := s.db.WithContext(ctx).Model(server).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("mcp server name already exists on this gateway")
		}
		return nil, fmt.Errorf("mcp server service: update server: %w", err)
	}

	if err := s.permissions.SyncResourceNames(ctx, server.ID); err != nil {
		return nil, err
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  updatedBy,
		GatewayID: server.GatewayID,
		Action:    "mcp.server.update",
		Resource:  fmt.Sprintf("mcp-server/%d", server.ID),
		Result:    "success",
	})
	return s.Get(ctx, server.ID)
}

// Delete removes an MCP server together with its grants and applies.
func (s *MCPServerService) Delete(ctx context.Context, id int64, deletedBy string) error {
	ctx = ensureContext(ctx)

	server, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("mcp_server_id = ?", id).
			Delete(&models.MCPServerAppPermission{}).Error; err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := tx.Unscoped().Where("mcp_server_id = ?", id).
			Delete(&models.MCPServerAppPermissionApply{}).Error; err != nil {
			return fmt.Errorf("delete applies: %w", err)
		}
		return tx.Delete(&models.MCPServer{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("mcp server service: delete server: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  deletedBy,
		GatewayID: server.GatewayID,
		Action:    "mcp.server.delete",
		Resource:  fmt.Sprintf("mcp-server/%d", id),
		Result:    "success",
		Metadata:  map[string]any{"name": server.Name},
	})
	return nil
}
