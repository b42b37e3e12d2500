package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// ErrPluginTypeNotFound indicates an unknown plugin type code.
var ErrPluginTypeNotFound = apperrors.New("PLUGIN_TYPE_NOT_FOUND", "Plugin type not found", 404)

// ErrPluginBindingNotFound indicates the requested binding does not exist.
var ErrPluginBindingNotFound = apperrors.New("PLUGIN_BINDING_NOT_FOUND", "Plugin binding not found", 404)

// BindPluginInput attaches a configured plugin to a scope.
type BindPluginInput struct {
	GatewayID int64
	ScopeType string
	ScopeID   int64
	TypeCode  string
	Config    json.RawMessage
	BoundBy   string
}

// PluginService manages plugin types and their bindings to gateways, stages
// and resources.
type PluginService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewPluginService constructs the plugin service.
func NewPluginService(db *gorm.DB, audit *AuditService) (*PluginService, error) {
	if db == nil {
		return nil, errors.New("plugin service: db is required")
	}
	return &PluginService{db: db, audit: audit}, nil
}

// ListTypes returns the installable plugin types.
func (s *PluginService) ListTypes(ctx context.Context) ([]models.PluginType, error) {
	ctx = ensureContext(ctx)

	var types []models.PluginType
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&types).Error; err != nil {
		return nil, fmt.Errorf("plugin service: list types: %w", err)
	}
	return types, nil
}

// Bind attaches a plugin to a scope, replacing the config if the same type
// is already bound there.
func (s *PluginService) Bind(ctx context.Context, in BindPluginInput) (*models.PluginBinding, error) {
	ctx = ensureContext(ctx)

	scopeType := strings.TrimSpace(in.ScopeType)
	switch scopeType {
	case models.PluginScopeGateway, models.PluginScopeStage, models.PluginScopeResource:
	default:
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unsupported plugin scope %q", scopeType))
	}

	typeCode := strings.TrimSpace(in.TypeCode)
	var pluginType models.PluginType
	err := s.db.WithContext(ctx).Take(&pluginType, "code = ?", typeCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPluginTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("plugin service: load type: %w", err)
	}

	if err := s.verifyScope(ctx, in.GatewayID, scopeType, in.ScopeID); err != nil {
		return nil, err
	}

	config := datatypes.JSON(in.Config)
	if len(config) == 0 {
		config = datatypes.JSON("{}")
	} else if !json.Valid(in.Config) {
		return nil, apperrors.NewBadRequest("plugin config must be valid JSON")
	}

	binding := models.PluginBinding{
		GatewayID: in.GatewayID,
		ScopeType: scopeType,
		ScopeID:   in.ScopeID,
		TypeCode:  typeCode,
		Config:    config,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PluginBinding
		err := tx.Take(&existing,
			"scope_type = ? AND scope_id = ? AND type_code = ?",
			scopeType, in.ScopeID, typeCode).Error
		if err == nil {
			existing.Config = config
			binding = existing
			return tx.Save(&existing).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&binding).Error
	})
	if err != nil {
		return nil, fmt.Errorf("plugin service: bind plugin: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  in.BoundBy,
		GatewayID: in.GatewayID,
		Action:    "plugin.bind",
		Resource:  fmt.Sprintf("plugin-binding/%d", binding.ID),
		Result:    "success",
		Metadata:  map[string]any{"type_code": typeCode, "scope_type": scopeType},
	})
	return &binding, nil
}

// ListBindings returns bindings for one scope.
func (s *PluginService) ListBindings(ctx context.Context, scopeType string, scopeID int64) ([]models.PluginBinding, error) {
	ctx = ensureContext(ctx)

	var bindings []models.PluginBinding
	if err := s.db.WithContext(ctx).
		Where("scope_type = ? AND scope_id = ?", scopeType, scopeID).
		Order("type_code ASC").
		Find(&bindings).Error; err != nil {
		return nil, fmt.Errorf("plugin service: list bindings: %w", err)
	}
	return bindings, nil
}

// Unbind removes a plugin binding.
func (s *PluginService) Unbind(ctx context.Context, gatewayID, bindingID int64, removedBy string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Delete(&models.PluginBinding{}, "id = ? AND gateway_id = ?", bindingID, gatewayID)
	if result.Error != nil {
		return fmt.Errorf("plugin service: unbind plugin: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrPluginBindingNotFound
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  removedBy,
		GatewayID: gatewayID,
		Action:    "plugin.unbind",
		Resource:  fmt.Sprintf("plugin-binding/%d", bindingID),
		Result:    "success",
	})
	return nil
}

func (s *PluginService) verifyScope(ctx context.Context, gatewayID int64, scopeType string, scopeID int64) error {
	var (
		count int64
		err   error
	)
	switch scopeType {
	case models.PluginScopeGateway:
		if scopeID != gatewayID {
			return apperrors.NewBadRequest("gateway-scoped binding must target its own gateway")
		}
		err = s.db.WithContext(ctx).Model(&models.Gateway{}).
			Where("id = ?", gatewayID).Count(&count).Error
	case models.PluginScopeStage:
		err = s.db.WithContext(ctx).Model(&models.Stage{}).
			Where("id = ? AND gateway_id = ?", scopeID, gatewayID).Count(&count).Error
	case models.PluginScopeResource:
		err = s.db.WithContext(ctx).Model(&models.Resource{}).
			Where("id = ? AND gateway_id = ?", scopeID, gatewayID).Count(&count).Error
	}
	if err != nil {
		return fmt.Errorf("plugin service: verify scope: %w", err)
	}
	if count == 0 {
		return apperrors.NewBadRequest("plugin scope target does not belong to this gateway")
	}
	return nil
}
