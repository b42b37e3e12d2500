package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// ErrResourceNotFound indicates the requested resource does not exist.
var ErrResourceNotFound = apperrors.New("RESOURCE_NOT_FOUND", "Resource not found", 404)

var allowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", "ANY"}

// ResourceInput carries resource create/update fields.
type ResourceInput struct {
	Name                 string
	Description          string
	Method               string
	Path                 string
	MatchSubpath         bool
	BackendID            int64
	IsPublic             bool
	AllowApplyPermission bool
}

// ResourceService manages the routable operations of a gateway.
type ResourceService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewResourceService constructs the resource service.
func NewResourceService(db *gorm.DB, audit *AuditService) (*ResourceService, error) {
	if db == nil {
		return nil, errors.New("resource service: db is required")
	}
	return &ResourceService{db: db, audit: audit}, nil
}

// Create adds a resource to a gateway.
func (s *ResourceService) Create(ctx context.Context, gatewayID int64, in ResourceInput) (*models.Resource, error) {
	ctx = ensureContext(ctx)

	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if in.BackendID != 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.Backend{}).
			Where("id = ? AND gateway_id = ?", in.BackendID, gatewayID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("resource service: check backend: %w", err)
		}
		if count == 0 {
			return nil, apperrors.NewBadRequest("backend does not belong to this gateway")
		}
	}

	resource := models.Resource{
		GatewayID:            gatewayID,
		Name:                 in.Name,
		Description:          strings.TrimSpace(in.Description),
		Method:               in.Method,
		Path:                 in.Path,
		MatchSubpath:         in.MatchSubpath,
		BackendID:            in.BackendID,
		IsPublic:             in.IsPublic,
		AllowApplyPermission: in.AllowApplyPermission,
	}
	if err := s.db.WithContext(ctx).Create(&resource).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("resource name already exists on this gateway")
		}
		return nil, fmt.Errorf("resource service: create resource: %w", err)
	}
	return &resource, nil
}

// Get loads a resource scoped to its gateway.
func (s *ResourceService) Get(ctx context.Context, gatewayID, resourceID int64) (*models.Resource, error) {
	ctx = ensureContext(ctx)

	var resource models.Resource
	err := s.db.WithContext(ctx).
		Take(&resource, "id = ? AND gateway_id = ?", resourceID, gatewayID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resource service: load resource: %w", err)
	}
	return &resource, nil
}

// List returns the resources of a gateway, optionally filtered by a name or
// path fragment.
func (s *ResourceService) List(ctx context.Context, gatewayID int64, fragment string) ([]models.Resource, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Where("gateway_id = ?", gatewayID)
	if fragment = strings.TrimSpace(fragment); fragment != "" {
		like := "%" + fragment + "%"
		query = query.Where("name LIKE ? OR path LIKE ?", like, like)
	}

	var resources []models.Resource
	if err := query.Order("name ASC").Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("resource service: list resources: %w", err)
	}
	return resources, nil
}

// GetIDToResource indexes a gateway's resources by id, restricted to the
// given ids when the slice is non-empty. The permission workflow uses this
// to resolve applied resource ids into display names.
func (s *ResourceService) GetIDToResource(ctx context.Context, gatewayID int64, ids []int64) (map[int64]models.Resource, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Where("gateway_id = ?", gatewayID)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}

	var resources []models.Resource
	if err := query.Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("resource service: index resources: %w", err)
	}
	index := make(map[int64]models.Resource, len(resources))
	for _, res := range resources {
		index[res.ID] = res
	}
	return index, nil
}

// Update replaces the mutable fields of a resource.
func (s *ResourceService) Update(ctx context.Context, gatewayID, resourceID int64, in ResourceInput) (*models.Resource, error) {
	ctx = ensureContext(ctx)

	resource, err := s.Get(ctx, gatewayID, resourceID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"name":                   in.Name,
		"description":            strings.TrimSpace(in.Description),
		"method":                 in.Method,
		"path":                   in.Path,
		"match_subpath":          in.MatchSubpath,
		"backend_id":             in.BackendID,
		"is_public":              in.IsPublic,
		"allow_apply_permission": in.AllowApplyPermission,
	}
	if err := s.db.WithContext(ctx).Model(resource).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("resource name already exists on this gateway")
		}
		return nil, fmt.Errorf("resource service: update resource: %w", err)
	}
	return resource, nil
}

// Delete removes a resource together with its grants and plugin bindings.
// Grants on the deleted resource disappear with it; versions already
// snapshotted keep their frozen copy.
func (s *ResourceService) Delete(ctx context.Context, gatewayID, resourceID int64, deletedBy string) error {
	ctx = ensureContext(ctx)

	if _, err := s.Get(ctx, gatewayID, resourceID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("gateway_id = ? AND resource_id = ?", gatewayID, resourceID).
			Delete(&models.AppResourcePermission{}).Error; err != nil {
			return fmt.Errorf("delete resource grants: %w", err)
		}
		if err := tx.Where("scope_type = ? AND scope_id = ?", models.PluginScopeResource, resourceID).
			Delete(&models.PluginBinding{}).Error; err != nil {
			return fmt.Errorf("delete plugin bindings: %w", err)
		}
		return tx.Delete(&models.Resource{}, "id = ?", resourceID).Error
	})
	if err != nil {
		return fmt.Errorf("resource service: delete resource: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  deletedBy,
		GatewayID: gatewayID,
		Action:    "resource.delete",
		Resource:  fmt.Sprintf("resource/%d", resourceID),
		Result:    "success",
	})
	return nil
}

func (s *ResourceService) validate(in *ResourceInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperrors.NewBadRequest("resource name is required")
	}
	in.Method = strings.ToUpper(strings.TrimSpace(in.Method))
	if !containsString(allowedMethods, in.Method) {
		return apperrors.NewBadRequest(fmt.Sprintf("unsupported method %q", in.Method))
	}
	in.Path = strings.TrimSpace(in.Path)
	if !strings.HasPrefix(in.Path, "/") {
		return apperrors.NewBadRequest("resource path must start with /")
	}
	return nil
}
