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

// ErrStageNotFound indicates the requested stage does not exist.
var ErrStageNotFound = apperrors.New("STAGE_NOT_FOUND", "Stage not found", 404)

// ErrBackendNotFound indicates the requested backend does not exist.
var ErrBackendNotFound = apperrors.New("BACKEND_NOT_FOUND", "Backend not found", 404)

// CreateGatewayInput carries the fields accepted when registering a gateway.
type CreateGatewayInput struct {
	Name        string
	Description string
	Tenant      string
	Maintainers []string
	IsPublic    bool
	CreatedBy   string
}

// UpdateGatewayInput carries the mutable gateway fields. Nil pointers leave
// the current value untouched.
type UpdateGatewayInput struct {
	Description *string
	Maintainers []string
	IsPublic    *bool
	Status      *int
}

// StageInput carries stage create/update fields.
type StageInput struct {
	Name        string
	Description string
	Vars        map[string]string
}

// BackendInput carries backend create/update fields.
type BackendInput struct {
	Name           string
	Description    string
	Hosts          []string
	TimeoutSeconds int
}

// GatewayService manages gateways and their per-gateway stages and backends.
type GatewayService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewGatewayService constructs the gateway service.
func NewGatewayService(db *gorm.DB, audit *AuditService) (*GatewayService, error) {
	if db == nil {
		return nil, errors.New("gateway service: db is required")
	}
	return &GatewayService{db: db, audit: audit}, nil
}

// Create registers a gateway together with its default "prod" stage.
func (s *GatewayService) Create(ctx context.Context, in CreateGatewayInput) (*models.Gateway, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("gateway name is required")
	}
	if len(in.Maintainers) == 0 {
		return nil, apperrors.NewBadRequest("at least one maintainer is required")
	}

	gateway := models.Gateway{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Tenant:      defaultIfEmpty(strings.TrimSpace(in.Tenant), "default"),
		Maintainers: strings.Join(in.Maintainers, ";"),
		IsPublic:    in.IsPublic,
		Status:      models.GatewayStatusActive,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&gateway).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrConflict.WithMessage("gateway name already exists")
			}
			return fmt.Errorf("create gateway: %w", err)
		}
		stage := models.Stage{
			GatewayID: gateway.ID,
			Name:      "prod",
			Status:    models.StageStatusInactive,
		}
		if err := tx.Create(&stage).Error; err != nil {
			return fmt.Errorf("create default stage: %w", err)
		}
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("gateway service: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  in.CreatedBy,
		GatewayID: gateway.ID,
		Action:    "gateway.create",
		Resource:  fmt.Sprintf("gateway/%d", gateway.ID),
		Result:    "success",
		Metadata:  map[string]any{"name": gateway.Name},
	})
	return &gateway, nil
}

// Get loads one gateway by id.
func (s *GatewayService) Get(ctx context.Context, id int64) (*models.Gateway, error) {
	ctx = ensureContext(ctx)

	var gateway models.Gateway
	err := s.db.WithContext(ctx).Take(&gateway, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGatewayNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gateway service: load gateway: %w", err)
	}
	return &gateway, nil
}

// List returns gateways, optionally filtered by tenant or a name fragment.
func (s *GatewayService) List(ctx context.Context, tenant, nameFragment string) ([]models.Gateway, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Gateway{})
	if tenant = strings.TrimSpace(tenant); tenant != "" {
		query = query.Where("tenant = ?", tenant)
	}
	if nameFragment = strings.TrimSpace(nameFragment); nameFragment != "" {
		query = query.Where("name LIKE ?", "%"+nameFragment+"%")
	}

	var gateways []models.Gateway
	if err := query.Order("name ASC").Find(&gateways).Error; err != nil {
		return nil, fmt.Errorf("gateway service: list gateways: %w", err)
	}
	return gateways, nil
}

// Update applies partial changes to a gateway.
func (s *GatewayService) Update(ctx context.Context, id int64, in UpdateGatewayInput, updatedBy string) (*models.Gateway, error) {
	ctx = ensureContext(ctx)

	gateway, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Maintainers != nil {
		if len(in.Maintainers) == 0 {
			return nil, apperrors.NewBadRequest("maintainer list cannot be emptied")
		}
		updates["maintainers"] = strings.Join(in.Maintainers, ";")
	}
	if in.IsPublic != nil {
		updates["is_public"] = *in.IsPublic
	}
	if in.Status != nil {
		updates["status"] = *in.Status
	}
	if len(updates) == 0 {
		return gateway, nil
	}

	if err := s.db.WithContext(ctx).Model(gateway).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("gateway service: update gateway: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator:  updatedBy,
		GatewayID: gateway.ID,
		Action:    "gateway.update",
		Resource:  fmt.Sprintf("gateway/%d", gateway.ID),
		Result:    "success",
	})
	return gateway, nil
}

// Delete removes a gateway and everything hanging off it. Gateways with a
// live release must be taken offline first.
func (s *GatewayService) Delete(ctx context.Context, id int64, deletedBy string) error {
	ctx = ensureContext(ctx)

	gateway, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var releases int64
	if err := s.db.WithContext(ctx).
		Model(&models.Release{}).
		Where("gateway_id = ?", id).
		Count(&releases).Error; err != nil {
		return fmt.Errorf("gateway service: count releases: %w", err)
	}
	if releases > 0 {
		return apperrors.ErrConflict.WithMessage("gateway has live releases and cannot be deleted")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{
			&models.AppResourcePermission{},
			&models.AppGatewayPermission{},
			&models.AppPermissionApply{},
			&models.AppPermissionRecord{},
			&models.ResourceVersion{},
			&models.Resource{},
			&models.Backend{},
			&models.Stage{},
		} {
			if err := tx.Where("gateway_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("delete dependents: %w", err)
			}
		}
		return tx.Delete(&models.Gateway{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("gateway service: delete gateway: %w", err)
	}

	recordAudit(ctx, s.audit, AuditEntry{
		Operator: deletedBy,
		Action:   "gateway.delete",
		Resource: fmt.Sprintf("gateway/%d", id),
		Result:   "success",
		Metadata: map[string]any{"name": gateway.Name},
	})
	return nil
}

// CreateStage adds a stage to a gateway.
func (s *GatewayService) CreateStage(ctx context.Context, gatewayID int64, in StageInput) (*models.Stage, error) {
	ctx = ensureContext(ctx)

	if _, err := s.Get(ctx, gatewayID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("stage name is required")
	}

	stage := models.Stage{
		GatewayID:   gatewayID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Status:      models.StageStatusInactive,
	}
	if in.Vars != nil {
		stage.Vars = toJSONMap(in.Vars)
	}

	if err := s.db.WithContext(ctx).Create(&stage).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("stage name already exists on this gateway")
		}
		return nil, fmt.Errorf("gateway service: create stage: %w", err)
	}
	return &stage, nil
}

// GetStage loads a stage scoped to its gateway.
func (s *GatewayService) GetStage(ctx context.Context, gatewayID, stageID int64) (*models.Stage, error) {
	ctx = ensureContext(ctx)

	var stage models.Stage
	err := s.db.WithContext(ctx).
		Take(&stage, "id = ? AND gateway_id = ?", stageID, gatewayID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gateway service: load stage: %w", err)
	}
	return &stage, nil
}

// ListStages returns the stages of a gateway.
func (s *GatewayService) ListStages(ctx context.Context, gatewayID int64) ([]models.Stage, error) {
	ctx = ensureContext(ctx)

	var stages []models.Stage
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("name ASC").
		Find(&stages).Error; err != nil {
		return nil, fmt.Errorf("gateway service: list stages: %w", err)
	}
	return stages, nil
}

// UpdateStageVars replaces a stage's variable map.
func (s *GatewayService) UpdateStageVars(ctx context.Context, gatewayID, stageID int64, vars map[string]string) (*models.Stage, error) {
	ctx = ensureContext(ctx)

	stage, err := s.GetStage(ctx, gatewayID, stageID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).
		Model(stage).
		Update("vars", toJSONMap(vars)).Error; err != nil {
		return nil, fmt.Errorf("gateway service: update stage vars: %w", err)
	}
	return stage, nil
}

// DeleteStage removes a stage that has no live release.
func (s *GatewayService) DeleteStage(ctx context.Context, gatewayID, stageID int64) error {
	ctx = ensureContext(ctx)

	if _, err := s.GetStage(ctx, gatewayID, stageID); err != nil {
		return err
	}

	var releases int64
	if err := s.db.WithContext(ctx).
		Model(&models.Release{}).
		Where("stage_id = ?", stageID).
		Count(&releases).Error; err != nil {
		return fmt.Errorf("gateway service: count releases: %w", err)
	}
	if releases > 0 {
		return apperrors.ErrConflict.WithMessage("stage has a live release and cannot be deleted")
	}

	if err := s.db.WithContext(ctx).
		Delete(&models.Stage{}, "id = ? AND gateway_id = ?", stageID, gatewayID).Error; err != nil {
		return fmt.Errorf("gateway service: delete stage: %w", err)
	}
	return nil
}

// CreateBackend adds an upstream backend to a gateway.
func (s *GatewayService) CreateBackend(ctx context.Context, gatewayID int64, in BackendInput) (*models.Backend, error) {
	ctx = ensureContext(ctx)

	if _, err := s.Get(ctx, gatewayID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperrors.NewBadRequest("backend name is required")
	}
	if len(in.Hosts) == 0 {
		return nil, apperrors.NewBadRequest("at least one backend host is required")
	}

	backend := models.Backend{
		GatewayID:      gatewayID,
		Name:           strings.TrimSpace(in.Name),
		Description:    strings.TrimSpace(in.Description),
		Hosts:          datatypes.JSONSlice[string](in.Hosts),
		TimeoutSeconds: in.TimeoutSeconds,
	}
	if backend.TimeoutSeconds <= 0 {
		backend.TimeoutSeconds = 30
	}

	if err := s.db.WithContext(ctx).Create(&backend).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("backend name already exists on this gateway")
		}
		return nil, fmt.Errorf("gateway service: create backend: %w", err)
	}
	return &backend, nil
}

// ListBackends returns the backends of a gateway.
func (s *GatewayService) ListBackends(ctx context.Context, gatewayID int64) ([]models.Backend, error) {
	ctx = ensureContext(ctx)

	var backends []models.Backend
	if err := s.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("name ASC").
		Find(&backends).Error; err != nil {
		return nil, fmt.Errorf("gateway service: list backends: %w", err)
	}
	return backends, nil
}

// DeleteBackend removes a backend that no resource references.
func (s *GatewayService) DeleteBackend(ctx context.Context, gatewayID, backendID int64) error {
	ctx = ensureContext(ctx)

	var refs int64
	if err := s.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("gateway_id = ? AND backend_id = ?", gatewayID, backendID).
		Count(&refs).Error; err != nil {
		return fmt.Errorf("gateway service: count backend refs: %w", err)
	}
	if refs > 0 {
		return apperrors.ErrConflict.WithMessage("backend is referenced by resources")
	}

	result := s.db.WithContext(ctx).
		Delete(&models.Backend{}, "id = ? AND gateway_id = ?", backendID, gatewayID)
	if result.Error != nil {
		return fmt.Errorf("gateway service: delete backend: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrBackendNotFound
	}
	return nil
}
