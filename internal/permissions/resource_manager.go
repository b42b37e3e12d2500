package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kitewall/apigate/internal/database"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// resourceManager implements the per-resource grant dimension: one grant row
// per (app, gateway, resource) key, and applies that may be partially
// approved by splitting the requested resource set.
type resourceManager struct {
	managerBase
}

func (m *resourceManager) Dimension() string {
	return models.GrantDimensionResource
}

// AllowApplyPermission operates at gateway granularity: any pending apply for
// this app+gateway blocks a new submission. Held grants do not block, since a
// follow-up apply may cover resources that were not granted before.
func (m *resourceManager) AllowApplyPermission(ctx context.Context, gatewayID int64, appCode string) (bool, string, error) {
	pending, err := m.pendingApplyExists(ctx, m.db, gatewayID, appCode)
	if err != nil {
		return false, "", fmt.Errorf("resource permission: check pending applies: %w", err)
	}
	if pending {
		return false, "an apply for this gateway is already awaiting approval", nil
	}
	return true, "", nil
}

func (m *resourceManager) CreateApplyRecord(ctx context.Context, in CreateApplyInput) (*models.AppPermissionApply, error) {
	if len(in.ResourceIDs) == 0 {
		return nil, apperrors.NewBadRequest("resource ids are required for resource-level applies")
	}
	if !models.IsValidExpireDays(in.ExpireDays) {
		return nil, apperrors.NewBadRequest("invalid expire days")
	}
	if err := m.verifyResourcesBelongToGateway(ctx, in.GatewayID, in.ResourceIDs); err != nil {
		return nil, err
	}

	allowed, reason, err := m.AllowApplyPermission(ctx, in.GatewayID, in.AppCode)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.NewNoPermission(reason)
	}

	apply := models.AppPermissionApply{
		AppCode:        in.AppCode,
		GatewayID:      in.GatewayID,
		GrantDimension: models.GrantDimensionResource,
		ResourceIDs:    dedupeIDs(in.ResourceIDs),
		Reason:         in.Reason,
		ExpireDays:     in.ExpireDays,
		AppliedBy:      in.AppliedBy,
	}
	if err := m.db.WithContext(ctx).Create(&apply).Error; err != nil {
		return nil, fmt.Errorf("resource permission: create apply: %w", err)
	}
	return &apply, nil
}

// HandlePermissionApply resolves a pending apply in a single transaction:
// grant rows for the approved subset, one immutable history record, and the
// consumed apply row removed. Any failure rolls the whole transition back and
// leaves the apply pending.
func (m *resourceManager) HandlePermissionApply(ctx context.Context, in HandleApplyInput) (*models.AppPermissionRecord, error) {
	switch in.Status {
	case models.ApplyStatusApproved, models.ApplyStatusPartialApproved, models.ApplyStatusRejected:
	default:
		return nil, apperrors.NewBadRequest("invalid apply status")
	}

	var record *models.AppPermissionRecord
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var apply models.AppPermissionApply
		err := database.LockForUpdate(tx).
			Take(&apply, "id = ? AND grant_dimension = ?", in.ApplyID, models.GrantDimensionResource).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrApplyResolved
		}
		if err != nil {
			return fmt.Errorf("resource permission: lock apply: %w", err)
		}

		approved, rejected, err := splitOutcome(&apply, in.Status, in.PartResourceIDs)
		if err != nil {
			return err
		}

		now := m.now()
		if len(approved) > 0 {
			expiresAt := ComputeNewExpiry(apply.ExpireDays, now)
			if err := upsertResourceGrants(ctx, tx, apply.AppCode, apply.GatewayID, approved, models.GrantTypeApply, expiresAt); err != nil {
				return err
			}
		}

		record = &models.AppPermissionRecord{
			AppCode:             apply.AppCode,
			GatewayID:           apply.GatewayID,
			GrantDimension:      models.GrantDimensionResource,
			Status:              in.Status,
			Reason:              apply.Reason,
			Comment:             in.Comment,
			ExpireDays:          apply.ExpireDays,
			AppliedBy:           apply.AppliedBy,
			AppliedTime:         apply.CreatedAt,
			HandledBy:           in.HandledBy,
			HandledTime:         now,
			ApprovedResourceIDs: approved,
			RejectedResourceIDs: rejected,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("resource permission: create record: %w", err)
		}

		if err := tx.Delete(&apply).Error; err != nil {
			return fmt.Errorf("resource permission: consume apply: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (m *resourceManager) SavePermissions(ctx context.Context, in SavePermissionsInput) error {
	if len(in.ResourceIDs) == 0 {
		return apperrors.NewBadRequest("resource ids are required for resource-level grants")
	}
	if !models.IsValidExpireDays(in.ExpireDays) {
		return apperrors.NewBadRequest("invalid expire days")
	}
	if err := m.verifyResourcesBelongToGateway(ctx, in.GatewayID, in.ResourceIDs); err != nil {
		return err
	}

	grantType := in.GrantType
	if grantType == "" {
		grantType = models.GrantTypeInitialize
	}
	expiresAt := ComputeNewExpiry(in.ExpireDays, m.now())
	return upsertResourceGrants(ctx, m.db, in.AppCode, in.GatewayID, dedupeIDs(in.ResourceIDs), grantType, expiresAt)
}

// RenewByIDs extends grant rows selected by primary key. Missing ids and
// rows outside the renewal rules are skipped, not errors; the returned count
// tells the caller how many rows were actually extended.
func (m *resourceManager) RenewByIDs(ctx context.Context, gatewayID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var grants []models.AppResourcePermission
	if err := m.db.WithContext(ctx).
		Where("gateway_id = ? AND id IN ?", gatewayID, ids).
		Find(&grants).Error; err != nil {
		return 0, fmt.Errorf("resource permission: load grants: %w", err)
	}

	now := m.now()
	renewed := 0
	for _, grant := range grants {
		if IsNeverExpires(grant.ExpiresAt) || !grant.ExpiresAt.After(now) {
			continue
		}
		expiresAt := ComputeNewExpiry(m.policy.renewDays(), now)
		err := m.db.WithContext(ctx).
			Model(&models.AppResourcePermission{}).
			Where("id = ?", grant.ID).
			Updates(map[string]any{"expires_at": expiresAt, "grant_type": models.GrantTypeRenew}).Error
		if err != nil {
			return renewed, fmt.Errorf("resource permission: renew grant %d: %w", grant.ID, err)
		}
		renewed++
	}
	return renewed, nil
}

func (m *resourceManager) verifyResourcesBelongToGateway(ctx context.Context, gatewayID int64, ids []int64) error {
	unique := dedupeIDs(ids)
	var count int64
	err := m.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("gateway_id = ? AND id IN ?", gatewayID, unique).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("resource permission: verify resources: %w", err)
	}
	if count != int64(len(unique)) {
		return apperrors.NewBadRequest("some resources do not belong to the gateway")
	}
	return nil
}

// upsertResourceGrants creates or extends one grant row per resource id,
// keeping the at-most-one-live-grant invariant per key.
func upsertResourceGrants(ctx context.Context, tx *gorm.DB, appCode string, gatewayID int64, resourceIDs []int64, grantType string, expiresAt time.Time) error {
	grants := make([]models.AppResourcePermission, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		grants = append(grants, models.AppResourcePermission{
			AppCode:    appCode,
			GatewayID:  gatewayID,
			ResourceID: id,
			GrantType:  grantType,
			ExpiresAt:  expiresAt,
		})
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_code"}, {Name: "gateway_id"}, {Name: "resource_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"expires_at": expiresAt,
			"grant_type": grantType,
		}),
	}).Create(&grants).Error
	if err != nil {
		return fmt.Errorf("resource permission: upsert grants: %w", err)
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
