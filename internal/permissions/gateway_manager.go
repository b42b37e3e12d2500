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

// gatewayManager implements the gateway-wide grant dimension: one grant row
// covers every resource of the gateway.
type gatewayManager struct {
	managerBase
}

func (m *gatewayManager) Dimension() string {
	return models.GrantDimensionGateway
}

func (m *gatewayManager) AllowApplyPermission(ctx context.Context, gatewayID int64, appCode string) (bool, string, error) {
	pending, err := m.pendingApplyExists(ctx, m.db, gatewayID, appCode)
	if err != nil {
		return false, "", fmt.Errorf("gateway permission: check pending applies: %w", err)
	}
	if pending {
		return false, "an apply for this gateway is already awaiting approval", nil
	}

	var grant models.AppGatewayPermission
	err = m.db.WithContext(ctx).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Take(&grant).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return true, "", nil
	case err != nil:
		return false, "", fmt.Errorf("gateway permission: load grant: %w", err)
	}

	if grant.ExpiresAt.After(m.now()) {
		return false, "the app already holds an active gateway permission", nil
	}
	return true, "", nil
}

func (m *gatewayManager) CreateApplyRecord(ctx context.Context, in CreateApplyInput) (*models.AppPermissionApply, error) {
	if len(in.ResourceIDs) > 0 {
		return nil, apperrors.NewBadRequest("resource ids must be empty for gateway-wide applies")
	}
	if !models.IsValidExpireDays(in.ExpireDays) {
		return nil, apperrors.NewBadRequest("invalid expire days")
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
		GrantDimension: models.GrantDimensionGateway,
		Reason:         in.Reason,
		ExpireDays:     in.ExpireDays,
		AppliedBy:      in.AppliedBy,
	}
	if err := m.db.WithContext(ctx).Create(&apply).Error; err != nil {
		return nil, fmt.Errorf("gateway permission: create apply: %w", err)
	}
	return &apply, nil
}

func (m *gatewayManager) HandlePermissionApply(ctx context.Context, in HandleApplyInput) (*models.AppPermissionRecord, error) {
	if in.Status == models.ApplyStatusPartialApproved {
		return nil, apperrors.NewBadRequest("partial approval is not applicable to gateway-wide applies")
	}
	if in.Status != models.ApplyStatusApproved && in.Status != models.ApplyStatusRejected {
		return nil, apperrors.NewBadRequest("invalid apply status")
	}

	var record *models.AppPermissionRecord
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var apply models.AppPermissionApply
		// Row lock serialises concurrent approvals; the loser sees the row gone.
		err := database.LockForUpdate(tx).
			Take(&apply, "id = ? AND grant_dimension = ?", in.ApplyID, models.GrantDimensionGateway).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrApplyResolved
		}
		if err != nil {
			return fmt.Errorf("gateway permission: lock apply: %w", err)
		}

		now := m.now()
		if in.Status == models.ApplyStatusApproved {
			expiresAt := ComputeNewExpiry(apply.ExpireDays, now)
			if err := upsertGatewayGrant(ctx, tx, apply.AppCode, apply.GatewayID, models.GrantTypeApply, expiresAt); err != nil {
				return err
			}
		}

		record = &models.AppPermissionRecord{
			AppCode:        apply.AppCode,
			GatewayID:      apply.GatewayID,
			GrantDimension: models.GrantDimensionGateway,
			Status:         in.Status,
			Reason:         apply.Reason,
			Comment:        in.Comment,
			ExpireDays:     apply.ExpireDays,
			AppliedBy:      apply.AppliedBy,
			AppliedTime:    apply.CreatedAt,
			HandledBy:      in.HandledBy,
			HandledTime:    now,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("gateway permission: create record: %w", err)
		}

		if err := tx.Delete(&apply).Error; err != nil {
			return fmt.Errorf("gateway permission: consume apply: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (m *gatewayManager) SavePermissions(ctx context.Context, in SavePermissionsInput) error {
	if !models.IsValidExpireDays(in.ExpireDays) {
		return apperrors.NewBadRequest("invalid expire days")
	}

	grantType := in.GrantType
	if grantType == "" {
		grantType = models.GrantTypeInitialize
	}
	// ResourceIDs is accepted for interface symmetry and ignored here.
	expiresAt := ComputeNewExpiry(in.ExpireDays, m.now())
	return upsertGatewayGrant(ctx, m.db, in.AppCode, in.GatewayID, grantType, expiresAt)
}

func (m *gatewayManager) RenewByIDs(ctx context.Context, gatewayID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var grants []models.AppGatewayPermission
	if err := m.db.WithContext(ctx).
		Where("gateway_id = ? AND id IN ?", gatewayID, ids).
		Find(&grants).Error; err != nil {
		return 0, fmt.Errorf("gateway permission: load grants: %w", err)
	}

	now := m.now()
	renewed := 0
	for _, grant := range grants {
		if IsNeverExpires(grant.ExpiresAt) || !grant.ExpiresAt.After(now) {
			continue
		}
		expiresAt := ComputeNewExpiry(m.policy.renewDays(), now)
		err := m.db.WithContext(ctx).
			Model(&models.AppGatewayPermission{}).
			Where("id = ?", grant.ID).
			Updates(map[string]any{"expires_at": expiresAt, "grant_type": models.GrantTypeRenew}).Error
		if err != nil {
			return renewed, fmt.Errorf("gateway permission: renew grant %d: %w", grant.ID, err)
		}
		renewed++
	}
	return renewed, nil
}

// upsertGatewayGrant creates or extends the single grant row for the
// (app_code, gateway_id) key. The conflict clause enforces the
// extend-don't-duplicate rule.
func upsertGatewayGrant(ctx context.Context, tx *gorm.DB, appCode string, gatewayID int64, grantType string, expiresAt time.Time) error {
	grant := models.AppGatewayPermission{
		AppCode:   appCode,
		GatewayID: gatewayID,
		GrantType: grantType,
		ExpiresAt: expiresAt,
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "app_code"}, {Name: "gateway_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"expires_at": expiresAt,
			"grant_type": grantType,
		}),
	}).Create(&grant).Error
	if err != nil {
		return fmt.Errorf("gateway permission: upsert grant: %w", err)
	}
	return nil
}
