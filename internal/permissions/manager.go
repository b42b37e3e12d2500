package permissions

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

// Typed errors surfaced by the permission managers.
var (
	// ErrApplyResolved is returned when the apply record was already consumed
	// by a concurrent approval. The lost approver must not grant again.
	ErrApplyResolved = apperrors.New("APPLY_ALREADY_RESOLVED", "Apply record already resolved", http.StatusNotFound)
	// ErrUnknownDimension rejects dimensions outside the closed set.
	ErrUnknownDimension = apperrors.NewBadRequest("unknown grant dimension")
)

// CreateApplyInput describes a new permission apply submission.
type CreateApplyInput struct {
	AppCode     string
	GatewayID   int64
	ResourceIDs []int64
	Reason      string
	ExpireDays  int
	AppliedBy   string
}

// HandleApplyInput describes the approval transition for a pending apply.
type HandleApplyInput struct {
	ApplyID         int64
	Status          string
	Comment         string
	HandledBy       string
	PartResourceIDs []int64
}

// SavePermissionsInput describes a direct grant by a gateway maintainer,
// bypassing the apply flow.
type SavePermissionsInput struct {
	AppCode     string
	GatewayID   int64
	ResourceIDs []int64
	ExpireDays  int
	GrantType   string
}

// Manager is the uniform workflow surface over one grant dimension. The
// variant set is closed: a gateway-wide strategy and a per-resource strategy.
// Managers are the only path allowed to turn an apply record into grant rows.
type Manager interface {
	Dimension() string
	AllowApplyPermission(ctx context.Context, gatewayID int64, appCode string) (bool, string, error)
	CreateApplyRecord(ctx context.Context, in CreateApplyInput) (*models.AppPermissionApply, error)
	HandlePermissionApply(ctx context.Context, in HandleApplyInput) (*models.AppPermissionRecord, error)
	SavePermissions(ctx context.Context, in SavePermissionsInput) error
	RenewByIDs(ctx context.Context, gatewayID int64, ids []int64) (int, error)
}

// ManagerOption customises a manager, primarily for tests.
type ManagerOption func(*managerBase)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(b *managerBase) {
		if now != nil {
			b.now = now
		}
	}
}

// GetManager maps a grant dimension to its strategy. Pure factory, no state
// beyond the injected handles.
func GetManager(dimension string, db *gorm.DB, policy Policy, opts ...ManagerOption) (Manager, error) {
	base := managerBase{db: db, policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(&base)
	}

	switch dimension {
	case models.GrantDimensionGateway:
		return &gatewayManager{managerBase: base}, nil
	case models.GrantDimensionResource:
		return &resourceManager{managerBase: base}, nil
	default:
		return nil, ErrUnknownDimension
	}
}

type managerBase struct {
	db     *gorm.DB
	policy Policy
	now    func() time.Time
}

// pendingApplyExists checks for any pending apply on the app+gateway key,
// regardless of dimension. The pre-check is advisory; the unique index on
// (app_code, gateway_id, grant_dimension) backstops concurrent submissions.
func (b *managerBase) pendingApplyExists(ctx context.Context, tx *gorm.DB, gatewayID int64, appCode string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.AppPermissionApply{}).
		Where("gateway_id = ? AND app_code = ?", gatewayID, appCode).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// splitOutcome partitions the apply's resource set according to the target
// status, validating partial approval subsets.
func splitOutcome(apply *models.AppPermissionApply, status string, partIDs []int64) (approved, rejected []int64, err error) {
	full := make([]int64, len(apply.ResourceIDs))
	copy(full, apply.ResourceIDs)

	switch status {
	case models.ApplyStatusApproved:
		return full, nil, nil
	case models.ApplyStatusRejected:
		return nil, full, nil
	case models.ApplyStatusPartialApproved:
		if len(partIDs) == 0 {
			return nil, nil, apperrors.NewBadRequest("partial approval requires a non-empty resource subset")
		}
		requested := make(map[int64]struct{}, len(full))
		for _, id := range full {
			requested[id] = struct{}{}
		}
		chosen := make(map[int64]struct{}, len(partIDs))
		for _, id := range partIDs {
			if _, ok := requested[id]; !ok {
				return nil, nil, apperrors.NewBadRequest("partial approval subset contains resources outside the apply")
			}
			chosen[id] = struct{}{}
		}
		if len(chosen) == len(requested) {
			return nil, nil, apperrors.NewBadRequest("partial approval subset equals the full set, use approved instead")
		}
		for _, id := range full {
			if _, ok := chosen[id]; ok {
				approved = append(approved, id)
			} else {
				rejected = append(rejected, id)
			}
		}
		return approved, rejected, nil
	default:
		return nil, nil, apperrors.NewBadRequest("invalid apply status")
	}
}
