package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seedGatewayWithResources(t *testing.T, db *gorm.DB, resourceCount int) (*models.Gateway, []models.Resource) {
	t.Helper()

	gateway := &models.Gateway{Name: "demo-gateway", Maintainers: "admin"}
	require.NoError(t, db.Create(gateway).Error)

	resources := make([]models.Resource, resourceCount)
	for i := range resources {
		resources[i] = models.Resource{
			GatewayID: gateway.ID,
			Name:      "res_" + string(rune('a'+i)),
			Method:    "GET",
			Path:      "/demo/" + string(rune('a'+i)),
		}
	}
	require.NoError(t, db.Create(&resources).Error)
	return gateway, resources
}

func newTestManager(t *testing.T, db *gorm.DB, dimension string) Manager {
	t.Helper()
	mgr, err := GetManager(dimension, db, DefaultPolicy(), WithClock(fixedClock))
	require.NoError(t, err)
	return mgr
}

func TestGetManagerClosedSet(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	for _, dim := range []string{models.GrantDimensionGateway, models.GrantDimensionResource} {
		mgr, err := GetManager(dim, db, DefaultPolicy())
		require.NoError(t, err)
		require.Equal(t, dim, mgr.Dimension())
	}

	_, err := GetManager("component", db, DefaultPolicy())
	require.ErrorIs(t, err, ErrUnknownDimension)
}

func TestResourceApplyPartialApprovalEndToEnd(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 3)
	mgr := newTestManager(t, db, models.GrantDimensionResource)
	ctx := context.Background()

	ids := []int64{resources[0].ID, resources[1].ID, resources[2].ID}
	apply, err := mgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_test",
		GatewayID:   gateway.ID,
		ResourceIDs: ids,
		Reason:      "need access",
		ExpireDays:  180,
		AppliedBy:   "bk_test_owner",
	})
	require.NoError(t, err)
	require.ElementsMatch(t, ids, []int64(apply.ResourceIDs))

	// A second apply for the same key is blocked while the first is pending.
	allowed, reason, err := mgr.AllowApplyPermission(ctx, gateway.ID, "bk_test")
	require.NoError(t, err)
	require.False(t, allowed)
	require.NotEmpty(t, reason)

	part := []int64{resources[0].ID, resources[1].ID}
	record, err := mgr.HandlePermissionApply(ctx, HandleApplyInput{
		ApplyID:         apply.ID,
		Status:          models.ApplyStatusPartialApproved,
		Comment:         "third endpoint is internal only",
		HandledBy:       "admin",
		PartResourceIDs: part,
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusPartialApproved, record.Status)
	require.ElementsMatch(t, part, []int64(record.ApprovedResourceIDs))
	require.ElementsMatch(t, []int64{resources[2].ID}, []int64(record.RejectedResourceIDs))

	outcome := record.OutcomeMap()
	require.Len(t, outcome[models.ApplyStatusApproved], 2)
	require.Len(t, outcome[models.ApplyStatusRejected], 1)

	// Grant rows exist for exactly the approved subset.
	var grants []models.AppResourcePermission
	require.NoError(t, db.Where("app_code = ? AND gateway_id = ?", "bk_test", gateway.ID).Find(&grants).Error)
	require.Len(t, grants, 2)
	for _, grant := range grants {
		require.Contains(t, part, grant.ResourceID)
		require.WithinDuration(t, testNow.Add(180*24*time.Hour), grant.ExpiresAt, time.Second)
		require.Equal(t, models.GrantTypeApply, grant.GrantType)
	}

	// The apply record has been consumed.
	var pending int64
	require.NoError(t, db.Model(&models.AppPermissionApply{}).Count(&pending).Error)
	require.Zero(t, pending)

	// Exactly one history record references the resolved apply.
	var records int64
	require.NoError(t, db.Model(&models.AppPermissionRecord{}).
		Where("app_code = ? AND gateway_id = ?", "bk_test", gateway.ID).
		Count(&records).Error)
	require.EqualValues(t, 1, records)

	// With the apply resolved, a fresh submission is allowed again.
	allowed, _, err = mgr.AllowApplyPermission(ctx, gateway.ID, "bk_test")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestPartialApprovalSubsetValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 2)
	mgr := newTestManager(t, db, models.GrantDimensionResource)
	ctx := context.Background()

	ids := []int64{resources[0].ID, resources[1].ID}
	apply, err := mgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_subset",
		GatewayID:   gateway.ID,
		ResourceIDs: ids,
		ExpireDays:  30,
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		part []int64
	}{
		{"empty subset", nil},
		{"full set", ids},
		{"outside ids", []int64{resources[0].ID, resources[1].ID + 1000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.HandlePermissionApply(ctx, HandleApplyInput{
				ApplyID:         apply.ID,
				Status:          models.ApplyStatusPartialApproved,
				HandledBy:       "admin",
				PartResourceIDs: tc.part,
			})
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
		})
	}

	// Failed validation leaves the apply pending and re-resolvable.
	var pending int64
	require.NoError(t, db.Model(&models.AppPermissionApply{}).Count(&pending).Error)
	require.EqualValues(t, 1, pending)

	var grants int64
	require.NoError(t, db.Model(&models.AppResourcePermission{}).Count(&grants).Error)
	require.Zero(t, grants)
}

func TestHandleApplyAlreadyResolved(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 1)
	mgr := newTestManager(t, db, models.GrantDimensionResource)
	ctx := context.Background()

	apply, err := mgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_twice",
		GatewayID:   gateway.ID,
		ResourceIDs: []int64{resources[0].ID},
		ExpireDays:  30,
	})
	require.NoError(t, err)

	in := HandleApplyInput{
		ApplyID:   apply.ID,
		Status:    models.ApplyStatusApproved,
		HandledBy: "admin",
	}
	_, err = mgr.HandlePermissionApply(ctx, in)
	require.NoError(t, err)

	_, err = mgr.HandlePermissionApply(ctx, in)
	require.ErrorIs(t, err, ErrApplyResolved)

	// The losing approval must not have granted again or written history twice.
	var grants int64
	require.NoError(t, db.Model(&models.AppResourcePermission{}).Count(&grants).Error)
	require.EqualValues(t, 1, grants)

	var records int64
	require.NoError(t, db.Model(&models.AppPermissionRecord{}).Count(&records).Error)
	require.EqualValues(t, 1, records)
}

func TestGatewayDimensionWorkflow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, _ := seedGatewayWithResources(t, db, 1)
	mgr := newTestManager(t, db, models.GrantDimensionGateway)
	ctx := context.Background()

	apply, err := mgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:    "bk_gw",
		GatewayID:  gateway.ID,
		ExpireDays: models.ExpireDaysNever,
		AppliedBy:  "bk_gw_owner",
	})
	require.NoError(t, err)

	// Partial approval has no meaning for gateway-wide applies.
	_, err = mgr.HandlePermissionApply(ctx, HandleApplyInput{
		ApplyID:         apply.ID,
		Status:          models.ApplyStatusPartialApproved,
		HandledBy:       "admin",
		PartResourceIDs: []int64{1},
	})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)

	record, err := mgr.HandlePermissionApply(ctx, HandleApplyInput{
		ApplyID:   apply.ID,
		Status:    models.ApplyStatusApproved,
		HandledBy: "admin",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusApproved, record.Status)

	var grant models.AppGatewayPermission
	require.NoError(t, db.Where("app_code = ? AND gateway_id = ?", "bk_gw", gateway.ID).Take(&grant).Error)
	require.True(t, IsNeverExpires(grant.ExpiresAt))

	// A live gateway grant blocks a new gateway-dimension apply.
	allowed, reason, err := mgr.AllowApplyPermission(ctx, gateway.ID, "bk_gw")
	require.NoError(t, err)
	require.False(t, allowed)
	require.NotEmpty(t, reason)
}

func TestGatewayApplyRejection(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, _ := seedGatewayWithResources(t, db, 1)
	mgr := newTestManager(t, db, models.GrantDimensionGateway)
	ctx := context.Background()

	apply, err := mgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:    "bk_rejected",
		GatewayID:  gateway.ID,
		ExpireDays: 30,
	})
	require.NoError(t, err)

	record, err := mgr.HandlePermissionApply(ctx, HandleApplyInput{
		ApplyID:   apply.ID,
		Status:    models.ApplyStatusRejected,
		Comment:   "no",
		HandledBy: "admin",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusRejected, record.Status)

	var grants int64
	require.NoError(t, db.Model(&models.AppGatewayPermission{}).Count(&grants).Error)
	require.Zero(t, grants)
}

func TestCreateApplyValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 1)
	ctx := context.Background()

	other := &models.Gateway{Name: "other-gateway"}
	require.NoError(t, db.Create(other).Error)

	gwMgr := newTestManager(t, db, models.GrantDimensionGateway)
	resMgr := newTestManager(t, db, models.GrantDimensionResource)

	_, err := gwMgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_bad",
		GatewayID:   gateway.ID,
		ResourceIDs: []int64{resources[0].ID},
		ExpireDays:  30,
	})
	require.Error(t, err, "gateway dimension must reject resource ids")

	_, err = resMgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:    "bk_bad",
		GatewayID:  gateway.ID,
		ExpireDays: 30,
	})
	require.Error(t, err, "resource dimension requires resource ids")

	_, err = resMgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_bad",
		GatewayID:   other.ID,
		ResourceIDs: []int64{resources[0].ID},
		ExpireDays:  30,
	})
	require.Error(t, err, "resources must belong to the target gateway")

	_, err = resMgr.CreateApplyRecord(ctx, CreateApplyInput{
		AppCode:     "bk_bad",
		GatewayID:   gateway.ID,
		ResourceIDs: []int64{resources[0].ID},
		ExpireDays:  13,
	})
	require.Error(t, err, "expire days outside the accepted enum")
}

func TestSavePermissionsIdempotentRegrant(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 2)
	mgr := newTestManager(t, db, models.GrantDimensionResource)
	ctx := context.Background()

	in := SavePermissionsInput{
		AppCode:     "bk_idem",
		GatewayID:   gateway.ID,
		ResourceIDs: []int64{resources[0].ID, resources[1].ID},
		ExpireDays:  30,
	}
	require.NoError(t, mgr.SavePermissions(ctx, in))
	require.NoError(t, mgr.SavePermissions(ctx, in))

	var grants []models.AppResourcePermission
	require.NoError(t, db.Where("app_code = ?", "bk_idem").Find(&grants).Error)
	require.Len(t, grants, 2, "re-granting must extend, not duplicate")
	for _, grant := range grants {
		require.WithinDuration(t, testNow.Add(30*24*time.Hour), grant.ExpiresAt, time.Second)
	}
}

func TestRenewByIDs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, resources := seedGatewayWithResources(t, db, 3)
	mgr := newTestManager(t, db, models.GrantDimensionResource)
	ctx := context.Background()

	owned := models.AppResourcePermission{
		AppCode: "bk_renew", GatewayID: gateway.ID, ResourceID: resources[0].ID,
		ExpiresAt: testNow.Add(10 * 24 * time.Hour),
	}
	expired := models.AppResourcePermission{
		AppCode: "bk_renew", GatewayID: gateway.ID, ResourceID: resources[1].ID,
		ExpiresAt: testNow.Add(-time.Hour),
	}
	unlimited := models.AppResourcePermission{
		AppCode: "bk_renew", GatewayID: gateway.ID, ResourceID: resources[2].ID,
		ExpiresAt: NeverExpiresAt,
	}
	require.NoError(t, db.Create(&owned).Error)
	require.NoError(t, db.Create(&expired).Error)
	require.NoError(t, db.Create(&unlimited).Error)

	renewed, err := mgr.RenewByIDs(ctx, gateway.ID, []int64{owned.ID, expired.ID, unlimited.ID, 99999})
	require.NoError(t, err)
	require.Equal(t, 1, renewed, "only the owned finite grant is renewable")

	// Each lookup gets a fresh destination: reusing one would leave the
	// previous primary key in the WHERE clause.
	var renewedRow models.AppResourcePermission
	require.NoError(t, db.Take(&renewedRow, "id = ?", owned.ID).Error)
	require.WithinDuration(t, testNow.Add(time.Duration(DefaultRenewDays)*24*time.Hour), renewedRow.ExpiresAt, time.Second)
	require.Equal(t, models.GrantTypeRenew, renewedRow.GrantType)

	// Untouched rows keep their expiry.
	var expiredRow models.AppResourcePermission
	require.NoError(t, db.Take(&expiredRow, "id = ?", expired.ID).Error)
	require.WithinDuration(t, testNow.Add(-time.Hour), expiredRow.ExpiresAt, time.Second)

	var unlimitedRow models.AppResourcePermission
	require.NoError(t, db.Take(&unlimitedRow, "id = ?", unlimited.ID).Error)
	require.True(t, IsNeverExpires(unlimitedRow.ExpiresAt))
}

func TestGatewayGrantIdempotentUpsert(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	gateway, _ := seedGatewayWithResources(t, db, 1)
	mgr := newTestManager(t, db, models.GrantDimensionGateway)
	ctx := context.Background()

	in := SavePermissionsInput{AppCode: "bk_gw_idem", GatewayID: gateway.ID, ExpireDays: 90}
	require.NoError(t, mgr.SavePermissions(ctx, in))
	require.NoError(t, mgr.SavePermissions(ctx, in))

	var grants []models.AppGatewayPermission
	require.NoError(t, db.Where("app_code = ?", "bk_gw_idem").Find(&grants).Error)
	require.Len(t, grants, 1)
	require.WithinDuration(t, testNow.Add(90*24*time.Hour), grants[0].ExpiresAt, time.Second)
}
