package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

func newMCPPermissionService(t *testing.T, db *gorm.DB) *MCPPermissionService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewMCPPermissionService(db, audit,
		WithMCPClock(func() time.Time { return permTestNow }))
	require.NoError(t, err)
	return svc
}

func seedMCPServer(t *testing.T, db *gorm.DB, isPublic bool, tools ...string) *models.MCPServer {
	t.Helper()
	gateway := models.Gateway{Name: "orders-api", Tenant: "default", Maintainers: "admin"}
	require.NoError(t, db.Create(&gateway).Error)
	server := models.MCPServer{
		GatewayID: gateway.ID,
		Name:      "orders-tools",
		IsPublic:  isPublic,
		ToolNames: datatypes.JSONSlice[string](tools),
	}
	require.NoError(t, db.Create(&server).Error)
	return &server
}

func TestMCPApplyRejectsDuplicates(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	_, err := svc.Apply(ctx, MCPApplyInput{AppCode: "  ", MCPServerID: server.ID})
	require.Error(t, err)

	_, err = svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: 9999})
	require.ErrorIs(t, err, ErrMCPServerNotFound)

	apply, err := svc.Apply(ctx, MCPApplyInput{
		AppCode:     "demo-app",
		MCPServerID: server.ID,
		Reason:      "integration",
		AppliedBy:   "demo-app",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusPending, apply.Status)

	// A second apply while one is pending is refused.
	_, err = svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: server.ID})
	require.Error(t, err)

	// And so is applying once the app already holds a grant.
	_, err = svc.Handle(ctx, MCPHandleInput{ApplyID: apply.ID, Approve: true, HandledBy: "admin"})
	require.NoError(t, err)
	_, err = svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: server.ID})
	require.Error(t, err)
}

func TestMCPHandleApproveGrantsOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	apply, err := svc.Apply(ctx, MCPApplyInput{
		AppCode: "demo-app", MCPServerID: server.ID, AppliedBy: "demo-app",
	})
	require.NoError(t, err)

	handled, err := svc.Handle(ctx, MCPHandleInput{
		ApplyID: apply.ID, Approve: true, Comment: "ok", HandledBy: "admin",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusApproved, handled.Status)
	require.Equal(t, "admin", handled.HandledBy)
	require.NotNil(t, handled.HandledTime)
	require.True(t, handled.HandledTime.Equal(permTestNow))

	ok, err := svc.HasPermission(ctx, server.ID, "demo-app")
	require.NoError(t, err)
	require.True(t, ok)

	var grant models.MCPServerAppPermission
	require.NoError(t, db.Take(&grant, "app_code = ?", "demo-app").Error)
	require.Equal(t, models.MCPGrantTypeApply, grant.GrantType)

	// The apply row survives resolution but cannot be handled twice.
	_, err = svc.Handle(ctx, MCPHandleInput{ApplyID: apply.ID, Approve: false})
	require.ErrorIs(t, err, ErrMCPApplyResolved)

	_, err = svc.Handle(ctx, MCPHandleInput{ApplyID: 9999, Approve: true})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMCPHandleRejectLeavesNoGrant(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	apply, err := svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: server.ID})
	require.NoError(t, err)

	handled, err := svc.Handle(ctx, MCPHandleInput{
		ApplyID: apply.ID, Approve: false, Comment: "no business case", HandledBy: "admin",
	})
	require.NoError(t, err)
	require.Equal(t, models.ApplyStatusRejected, handled.Status)

	ok, err := svc.HasPermission(ctx, server.ID, "demo-app")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMCPGrantAndRevoke(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, server.ID, "demo-app", "admin"))
	// Re-granting the same pair is a no-op.
	require.NoError(t, svc.Grant(ctx, server.ID, "demo-app", "admin"))

	grants, err := svc.ListGrantedApps(ctx, server.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, models.MCPGrantTypeGrant, grants[0].GrantType)

	require.NoError(t, svc.Revoke(ctx, server.ID, "demo-app", "admin"))
	ok, err := svc.HasPermission(ctx, server.ID, "demo-app")
	require.NoError(t, err)
	require.False(t, ok)

	// Revoking a pair without a grant reports not found.
	err = svc.Revoke(ctx, server.ID, "demo-app", "admin")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMCPRevokeClearsApprovedApply(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	apply, err := svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: server.ID})
	require.NoError(t, err)
	_, err = svc.Handle(ctx, MCPHandleInput{ApplyID: apply.ID, Approve: true, HandledBy: "admin"})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, server.ID, "demo-app", "admin"))

	// The approved apply is soft-deleted, so a fresh apply goes through.
	_, err = svc.Apply(ctx, MCPApplyInput{AppCode: "demo-app", MCPServerID: server.ID})
	require.NoError(t, err)

	var rows int64
	require.NoError(t, db.Unscoped().
		Model(&models.MCPServerAppPermissionApply{}).
		Where("deleted_at IS NOT NULL").
		Count(&rows).Error)
	require.EqualValues(t, 1, rows)
}

func TestMCPPublicServerOpenToAll(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, true)

	ok, err := svc.HasPermission(context.Background(), server.ID, "any-app")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMCPListAppliesPagination(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		apply := models.MCPServerAppPermissionApply{
			AppCode:     "app-" + string(rune('a'+i)),
			MCPServerID: server.ID,
			Status:      models.ApplyStatusPending,
		}
		require.NoError(t, db.Create(&apply).Error)
	}
	require.NoError(t, db.Model(&models.MCPServerAppPermissionApply{}).
		Where("app_code = ?", "app-a").
		Update("status", models.ApplyStatusRejected).Error)

	applies, total, err := svc.ListApplies(ctx, server.ID, models.ApplyStatusPending, 1, 3)
	require.NoError(t, err)
	require.EqualValues(t, 4, total)
	require.Len(t, applies, 3)

	applies, total, err = svc.ListApplies(ctx, server.ID, "", 2, 3)
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, applies, 2)
}

func TestMCPGrantMutationsResyncResourceNames(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false, "tool-a", "tool-b")
	ctx := context.Background()

	for _, name := range []string{"tool-a", "tool-b"} {
		require.NoError(t, db.Create(&models.Resource{
			GatewayID: server.GatewayID,
			Name:      name,
			Method:    "GET",
			Path:      "/" + name,
		}).Error)
	}
	require.NoError(t, db.Model(&models.MCPServer{}).
		Where("id = ?", server.ID).
		Update("resource_names", datatypes.JSONSlice[string]{"tool-a", "tool-b"}).Error)

	reload := func() []string {
		var current models.MCPServer
		require.NoError(t, db.Take(&current, "id = ?", server.ID).Error)
		return []string(current.ResourceNames)
	}

	// Approving an apply after a backing resource was deleted must drop the
	// stale name from the list.
	apply, err := svc.Apply(ctx, MCPApplyInput{
		AppCode: "demo-app", MCPServerID: server.ID, AppliedBy: "demo-app",
	})
	require.NoError(t, err)
	require.NoError(t, db.Where("gateway_id = ? AND name = ?", server.GatewayID, "tool-a").
		Delete(&models.Resource{}).Error)

	_, err = svc.Handle(ctx, MCPHandleInput{ApplyID: apply.ID, Approve: true, HandledBy: "admin"})
	require.NoError(t, err)
	require.Equal(t, []string{"tool-b"}, reload())

	// Direct grant resyncs too.
	require.NoError(t, db.Where("gateway_id = ? AND name = ?", server.GatewayID, "tool-b").
		Delete(&models.Resource{}).Error)
	require.NoError(t, svc.Grant(ctx, server.ID, "other-app", "admin"))
	require.Empty(t, reload())

	// And so does revoke.
	require.NoError(t, db.Create(&models.Resource{
		GatewayID: server.GatewayID,
		Name:      "tool-a",
		Method:    "GET",
		Path:      "/tool-a",
	}).Error)
	require.NoError(t, svc.Revoke(ctx, server.ID, "other-app", "admin"))
	require.Equal(t, []string{"tool-a"}, reload())
}

func TestMCPSyncResourceNamesDropsDeleted(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newMCPPermissionService(t, db)
	server := seedMCPServer(t, db, false, "list-orders", "get-order")
	ctx := context.Background()

	resource := models.Resource{
		GatewayID: server.GatewayID,
		Name:      "list-orders",
		Method:    "GET",
		Path:      "/orders",
	}
	require.NoError(t, db.Create(&resource).Error)

	require.NoError(t, svc.SyncResourceNames(ctx, server.ID))

	var reloaded models.MCPServer
	require.NoError(t, db.Take(&reloaded, "id = ?", server.ID).Error)
	require.Equal(t, []string{"list-orders"}, []string(reloaded.ResourceNames))
}
