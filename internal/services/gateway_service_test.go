package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
	apperrors "github.com/kitewall/apigate/pkg/errors"
)

func newGatewayService(t *testing.T, db *gorm.DB) *GatewayService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewGatewayService(db, audit)
	require.NoError(t, err)
	return svc
}

func TestCreateGatewaySeedsProdStage(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)

	gateway, err := svc.Create(context.Background(), CreateGatewayInput{
		Name:        "orders-api",
		Tenant:      "retail",
		Maintainers: []string{"admin", "ops"},
		CreatedBy:   "admin",
	})
	require.NoError(t, err)
	require.Equal(t, "retail", gateway.Tenant)
	require.Equal(t, "admin;ops", gateway.Maintainers)
	require.Equal(t, models.GatewayStatusActive, gateway.Status)

	var stage models.Stage
	require.NoError(t, db.Take(&stage, "gateway_id = ?", gateway.ID).Error)
	require.Equal(t, "prod", stage.Name)
	require.Equal(t, models.StageStatusInactive, stage.Status)

	var audits int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", "gateway.create").Count(&audits).Error)
	require.EqualValues(t, 1, audits)
}

func TestCreateGatewayValidation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateGatewayInput{Name: "  ", Maintainers: []string{"admin"}})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateGatewayInput{Name: "orders-api"})
	require.Error(t, err)

	_, err = svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 409, appErr.StatusCode)
}

func TestGatewayListFilters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	for _, spec := range []struct{ name, tenant string }{
		{"orders-api", "retail"},
		{"billing-api", "finance"},
		{"orders-internal", "retail"},
	} {
		_, err := svc.Create(ctx, CreateGatewayInput{
			Name:        spec.name,
			Tenant:      spec.tenant,
			Maintainers: []string{"admin"},
		})
		require.NoError(t, err)
	}

	byTenant, err := svc.List(ctx, "retail", "")
	require.NoError(t, err)
	require.Len(t, byTenant, 2)

	byName, err := svc.List(ctx, "", "orders")
	require.NoError(t, err)
	require.Len(t, byName, 2)

	all, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Sorted by name.
	require.Equal(t, "billing-api", all[0].Name)
}

func TestGatewayUpdatePartial(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	gateway, err := svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	require.NoError(t, err)

	desc := "order routing"
	updated, err := svc.Update(ctx, gateway.ID, UpdateGatewayInput{Description: &desc}, "admin")
	require.NoError(t, err)
	require.Equal(t, "order routing", updated.Description)
	// Untouched fields survive.
	require.Equal(t, "admin", updated.Maintainers)

	_, err = svc.Update(ctx, gateway.ID, UpdateGatewayInput{Maintainers: []string{}}, "admin")
	require.Error(t, err)

	_, err = svc.Update(ctx, 9999, UpdateGatewayInput{Description: &desc}, "admin")
	require.ErrorIs(t, err, ErrGatewayNotFound)
}

func TestGatewayDeleteGuardsLiveReleases(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	gateway, err := svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	require.NoError(t, err)

	var stage models.Stage
	require.NoError(t, db.Take(&stage, "gateway_id = ?", gateway.ID).Error)
	version := models.ResourceVersion{GatewayID: gateway.ID, Version: "1.0.0"}
	require.NoError(t, db.Create(&version).Error)
	require.NoError(t, db.Create(&models.Release{
		GatewayID:         gateway.ID,
		StageID:           stage.ID,
		ResourceVersionID: version.ID,
	}).Error)

	err = svc.Delete(ctx, gateway.ID, "admin")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, 409, appErr.StatusCode)

	require.NoError(t, db.Where("gateway_id = ?", gateway.ID).Delete(&models.Release{}).Error)
	require.NoError(t, svc.Delete(ctx, gateway.ID, "admin"))

	var stages int64
	require.NoError(t, db.Model(&models.Stage{}).Where("gateway_id = ?", gateway.ID).Count(&stages).Error)
	require.Zero(t, stages)
}

func TestStageLifecycle(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	gateway, err := svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	require.NoError(t, err)

	stage, err := svc.CreateStage(ctx, gateway.ID, StageInput{
		Name: "test",
		Vars: map[string]string{"region": "eu"},
	})
	require.NoError(t, err)

	_, err = svc.CreateStage(ctx, gateway.ID, StageInput{Name: "test"})
	require.Error(t, err)

	stages, err := svc.ListStages(ctx, gateway.ID)
	require.NoError(t, err)
	require.Len(t, stages, 2) // prod + test

	updated, err := svc.UpdateStageVars(ctx, gateway.ID, stage.ID, map[string]string{"region": "us"})
	require.NoError(t, err)

	reloaded, err := svc.GetStage(ctx, gateway.ID, updated.ID)
	require.NoError(t, err)
	require.Equal(t, "us", reloaded.Vars["region"])

	require.NoError(t, svc.DeleteStage(ctx, gateway.ID, stage.ID))
	_, err = svc.GetStage(ctx, gateway.ID, stage.ID)
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestBackendLifecycle(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newGatewayService(t, db)
	ctx := context.Background()

	gateway, err := svc.Create(ctx, CreateGatewayInput{Name: "orders-api", Maintainers: []string{"admin"}})
	require.NoError(t, err)

	backend, err := svc.CreateBackend(ctx, gateway.ID, BackendInput{
		Name:  "upstream",
		Hosts: []string{"http://orders.internal:8080"},
	})
	require.NoError(t, err)
	require.Equal(t, 30, backend.TimeoutSeconds)

	_, err = svc.CreateBackend(ctx, gateway.ID, BackendInput{Name: "no-hosts"})
	require.Error(t, err)

	// A referenced backend cannot be removed.
	require.NoError(t, db.Create(&models.Resource{
		GatewayID: gateway.ID,
		BackendID: backend.ID,
		Name:      "get_orders",
		Method:    "GET",
		Path:      "/orders",
	}).Error)
	require.Error(t, svc.DeleteBackend(ctx, gateway.ID, backend.ID))

	require.NoError(t, db.Where("gateway_id = ?", gateway.ID).Delete(&models.Resource{}).Error)
	require.NoError(t, svc.DeleteBackend(ctx, gateway.ID, backend.ID))
	require.ErrorIs(t, svc.DeleteBackend(ctx, gateway.ID, backend.ID), ErrBackendNotFound)
}
