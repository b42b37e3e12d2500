package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/locks"
	"github.com/kitewall/apigate/internal/models"
)

func newReleaseService(t *testing.T, db *gorm.DB) *ReleaseService {
	t.Helper()
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	lockManager, err := locks.NewManager(db)
	require.NoError(t, err)
	svc, err := NewReleaseService(db, lockManager, audit, nil)
	require.NoError(t, err)
	return svc
}

func seedReleaseFixture(t *testing.T, db *gorm.DB) (*models.Gateway, *models.Stage, []models.Resource) {
	t.Helper()
	gateway, resources := seedPermissionGateway(t, db, 2)
	stage := &models.Stage{GatewayID: gateway.ID, Name: "prod"}
	require.NoError(t, db.Create(stage).Error)
	return gateway, stage, resources
}

func TestCreateVersionFreezesSnapshot(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newReleaseService(t, db)
	gateway, _, resources := seedReleaseFixture(t, db)
	ctx := context.Background()

	version, err := svc.CreateVersion(ctx, CreateVersionInput{
		GatewayID: gateway.ID,
		Version:   "1.0.0",
		Comment:   "initial",
		CreatedBy: "admin",
	})
	require.NoError(t, err)

	// Later edits must not leak into the stored snapshot.
	require.NoError(t, db.Model(&models.Resource{}).
		Where("id = ?", resources[0].ID).
		Update("path", "/changed").Error)

	reloaded, err := svc.GetVersion(ctx, gateway.ID, version.ID)
	require.NoError(t, err)

	var snapshot []models.Resource
	require.NoError(t, json.Unmarshal(reloaded.Snapshot, &snapshot))
	require.Len(t, snapshot, 2)
	require.NotEqual(t, "/changed", snapshot[0].Path)

	_, err = svc.CreateVersion(ctx, CreateVersionInput{GatewayID: gateway.ID, Version: "1.0.0"})
	require.Error(t, err)
}

func TestCreateVersionRejectsEmptyGateway(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newReleaseService(t, db)
	gateway, _ := seedPermissionGateway(t, db, 0)

	_, err := svc.CreateVersion(context.Background(), CreateVersionInput{
		GatewayID: gateway.ID,
		Version:   "1.0.0",
	})
	require.ErrorIs(t, err, ErrEmptySnapshot)
}

func TestReleaseActivatesStageAndReplacesInPlace(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newReleaseService(t, db)
	gateway, stage, _ := seedReleaseFixture(t, db)
	ctx := context.Background()

	v1, err := svc.CreateVersion(ctx, CreateVersionInput{GatewayID: gateway.ID, Version: "1.0.0"})
	require.NoError(t, err)
	v2, err := svc.CreateVersion(ctx, CreateVersionInput{GatewayID: gateway.ID, Version: "1.1.0"})
	require.NoError(t, err)

	_, err = svc.Release(ctx, ReleaseInput{
		GatewayID:         gateway.ID,
		StageID:           stage.ID,
		ResourceVersionID: v1.ID,
		ReleasedBy:        "admin",
	})
	require.NoError(t, err)

	var reloadedStage models.Stage
	require.NoError(t, db.Take(&reloadedStage, "id = ?", stage.ID).Error)
	require.Equal(t, models.StageStatusActive, reloadedStage.Status)

	_, err = svc.Release(ctx, ReleaseInput{
		GatewayID:         gateway.ID,
		StageID:           stage.ID,
		ResourceVersionID: v2.ID,
		ReleasedBy:        "admin",
	})
	require.NoError(t, err)

	// One live release per stage; re-releasing swaps the bound version.
	var releases []models.Release
	require.NoError(t, db.Where("stage_id = ?", stage.ID).Find(&releases).Error)
	require.Len(t, releases, 1)
	require.Equal(t, v2.ID, releases[0].ResourceVersionID)

	live, err := svc.GetStageRelease(ctx, gateway.ID, stage.ID)
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, v2.ID, live.ResourceVersionID)
}

func TestReleaseValidatesVersionAndStage(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newReleaseService(t, db)
	gateway, stage, _ := seedReleaseFixture(t, db)
	ctx := context.Background()

	_, err := svc.Release(ctx, ReleaseInput{
		GatewayID:         gateway.ID,
		StageID:           stage.ID,
		ResourceVersionID: 9999,
	})
	require.ErrorIs(t, err, ErrResourceVersionNotFound)

	version, err := svc.CreateVersion(ctx, CreateVersionInput{GatewayID: gateway.ID, Version: "1.0.0"})
	require.NoError(t, err)

	_, err = svc.Release(ctx, ReleaseInput{
		GatewayID:         gateway.ID,
		StageID:           9999,
		ResourceVersionID: version.ID,
	})
	require.ErrorIs(t, err, ErrStageNotFound)
}

func TestGetStageReleaseNilWhenNeverReleased(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc := newReleaseService(t, db)
	gateway, stage, _ := seedReleaseFixture(t, db)

	live, err := svc.GetStageRelease(context.Background(), gateway.ID, stage.ID)
	require.NoError(t, err)
	require.Nil(t, live)
}
