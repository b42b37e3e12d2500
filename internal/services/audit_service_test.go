package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
)

func TestAuditLogRequiresActionAndResult(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, svc.Log(ctx, AuditEntry{Result: "success"}))
	require.Error(t, svc.Log(ctx, AuditEntry{Action: "gateway.create"}))

	require.NoError(t, svc.Log(ctx, AuditEntry{
		Operator: "admin",
		Action:   "gateway.create",
		Resource: "gateway/1",
		Result:   "success",
		Metadata: map[string]any{"name": "orders-api"},
	}))

	var row models.AuditLog
	require.NoError(t, db.Take(&row).Error)
	require.NotEmpty(t, row.ID)
	require.JSONEq(t, `{"name": "orders-api"}`, row.Metadata)
}

func TestAuditListFilters(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	entries := []AuditEntry{
		{Operator: "admin", GatewayID: 1, Action: "gateway.create", Result: "success"},
		{Operator: "admin", GatewayID: 1, Action: "gateway.delete", Result: "failure"},
		{Operator: "ops", GatewayID: 2, Action: "gateway.create", Result: "success"},
	}
	for _, entry := range entries {
		require.NoError(t, svc.Log(ctx, entry))
	}

	logs, total, err := svc.List(ctx, AuditListOptions{
		Filters: AuditFilters{Operator: "admin"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{
		Filters: AuditFilters{Action: "gateway.create", Result: "success", GatewayID: 2},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "ops", logs[0].Operator)

	future := time.Now().Add(time.Hour)
	_, total, err = svc.List(ctx, AuditListOptions{
		Filters: AuditFilters{Since: &future},
	})
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestAuditCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.CleanupOlderThan(ctx, 0)
	require.Error(t, err)

	old := models.AuditLog{Operator: "admin", Action: "gateway.create", Result: "success"}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().AddDate(0, 0, -120)).Error)

	fresh := models.AuditLog{Operator: "admin", Action: "gateway.update", Result: "success"}
	require.NoError(t, db.Create(&fresh).Error)

	removed, err := svc.CleanupOlderThan(ctx, 90)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}
