package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitewall/apigate/internal/models"
)

func TestAutoMigrateCreatesPermissionTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.AppPermissionApply{},
		&models.AppPermissionRecord{},
		&models.AppGatewayPermission{},
		&models.AppResourcePermission{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}

func TestAutoMigrateCreatesGatewayTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.Gateway{},
		&models.Stage{},
		&models.Backend{},
		&models.Resource{},
		&models.ResourceVersion{},
		&models.Release{},
		&models.MCPServer{},
		&models.ESBComponent{},
		&models.NamedLock{},
	}

	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T to exist", table)
	}
}
