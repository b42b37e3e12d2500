package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitewall/apigate/internal/app"
)

func TestConvertDatabaseConfigNormalisesDrivers(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = ""
	require.Equal(t, "sqlite", convertDatabaseConfig(cfg).Driver)

	cfg.Database.Driver = " PostgreSQL "
	cfg.Database.Postgres.Host = " db.internal "
	cfg.Database.Postgres.Port = 5432
	cfg.Database.Postgres.Database = "apigate"
	cfg.Database.Postgres.Username = "svc"
	cfg.Database.Postgres.Password = "secret"

	converted := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", converted.Driver)
	require.Equal(t, "db.internal", converted.Host)
	require.Equal(t, 5432, converted.Port)
	require.Equal(t, "apigate", converted.Name)
	require.Equal(t, "svc", converted.User)
	require.Equal(t, "secret", converted.Password)

	cfg.Database.Driver = "mysql"
	cfg.Database.MySQL.Host = "mysql.internal"
	cfg.Database.MySQL.Port = 3306
	cfg.Database.MySQL.Database = "apigate"
	cfg.Database.MySQL.Username = "svc"
	cfg.Database.MySQL.Password = "secret"

	converted = convertDatabaseConfig(cfg)
	require.Equal(t, "mysql", converted.Driver)
	require.Equal(t, "mysql.internal", converted.Host)
	require.Equal(t, 3306, converted.Port)
}

func TestConvertDatabaseConfigKeepsUnknownDriver(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "oracle"

	converted := convertDatabaseConfig(cfg)
	require.Equal(t, "oracle", converted.Driver)
}

func TestEnsureSecretsPresentRequiresJWTSecret(t *testing.T) {
	require.Error(t, ensureSecretsPresent(nil))

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "   "
	require.Error(t, ensureSecretsPresent(cfg))

	cfg.Auth.JWT.Secret = "  super-secret  "
	require.NoError(t, ensureSecretsPresent(cfg))
	require.Equal(t, "super-secret", cfg.Auth.JWT.Secret)
}

func TestLoadApplicationConfigRejectsMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/a/real/path")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
