package database

import (
	"encoding/json"

	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Gateway{},
		&models.Stage{},
		&models.Backend{},
		&models.Resource{},
		&models.PluginType{},
		&models.PluginBinding{},
		&models.ResourceVersion{},
		&models.Release{},
		&models.AppPermissionApply{},
		&models.AppPermissionRecord{},
		&models.AppGatewayPermission{},
		&models.AppResourcePermission{},
		&models.MCPServer{},
		&models.MCPServerAppPermission{},
		&models.MCPServerAppPermissionApply{},
		&models.ComponentSystem{},
		&models.ESBComponent{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.NamedLock{},
	)
}

// SeedData populates the built-in plugin type catalog.
func SeedData(db *gorm.DB) error {
	for _, plugin := range defaultPluginTypes() {
		err := db.Where(models.PluginType{Code: plugin.Code}).
			Attrs(plugin).
			FirstOrCreate(&models.PluginType{}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func defaultPluginTypes() []models.PluginType {
	schema := func(v map[string]any) []byte {
		data, _ := json.Marshal(v)
		return data
	}

	return []models.PluginType{
		{
			Code: "rate-limit",
			Name: "Rate Limit",
			Schema: schema(map[string]any{
				"type":     "object",
				"required": []string{"rates"},
			}),
		},
		{
			Code: "ip-restriction",
			Name: "IP Restriction",
			Schema: schema(map[string]any{
				"type": "object",
			}),
		},
		{
			Code: "cors",
			Name: "CORS",
			Schema: schema(map[string]any{
				"type": "object",
			}),
		},
		{
			Code: "header-rewrite",
			Name: "Header Rewrite",
			Schema: schema(map[string]any{
				"type": "object",
			}),
		},
	}
}
