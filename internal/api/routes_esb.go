package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/handlers"
)

// registerESBRoutes mounts the read-only component registry. Writes happen
// exclusively through the esb-sync command.
func registerESBRoutes(api *gin.RouterGroup, db *gorm.DB) error {
	handler, err := handlers.NewESBHandler(db)
	if err != nil {
		return err
	}

	esb := api.Group("/esb")
	{
		esb.GET("/systems", handler.ListSystems)
		esb.GET("/systems/:system_name/components", handler.ListComponents)
		esb.GET("/systems/:system_name/components/:component_name", handler.GetComponent)
	}
	return nil
}
