package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/handlers"
	"github.com/kitewall/apigate/internal/locks"
	"github.com/kitewall/apigate/internal/realtime"
	"github.com/kitewall/apigate/internal/services"
)

// registerGatewayRoutes mounts gateway CRUD plus the nested stage, backend,
// resource, plugin and release surfaces. Everything below /:gateway_id is
// restricted to the gateway's maintainers.
func registerGatewayRoutes(api *gin.RouterGroup, db *gorm.DB, audit *services.AuditService, lockManager *locks.Manager, hub *realtime.Hub, maintainer gin.HandlerFunc) error {
	gatewayHandler, err := handlers.NewGatewayHandler(db, audit)
	if err != nil {
		return err
	}
	resourceHandler, err := handlers.NewResourceHandler(db, audit)
	if err != nil {
		return err
	}
	releaseHandler, err := handlers.NewReleaseHandler(db, lockManager, audit, hub)
	if err != nil {
		return err
	}

	gateways := api.Group("/gateways")
	gateways.POST("", gatewayHandler.Create)
	gateways.GET("", gatewayHandler.List)

	gw := gateways.Group("/:gateway_id", maintainer)
	{
		gw.GET("", gatewayHandler.Get)
		gw.PUT("", gatewayHandler.Update)
		gw.DELETE("", gatewayHandler.Delete)

		gw.POST("/stages", gatewayHandler.CreateStage)
		gw.GET("/stages", gatewayHandler.ListStages)
		gw.PUT("/stages/:stage_id/vars", gatewayHandler.UpdateStageVars)
		gw.DELETE("/stages/:stage_id", gatewayHandler.DeleteStage)
		gw.GET("/stages/:stage_id/release", releaseHandler.GetStageRelease)

		gw.POST("/backends", gatewayHandler.CreateBackend)
		gw.GET("/backends", gatewayHandler.ListBackends)
		gw.DELETE("/backends/:backend_id", gatewayHandler.DeleteBackend)

		gw.POST("/resources", resourceHandler.Create)
		gw.GET("/resources", resourceHandler.List)
		gw.GET("/resources/:resource_id", resourceHandler.Get)
		gw.PUT("/resources/:resource_id", resourceHandler.Update)
		gw.DELETE("/resources/:resource_id", resourceHandler.Delete)

		gw.POST("/plugin-bindings", resourceHandler.BindPlugin)
		gw.GET("/plugin-bindings", resourceHandler.ListPluginBindings)
		gw.DELETE("/plugin-bindings/:binding_id", resourceHandler.UnbindPlugin)

		gw.POST("/versions", releaseHandler.CreateVersion)
		gw.GET("/versions", releaseHandler.ListVersions)
		gw.GET("/versions/:version_id", releaseHandler.GetVersion)
		gw.POST("/releases", releaseHandler.Release)
	}

	api.GET("/plugin-types", resourceHandler.ListPluginTypes)

	return nil
}
