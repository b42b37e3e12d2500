package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/handlers"
	"github.com/kitewall/apigate/internal/services"
)

// registerPermissionRoutes mounts the app permission workflow. Apps submit
// applies and check status on their own; resolving applies, direct grants,
// renewal and the audit trail require the gateway's maintainers.
func registerPermissionRoutes(api *gin.RouterGroup, svc *services.AppPermissionService, maintainer gin.HandlerFunc) {
	handler := handlers.NewPermissionHandler(svc)

	perms := api.Group("/gateways/:gateway_id/permissions")
	{
		// App-facing
		perms.POST("/apply", handler.Apply)
		perms.GET("/app/:app_code", handler.ListAppPermissions)
		perms.GET("/app/:app_code/status", handler.Status)
		perms.GET("/app/:app_code/applies/:apply_id", handler.GetApply)

		// Maintainer-facing
		perms.GET("/applies", maintainer, handler.ListApplies)
		perms.POST("/applies/:apply_id", maintainer, handler.Handle)
		perms.POST("/grant", maintainer, handler.Grant)
		perms.POST("/renew", maintainer, handler.Renew)
		perms.GET("/records", maintainer, handler.ListRecords)
	}
}
