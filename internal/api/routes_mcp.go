package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/handlers"
	"github.com/kitewall/apigate/internal/services"
)

// registerMCPRoutes mounts MCP server management under the owning gateway
// and the server-scoped permission workflow. Server CRUD follows the gateway
// maintainer rule; resolving applies and revoking grants is admin-only since
// the server routes carry no gateway context.
func registerMCPRoutes(api *gin.RouterGroup, servers *services.MCPServerService, perms *services.MCPPermissionService, maintainer, admin gin.HandlerFunc) {
	handler := handlers.NewMCPHandler(servers, perms)

	managed := api.Group("/gateways/:gateway_id/mcp-servers", maintainer)
	{
		managed.POST("", handler.CreateServer)
		managed.GET("", handler.ListServers)
		managed.PUT("/:server_id", handler.UpdateServer)
		managed.DELETE("/:server_id", handler.DeleteServer)
	}

	scoped := api.Group("/mcp-servers/:server_id/permissions")
	{
		scoped.POST("/apply", handler.Apply)
		scoped.GET("", handler.ListGrants)

		scoped.GET("/applies", admin, handler.ListApplies)
		scoped.POST("/applies/:apply_id", admin, handler.Handle)
		scoped.POST("/grant", admin, handler.Grant)
		scoped.DELETE("/:app_code", admin, handler.Revoke)
	}
}
