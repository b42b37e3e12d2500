package api

import (
	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/handlers"
)

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler, admin gin.HandlerFunc) {
	if api == nil || handler == nil {
		return
	}

	group := api.Group("/monitoring")
	group.GET("/summary", admin, handler.Summary)
}
