package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/pkg/response"
)

// MonitoringHandler exposes the aggregated runtime summary to admins.
type MonitoringHandler struct{}

func NewMonitoringHandler() *MonitoringHandler {
	return &MonitoringHandler{}
}

// GET /api/monitoring/summary
func (h *MonitoringHandler) Summary(c *gin.Context) {
	response.Success(c, http.StatusOK, monitoring.Snapshot())
}
