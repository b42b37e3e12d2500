package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// ESBHandler serves read-only queries over the legacy component registry.
// Writes go through the esb-sync command, never the API.
type ESBHandler struct {
	svc *services.ESBService
}

func NewESBHandler(db *gorm.DB) (*ESBHandler, error) {
	svc, err := services.NewESBService(db)
	if err != nil {
		return nil, err
	}
	return &ESBHandler{svc: svc}, nil
}

// GET /api/esb/systems
func (h *ESBHandler) ListSystems(c *gin.Context) {
	systems, err := h.svc.ListSystems(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, systems)
}

// GET /api/esb/systems/:system_name/components
func (h *ESBHandler) ListComponents(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"
	components, err := h.svc.ListComponents(requestContext(c), c.Param("system_name"), includeInactive)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, components)
}

// GET /api/esb/systems/:system_name/components/:component_name
func (h *ESBHandler) GetComponent(c *gin.Context) {
	component, err := h.svc.GetComponent(requestContext(c),
		c.Param("system_name"), c.Param("component_name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, component)
}
