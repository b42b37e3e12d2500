package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// ResourceHandler serves resource CRUD and plugin bindings.
type ResourceHandler struct {
	resources *services.ResourceService
	plugins   *services.PluginService
}

func NewResourceHandler(db *gorm.DB, audit *services.AuditService) (*ResourceHandler, error) {
	resources, err := services.NewResourceService(db, audit)
	if err != nil {
		return nil, err
	}
	plugins, err := services.NewPluginService(db, audit)
	if err != nil {
		return nil, err
	}
	return &ResourceHandler{resources: resources, plugins: plugins}, nil
}

type resourceRequest struct {
	Name                 string `json:"name" validate:"required,min=1,max=256"`
	Description          string `json:"description" validate:"max=512"`
	Method               string `json:"method" validate:"required"`
	Path                 string `json:"path" validate:"required"`
	MatchSubpath         bool   `json:"match_subpath"`
	BackendID            int64  `json:"backend_id"`
	IsPublic             bool   `json:"is_public"`
	AllowApplyPermission bool   `json:"allow_apply_permission"`
}

type bindPluginRequest struct {
	ScopeType string          `json:"scope_type" validate:"required"`
	ScopeID   int64           `json:"scope_id" validate:"required"`
	TypeCode  string          `json:"type_code" validate:"required"`
	Config    json.RawMessage `json:"config"`
}

func (r resourceRequest) toInput() services.ResourceInput {
	return services.ResourceInput{
		Name:                 r.Name,
		Description:          r.Description,
		Method:               r.Method,
		Path:                 r.Path,
		MatchSubpath:         r.MatchSubpath,
		BackendID:            r.BackendID,
		IsPublic:             r.IsPublic,
		AllowApplyPermission: r.AllowApplyPermission,
	}
}

// POST /api/gateways/:gateway_id/resources
func (h *ResourceHandler) Create(c *gin.Context) {
	var req resourceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resource, err := h.resources.Create(requestContext(c), pathID(c, "gateway_id"), req.toInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, resource)
}

// GET /api/gateways/:gateway_id/resources
func (h *ResourceHandler) List(c *gin.Context) {
	resources, err := h.resources.List(requestContext(c), pathID(c, "gateway_id"), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resources)
}

// GET /api/gateways/:gateway_id/resources/:resource_id
func (h *ResourceHandler) Get(c *gin.Context) {
	resource, err := h.resources.Get(requestContext(c), pathID(c, "gateway_id"), pathID(c, "resource_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resource)
}

// PUT /api/gateways/:gateway_id/resources/:resource_id
func (h *ResourceHandler) Update(c *gin.Context) {
	var req resourceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resource, err := h.resources.Update(requestContext(c),
		pathID(c, "gateway_id"), pathID(c, "resource_id"), req.toInput())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, resource)
}

// DELETE /api/gateways/:gateway_id/resources/:resource_id
func (h *ResourceHandler) Delete(c *gin.Context) {
	err := h.resources.Delete(requestContext(c),
		pathID(c, "gateway_id"), pathID(c, "resource_id"),
		c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/plugin-types
func (h *ResourceHandler) ListPluginTypes(c *gin.Context) {
	types, err := h.plugins.ListTypes(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, types)
}

// POST /api/gateways/:gateway_id/plugin-bindings
func (h *ResourceHandler) BindPlugin(c *gin.Context) {
	var req bindPluginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	binding, err := h.plugins.Bind(requestContext(c), services.BindPluginInput{
		GatewayID: pathID(c, "gateway_id"),
		ScopeType: req.ScopeType,
		ScopeID:   req.ScopeID,
		TypeCode:  req.TypeCode,
		Config:    req.Config,
		BoundBy:   c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, binding)
}

// GET /api/gateways/:gateway_id/plugin-bindings
func (h *ResourceHandler) ListPluginBindings(c *gin.Context) {
	scopeType := c.DefaultQuery("scope_type", "gateway")
	scopeID := pathID(c, "gateway_id")
	if raw := c.Query("scope_id"); raw != "" {
		scopeID = queryID(raw)
	}

	bindings, err := h.plugins.ListBindings(requestContext(c), scopeType, scopeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, bindings)
}

// DELETE /api/gateways/:gateway_id/plugin-bindings/:binding_id
func (h *ResourceHandler) UnbindPlugin(c *gin.Context) {
	err := h.plugins.Unbind(requestContext(c),
		pathID(c, "gateway_id"), pathID(c, "binding_id"),
		c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
