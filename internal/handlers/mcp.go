package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// MCPHandler serves MCP server CRUD and the MCP permission variant.
type MCPHandler struct {
	servers     *services.MCPServerService
	permissions *services.MCPPermissionService
}

func NewMCPHandler(servers *services.MCPServerService, permissions *services.MCPPermissionService) *MCPHandler {
	return &MCPHandler{servers: servers, permissions: permissions}
}

type mcpServerRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=128"`
	Description string   `json:"description" validate:"max=512"`
	IsPublic    bool     `json:"is_public"`
	ToolNames   []string `json:"tool_names"`
}

type mcpApplyRequest struct {
	AppCode string `json:"app_code" validate:"required,min=1,max=64"`
	Reason  string `json:"reason" validate:"max=512"`
}

type mcpHandleRequest struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment" validate:"max=512"`
}

type mcpGrantRequest struct {
	AppCode string `json:"app_code" validate:"required,min=1,max=64"`
}

// POST /api/gateways/:gateway_id/mcp-servers
func (h *MCPHandler) CreateServer(c *gin.Context) {
	var req mcpServerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	server, err := h.servers.Create(requestContext(c), pathID(c, "gateway_id"), services.MCPServerInput{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		ToolNames:   req.ToolNames,
	}, c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, server)
}

// GET /api/gateways/:gateway_id/mcp-servers
func (h *MCPHandler) ListServers(c *gin.Context) {
	servers, err := h.servers.List(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, servers)
}

// PUT /api/gateways/:gateway_id/mcp-servers/:server_id
func (h *MCPHandler) UpdateServer(c *gin.Context) {
	var req mcpServerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	server, err := h.servers.Update(requestContext(c), pathID(c, "server_id"), services.MCPServerInput{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		ToolNames:   req.ToolNames,
	}, c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, server)
}

// DELETE /api/gateways/:gateway_id/mcp-servers/:server_id
func (h *MCPHandler) DeleteServer(c *gin.Context) {
	err := h.servers.Delete(requestContext(c), pathID(c, "server_id"),
		c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/mcp-servers/:server_id/permissions/apply
func (h *MCPHandler) Apply(c *gin.Context) {
	var req mcpApplyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	apply, err := h.permissions.Apply(requestContext(c), services.MCPApplyInput{
		AppCode:     req.AppCode,
		MCPServerID: pathID(c, "server_id"),
		Reason:      req.Reason,
		AppliedBy:   c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, apply)
}

// POST /api/mcp-servers/:server_id/permissions/applies/:apply_id
func (h *MCPHandler) Handle(c *gin.Context) {
	var req mcpHandleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	apply, err := h.permissions.Handle(requestContext(c), services.MCPHandleInput{
		ApplyID:   pathID(c, "apply_id"),
		Approve:   req.Approve,
		Comment:   req.Comment,
		HandledBy: c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, apply)
}

// GET /api/mcp-servers/:server_id/permissions/applies
func (h *MCPHandler) ListApplies(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	applies, total, err := h.permissions.ListApplies(requestContext(c),
		pathID(c, "server_id"), c.Query("status"), page, perPage)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, applies,
		&response.Meta{Page: page, PerPage: perPage, Total: int(total)})
}

// POST /api/mcp-servers/:server_id/permissions/grant
func (h *MCPHandler) Grant(c *gin.Context) {
	var req mcpGrantRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.permissions.Grant(requestContext(c), pathID(c, "server_id"),
		req.AppCode, c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"granted": true})
}

// DELETE /api/mcp-servers/:server_id/permissions/:app_code
func (h *MCPHandler) Revoke(c *gin.Context) {
	err := h.permissions.Revoke(requestContext(c), pathID(c, "server_id"),
		c.Param("app_code"), c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/mcp-servers/:server_id/permissions
func (h *MCPHandler) ListGrants(c *gin.Context) {
	grants, err := h.permissions.ListGrantedApps(requestContext(c), pathID(c, "server_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, grants)
}
