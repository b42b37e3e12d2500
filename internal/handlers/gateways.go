package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// GatewayHandler serves gateway, stage and backend CRUD.
type GatewayHandler struct {
	svc *services.GatewayService
}

func NewGatewayHandler(db *gorm.DB, audit *services.AuditService) (*GatewayHandler, error) {
	svc, err := services.NewGatewayService(db, audit)
	if err != nil {
		return nil, err
	}
	return &GatewayHandler{svc: svc}, nil
}

type createGatewayRequest struct {
	Name        string   `json:"name" validate:"required,min=3,max=64"`
	Description string   `json:"description" validate:"max=512"`
	Tenant      string   `json:"tenant" validate:"max=32"`
	Maintainers []string `json:"maintainers" validate:"required,min=1"`
	IsPublic    bool     `json:"is_public"`
}

type updateGatewayRequest struct {
	Description *string  `json:"description" validate:"omitempty,max=512"`
	Maintainers []string `json:"maintainers"`
	IsPublic    *bool    `json:"is_public"`
	Status      *int     `json:"status"`
}

type stageRequest struct {
	Name        string            `json:"name" validate:"required,min=1,max=64"`
	Description string            `json:"description" validate:"max=512"`
	Vars        map[string]string `json:"vars"`
}

type backendRequest struct {
	Name           string   `json:"name" validate:"required,min=1,max=64"`
	Description    string   `json:"description" validate:"max=512"`
	Hosts          []string `json:"hosts" validate:"required,min=1"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// POST /api/gateways
func (h *GatewayHandler) Create(c *gin.Context) {
	var req createGatewayRequest
	if !bindAndValidate(c, &req) {
		return
	}

	gateway, err := h.svc.Create(requestContext(c), services.CreateGatewayInput{
		Name:        req.Name,
		Description: req.Description,
		Tenant:      req.Tenant,
		Maintainers: req.Maintainers,
		IsPublic:    req.IsPublic,
		CreatedBy:   c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gateway)
}

// GET /api/gateways
func (h *GatewayHandler) List(c *gin.Context) {
	gateways, err := h.svc.List(requestContext(c), c.Query("tenant"), c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gateways)
}

// GET /api/gateways/:gateway_id
func (h *GatewayHandler) Get(c *gin.Context) {
	gateway, err := h.svc.Get(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gateway)
}

// PUT /api/gateways/:gateway_id
func (h *GatewayHandler) Update(c *gin.Context) {
	var req updateGatewayRequest
	if !bindAndValidate(c, &req) {
		return
	}

	gateway, err := h.svc.Update(requestContext(c), pathID(c, "gateway_id"), services.UpdateGatewayInput{
		Description: req.Description,
		Maintainers: req.Maintainers,
		IsPublic:    req.IsPublic,
		Status:      req.Status,
	}, c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gateway)
}

// DELETE /api/gateways/:gateway_id
func (h *GatewayHandler) Delete(c *gin.Context) {
	err := h.svc.Delete(requestContext(c), pathID(c, "gateway_id"), c.GetString(middleware.CtxOperatorKey))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/gateways/:gateway_id/stages
func (h *GatewayHandler) CreateStage(c *gin.Context) {
	var req stageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	stage, err := h.svc.CreateStage(requestContext(c), pathID(c, "gateway_id"), services.StageInput{
		Name:        req.Name,
		Description: req.Description,
		Vars:        req.Vars,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, stage)
}

// GET /api/gateways/:gateway_id/stages
func (h *GatewayHandler) ListStages(c *gin.Context) {
	stages, err := h.svc.ListStages(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stages)
}

// PUT /api/gateways/:gateway_id/stages/:stage_id/vars
func (h *GatewayHandler) UpdateStageVars(c *gin.Context) {
	var req struct {
		Vars map[string]string `json:"vars" validate:"required"`
	}
	if !bindAndValidate(c, &req) {
		return
	}

	stage, err := h.svc.UpdateStageVars(requestContext(c),
		pathID(c, "gateway_id"), pathID(c, "stage_id"), req.Vars)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stage)
}

// DELETE /api/gateways/:gateway_id/stages/:stage_id
func (h *GatewayHandler) DeleteStage(c *gin.Context) {
	err := h.svc.DeleteStage(requestContext(c), pathID(c, "gateway_id"), pathID(c, "stage_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// POST /api/gateways/:gateway_id/backends
func (h *GatewayHandler) CreateBackend(c *gin.Context) {
	var req backendRequest
	if !bindAndValidate(c, &req) {
		return
	}

	backend, err := h.svc.CreateBackend(requestContext(c), pathID(c, "gateway_id"), services.BackendInput{
		Name:           req.Name,
		Description:    req.Description,
		Hosts:          req.Hosts,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, backend)
}

// GET /api/gateways/:gateway_id/backends
func (h *GatewayHandler) ListBackends(c *gin.Context) {
	backends, err := h.svc.ListBackends(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, backends)
}

// DELETE /api/gateways/:gateway_id/backends/:backend_id
func (h *GatewayHandler) DeleteBackend(c *gin.Context) {
	err := h.svc.DeleteBackend(requestContext(c), pathID(c, "gateway_id"), pathID(c, "backend_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
