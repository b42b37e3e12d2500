package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// PermissionHandler serves the app permission workflow: applies, approvals,
// direct grants, renewals and history.
type PermissionHandler struct {
	svc *services.AppPermissionService
}

func NewPermissionHandler(svc *services.AppPermissionService) *PermissionHandler {
	return &PermissionHandler{svc: svc}
}

type applyPermissionRequest struct {
	AppCode        string  `json:"app_code" validate:"required,min=1,max=64"`
	GrantDimension string  `json:"grant_dimension" validate:"required"`
	ResourceIDs    []int64 `json:"resource_ids"`
	Reason         string  `json:"reason" validate:"max=512"`
	ExpireDays     int     `json:"expire_days"`
	AppliedBy      string  `json:"applied_by" validate:"max=64"`
}

type handlePermissionRequest struct {
	Status          string  `json:"status" validate:"required"`
	Comment         string  `json:"comment" validate:"max=512"`
	PartResourceIDs []int64 `json:"part_resource_ids"`
}

type grantPermissionRequest struct {
	AppCode        string  `json:"app_code" validate:"required,min=1,max=64"`
	GrantDimension string  `json:"grant_dimension" validate:"required"`
	ResourceIDs    []int64 `json:"resource_ids"`
	ExpireDays     int     `json:"expire_days"`
}

type renewPermissionRequest struct {
	GrantDimension string  `json:"grant_dimension" validate:"required"`
	IDs            []int64 `json:"ids" validate:"required,min=1"`
}

// POST /api/gateways/:gateway_id/permissions/apply
func (h *PermissionHandler) Apply(c *gin.Context) {
	var req applyPermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	appliedBy := req.AppliedBy
	if appliedBy == "" {
		appliedBy = c.GetString(middleware.CtxOperatorKey)
	}

	apply, err := h.svc.Apply(requestContext(c), services.ApplyPermissionInput{
		AppCode:        req.AppCode,
		GatewayID:      pathID(c, "gateway_id"),
		GrantDimension: req.GrantDimension,
		ResourceIDs:    req.ResourceIDs,
		Reason:         req.Reason,
		ExpireDays:     req.ExpireDays,
		AppliedBy:      appliedBy,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, apply)
}

// GET /api/gateways/:gateway_id/permissions/applies
func (h *PermissionHandler) ListApplies(c *gin.Context) {
	applies, err := h.svc.ListPendingApplies(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, applies)
}

// POST /api/gateways/:gateway_id/permissions/applies/:apply_id
func (h *PermissionHandler) Handle(c *gin.Context) {
	var req handlePermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	record, err := h.svc.Handle(requestContext(c), services.HandlePermissionInput{
		GatewayID:       pathID(c, "gateway_id"),
		ApplyID:         pathID(c, "apply_id"),
		Status:          req.Status,
		Comment:         req.Comment,
		HandledBy:       c.GetString(middleware.CtxOperatorKey),
		PartResourceIDs: req.PartResourceIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, record)
}

// POST /api/gateways/:gateway_id/permissions/grant
func (h *PermissionHandler) Grant(c *gin.Context) {
	var req grantPermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.svc.Grant(requestContext(c), services.GrantPermissionInput{
		AppCode:        req.AppCode,
		GatewayID:      pathID(c, "gateway_id"),
		GrantDimension: req.GrantDimension,
		ResourceIDs:    req.ResourceIDs,
		ExpireDays:     req.ExpireDays,
		GrantedBy:      c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"granted": true})
}

// POST /api/gateways/:gateway_id/permissions/renew
func (h *PermissionHandler) Renew(c *gin.Context) {
	var req renewPermissionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	renewed, err := h.svc.Renew(requestContext(c), services.RenewPermissionInput{
		GatewayID:      pathID(c, "gateway_id"),
		GrantDimension: req.GrantDimension,
		IDs:            req.IDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"renewed": renewed})
}

// GET /api/gateways/:gateway_id/permissions/app/:app_code
func (h *PermissionHandler) ListAppPermissions(c *gin.Context) {
	perms, err := h.svc.ListAppPermissions(requestContext(c),
		pathID(c, "gateway_id"), c.Param("app_code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perms)
}

// GET /api/gateways/:gateway_id/permissions/app/:app_code/applies/:apply_id
func (h *PermissionHandler) GetApply(c *gin.Context) {
	apply, err := h.svc.GetApplyForApp(requestContext(c),
		pathID(c, "apply_id"), c.Param("app_code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, apply)
}

// GET /api/gateways/:gateway_id/permissions/app/:app_code/status
func (h *PermissionHandler) Status(c *gin.Context) {
	resourceID := queryID(c.Query("resource_id"))
	status, err := h.svc.StatusFor(requestContext(c),
		pathID(c, "gateway_id"), c.Param("app_code"), resourceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": status})
}

// GET /api/gateways/:gateway_id/permissions/records
func (h *PermissionHandler) ListRecords(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 20)

	records, total, err := h.svc.ListRecords(requestContext(c), services.ListRecordsInput{
		GatewayID: pathID(c, "gateway_id"),
		AppCode:   c.Query("app_code"),
		Page:      page,
		PageSize:  perPage,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, records,
		&response.Meta{Page: page, PerPage: perPage, Total: int(total)})
}
