package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/locks"
	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/realtime"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/response"
)

// ReleaseHandler serves resource version snapshots and stage releases.
type ReleaseHandler struct {
	svc *services.ReleaseService
}

func NewReleaseHandler(db *gorm.DB, lockManager *locks.Manager, audit *services.AuditService, hub *realtime.Hub) (*ReleaseHandler, error) {
	svc, err := services.NewReleaseService(db, lockManager, audit, hub)
	if err != nil {
		return nil, err
	}
	return &ReleaseHandler{svc: svc}, nil
}

type createVersionRequest struct {
	Version string `json:"version" validate:"required,min=1,max=64"`
	Comment string `json:"comment" validate:"max=512"`
}

type releaseRequest struct {
	StageID           int64  `json:"stage_id" validate:"required"`
	ResourceVersionID int64  `json:"resource_version_id" validate:"required"`
	Comment           string `json:"comment" validate:"max=512"`
}

// POST /api/gateways/:gateway_id/versions
func (h *ReleaseHandler) CreateVersion(c *gin.Context) {
	var req createVersionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	version, err := h.svc.CreateVersion(requestContext(c), services.CreateVersionInput{
		GatewayID: pathID(c, "gateway_id"),
		Version:   req.Version,
		Comment:   req.Comment,
		CreatedBy: c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, version)
}

// GET /api/gateways/:gateway_id/versions
func (h *ReleaseHandler) ListVersions(c *gin.Context) {
	versions, err := h.svc.ListVersions(requestContext(c), pathID(c, "gateway_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, versions)
}

// GET /api/gateways/:gateway_id/versions/:version_id
func (h *ReleaseHandler) GetVersion(c *gin.Context) {
	version, err := h.svc.GetVersion(requestContext(c), pathID(c, "gateway_id"), pathID(c, "version_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, version)
}

// POST /api/gateways/:gateway_id/releases
func (h *ReleaseHandler) Release(c *gin.Context) {
	var req releaseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	release, err := h.svc.Release(requestContext(c), services.ReleaseInput{
		GatewayID:         pathID(c, "gateway_id"),
		StageID:           req.StageID,
		ResourceVersionID: req.ResourceVersionID,
		Comment:           req.Comment,
		ReleasedBy:        c.GetString(middleware.CtxOperatorKey),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, release)
}

// GET /api/gateways/:gateway_id/stages/:stage_id/release
func (h *ReleaseHandler) GetStageRelease(c *gin.Context) {
	release, err := h.svc.GetStageRelease(requestContext(c), pathID(c, "gateway_id"), pathID(c, "stage_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if release == nil {
		response.Success(c, http.StatusOK, gin.H{"released": false})
		return
	}
	response.Success(c, http.StatusOK, release)
}
