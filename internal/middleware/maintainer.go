package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/internal/models"
	"github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/response"
)

// CtxGatewayKey holds the gateway loaded by RequireGatewayMaintainer.
const CtxGatewayKey = "gateway"

// RequireGatewayMaintainer loads the gateway named by the :gateway_id route
// parameter and rejects operators who are not listed as its maintainers.
// Admin operators pass regardless. The loaded gateway is stored in the
// request context so handlers do not fetch it twice.
func RequireGatewayMaintainer(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxClaimsKey)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, _ := v.(*iauth.Claims)
		if claims == nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		gatewayID, err := strconv.ParseInt(c.Param("gateway_id"), 10, 64)
		if err != nil {
			response.Error(c, errors.NewBadRequest("invalid gateway id"))
			c.Abort()
			return
		}

		var gateway models.Gateway
		if err := db.WithContext(c.Request.Context()).
			Take(&gateway, "id = ?", gatewayID).Error; err != nil {
			response.Error(c, errors.ErrNotFound.WithMessage("Gateway not found"))
			c.Abort()
			return
		}

		if !claims.IsAdmin && !gateway.HasMaintainer(claims.Username) {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Set(CtxGatewayKey, &gateway)
		c.Next()
	}
}
