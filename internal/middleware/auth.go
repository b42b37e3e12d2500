package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/response"
)

const (
	CtxClaimsKey   = "authClaims"
	CtxOperatorKey = "operator"
	CtxTenantKey   = "tenant"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxOperatorKey, claims.Username)
		if claims.Tenant != "" {
			c.Set(CtxTenantKey, claims.Tenant)
		}

		c.Next()
	}
}
