package middleware

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/response"
)

// RequireAdmin rejects operators whose token does not carry the admin flag.
func RequireAdmin() gin.HandlerFunc {
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
		if !claims.IsAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
