package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kitewall/apigate/internal/app"
	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/pkg/crypto"
	"github.com/kitewall/apigate/pkg/errors"
	"github.com/kitewall/apigate/pkg/response"
)

// AuthHandler issues access tokens to configured operators.
type AuthHandler struct {
	cfg app.AuthConfig
	jwt *iauth.JWTService
}

func NewAuthHandler(cfg app.AuthConfig, jwt *iauth.JWTService) *AuthHandler {
	return &AuthHandler{cfg: cfg, jwt: jwt}
}

type loginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1"`
}

// POST /api/auth/token
func (h *AuthHandler) Token(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	operator, ok := h.cfg.FindOperator(req.Username)
	if !ok || !crypto.VerifyPassword(operator.PasswordHash, req.Password) {
		// Unknown user and bad password are indistinguishable on purpose.
		monitoring.RecordAuthAttempt("failure")
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	token, err := h.jwt.GenerateAccessToken(iauth.AccessTokenInput{
		Username: operator.Username,
		Tenant:   operator.Tenant,
		IsAdmin:  operator.IsAdmin,
	})
	if err != nil {
		monitoring.RecordAuthAttempt("error")
		response.Error(c, errors.ErrInternalServer)
		return
	}

	monitoring.RecordAuthAttempt("success")
	response.Success(c, http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	v, ok := c.Get(middleware.CtxClaimsKey)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	claims, _ := v.(*iauth.Claims)
	if claims == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"username": claims.Username,
		"tenant":   claims.Tenant,
		"is_admin": claims.IsAdmin,
	})
}
