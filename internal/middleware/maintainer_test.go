package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/internal/database/testutil"
	"github.com/kitewall/apigate/internal/models"
)

func TestRequireGatewayMaintainer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	gateway := models.Gateway{Name: "orders", Maintainers: "alice;bob"}
	require.NoError(t, db.Create(&gateway).Error)

	r := gin.New()
	r.GET("/gateways/:gateway_id", func(c *gin.Context) {
		c.Set(CtxClaimsKey, &iauth.Claims{Username: c.Query("as")})
		c.Next()
	}, RequireGatewayMaintainer(db), func(c *gin.Context) {
		loaded := c.MustGet(CtxGatewayKey).(*models.Gateway)
		c.JSON(http.StatusOK, gin.H{"name": loaded.Name})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/gateways/1?as=alice", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/gateways/1?as=mallory", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/gateways/999?as=alice", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}
