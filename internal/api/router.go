package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/kitewall/apigate/internal/app"
	iauth "github.com/kitewall/apigate/internal/auth"
	"github.com/kitewall/apigate/internal/handlers"
	"github.com/kitewall/apigate/internal/locks"
	"github.com/kitewall/apigate/internal/middleware"
	"github.com/kitewall/apigate/internal/monitoring"
	"github.com/kitewall/apigate/internal/realtime"
	"github.com/kitewall/apigate/internal/services"
	"github.com/kitewall/apigate/pkg/mail"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, hub *realtime.Hub, mailer mail.Mailer, mon *monitoring.Module, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS())
	// Basic rate limiting: 100 requests/minute per IP+path
	r.Use(middleware.RateLimitWithStore(rateStore, 100, time.Minute))

	registerHealthRoutes(r, cfg, mon)

	// Shared services
	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	lockManager, err := locks.NewManager(db)
	if err != nil {
		return nil, err
	}
	permSvc, err := services.NewAppPermissionService(db, mailer, audit, hub,
		services.WithPermissionPolicy(cfg.Permission.PermissionPolicy()))
	if err != nil {
		return nil, err
	}
	mcpPerms, err := services.NewMCPPermissionService(db, audit)
	if err != nil {
		return nil, err
	}
	mcpServers, err := services.NewMCPServerService(db, mcpPerms, audit)
	if err != nil {
		return nil, err
	}

	// Public auth routes
	authHandler := handlers.NewAuthHandler(cfg.Auth, jwt)
	r.POST("/api/auth/token", authHandler.Token)

	// Realtime stream endpoint authenticates via token query parameter.
	realtimeHandler := handlers.NewRealtimeHandler(hub, jwt,
		realtime.StreamPermissions, realtime.StreamReleases)
	r.GET("/ws", realtimeHandler.Stream)

	// Protected routes
	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))

	api.GET("/auth/me", authHandler.Me)

	maintainer := middleware.RequireGatewayMaintainer(db)
	admin := middleware.RequireAdmin()

	if err := registerGatewayRoutes(api, db, audit, lockManager, hub, maintainer); err != nil {
		return nil, err
	}
	registerPermissionRoutes(api, permSvc, maintainer)
	registerMCPRoutes(api, mcpServers, mcpPerms, maintainer, admin)
	if err := registerESBRoutes(api, db); err != nil {
		return nil, err
	}

	auditHandler, err := handlers.NewAuditHandler(db)
	if err != nil {
		return nil, err
	}
	api.GET("/audit", admin, auditHandler.List)

	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(), admin)

	// Metrics endpoint
	if cfg.Monitoring.Prometheus.Enabled && mon != nil {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(mon.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
