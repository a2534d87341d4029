package routes

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/cache"
	"github.com/zaqqye/qr_backend_v1/internal/config"
	"github.com/zaqqye/qr_backend_v1/internal/controllers"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/events"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/ws"
)

// Deps carries everything the handlers need. Redis, Events, Cache, Queue and Hub are optional.
type Deps struct {
	DB      *gorm.DB
	Cfg     *config.Config
	Tenancy *database.Tenancy
	Logger  *applog.Logger
	Redis   *redis.Client
	Events  events.Publisher
	Cache   cache.ImageCache
	Queue   controllers.CleanupQueue
	Hub     *ws.LogHub
}

// Recovery turns a handler panic into a 500 and records it as a system error.
func Recovery(l *applog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		l.FromGin(c, applog.EventSystemError, "panic recovered", map[string]any{"panic": fmt.Sprint(recovered)})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func Register(r *gin.Engine, d Deps) error {
	cfg := d.Cfg
	if d.Tenancy == nil {
		d.Tenancy = database.NewTenancy(d.DB, cfg.RLSEnabled)
	}
	if d.Cache == nil {
		d.Cache = cache.NewImageCache(d.Redis, 0)
	}
	if d.Events == nil {
		d.Events = events.Noop{}
	}

	apiStore, err := middleware.NewLimiterStore(d.Redis, "qr:rl:api")
	if err != nil {
		return err
	}
	apiLimit, err := middleware.RateLimit(cfg.RateLimit, apiStore)
	if err != nil {
		return err
	}
	loginStore, err := middleware.NewLimiterStore(d.Redis, "qr:rl:login")
	if err != nil {
		return err
	}
	loginLimit, err := middleware.RateLimit(cfg.LoginRateLimit, loginStore)
	if err != nil {
		return err
	}

	r.Use(
		middleware.RequestID(),
		middleware.Prometheus(),
		middleware.Secure(middleware.SecureOptions(cfg.IsDevelopment)),
		middleware.CORS(cfg.CORSOrigins),
	)

	// Controllers
	tokens := &controllers.TokenIssuer{
		DB:            d.DB,
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.RefreshJWTSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	}
	authCtrl := &controllers.AuthController{DB: d.DB, Tenancy: d.Tenancy, Tokens: tokens, Logger: d.Logger, IsAdmin: cfg.IsAdminEmail}
	oauthCtrl := &controllers.OAuthController{DB: d.DB, Tokens: tokens, Logger: d.Logger, RedirectURL: cfg.OAuthRedirectURL}
	qrCtrl := &controllers.QrCodeController{Tenancy: d.Tenancy, Logger: d.Logger, Events: d.Events, Cache: d.Cache}
	tplCtrl := &controllers.TemplateController{Tenancy: d.Tenancy, Logger: d.Logger}
	transferCtrl := &controllers.TransferController{Tenancy: d.Tenancy, Logger: d.Logger, Events: d.Events, MaxImportBytes: cfg.MaxImportBytes}
	adminCtrl := &controllers.AdminController{
		DB:               d.DB,
		Tenancy:          d.Tenancy,
		Logger:           d.Logger,
		Queue:            d.Queue,
		IsAdmin:          cfg.IsAdminEmail,
		LogRetentionDays: cfg.LogRetentionDays,
	}
	cfgCtrl := &controllers.ConfigController{Cfg: cfg}

	// Platform
	r.GET("/health", health(d.DB, d.Redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", apiLimit)
	api.GET("/config/public", cfgCtrl.Public)

	// Public auth
	auth := api.Group("/auth")
	{
		auth.POST("/register", loginLimit, authCtrl.Register)
		auth.POST("/login", loginLimit, authCtrl.Login)
		auth.POST("/refresh", authCtrl.Refresh)

		auth.GET("/oauth/providers", oauthCtrl.Providers)
		auth.GET("/oauth/:provider", oauthCtrl.Begin)
		auth.GET("/oauth/:provider/callback", oauthCtrl.Callback)
	}

	// Protected
	authMW := middleware.AuthMiddleware(d.DB, middleware.AuthConfig{
		JWTSecret: cfg.JWTSecret,
		IsAdmin:   cfg.IsAdminEmail,
	})
	protected := api.Group("", authMW)
	{
		protected.POST("/auth/logout", authCtrl.Logout)
		protected.GET("/auth/me", authCtrl.Me)
		protected.PATCH("/auth/me", authCtrl.UpdateMe)
		protected.DELETE("/auth/me", authCtrl.DeleteMe)
		protected.GET("/auth/sessions", authCtrl.ListSessions)
		protected.DELETE("/auth/sessions/:id", authCtrl.RevokeSession)
		protected.GET("/auth/accounts", oauthCtrl.ListAccounts)
		protected.DELETE("/auth/accounts/:id", oauthCtrl.UnlinkAccount)

		qr := protected.Group("/qrcodes")
		qr.GET("", qrCtrl.List)
		qr.POST("", qrCtrl.Create)
		qr.POST("/preview", qrCtrl.Preview)
		qr.POST("/bulk-delete", qrCtrl.BulkDelete)
		qr.GET("/:id", qrCtrl.Get)
		qr.PATCH("/:id", qrCtrl.Update)
		qr.DELETE("/:id", qrCtrl.Delete)
		qr.POST("/:id/duplicate", qrCtrl.Duplicate)
		qr.GET("/:id/image", qrCtrl.Image)

		tpl := protected.Group("/templates")
		tpl.GET("", tplCtrl.List)
		tpl.POST("", tplCtrl.Create)
		tpl.GET("/:id", tplCtrl.Get)
		tpl.PATCH("/:id", tplCtrl.Update)
		tpl.DELETE("/:id", tplCtrl.Delete)

		protected.GET("/export", transferCtrl.Export)
		protected.POST("/import", transferCtrl.Import)

		// Admin allowlist only
		admin := protected.Group("/admin", middleware.RequireAdmin(func(c *gin.Context) {
			d.Logger.FromGin(c, applog.EventAccessDenied, "admin access denied", map[string]any{"method": c.Request.Method})
		}))
		{
			admin.GET("/logs", adminCtrl.ListLogs)
			admin.GET("/logs/stats", adminCtrl.LogStats)
			admin.POST("/logs/cleanup", adminCtrl.CleanupLogs)
			admin.POST("/sessions/cleanup", adminCtrl.CleanupSessions)
			admin.GET("/users", adminCtrl.ListUsers)
			if d.Hub != nil {
				admin.GET("/logs/stream", ws.LogStreamHandler(d.Hub))
			}
		}
	}
	return nil
}

func health(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok"}
		status := http.StatusOK
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}
