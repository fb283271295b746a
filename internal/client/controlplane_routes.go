package client

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/openmined/vaultsync/internal/client/middleware"
	"github.com/openmined/vaultsync/internal/client/vaultmgr"
	"github.com/openmined/vaultsync/internal/version"
)

type RouteConfig struct {
	Auth        middleware.TokenAuthConfig
	RateLimit   string
	LogFilePath string
}

func SetupRoutes(vaultMgr *vaultmgr.VaultManager, routeConfig *RouteConfig) (http.Handler, error) {
	rate := routeConfig.RateLimit
	if rate == "" {
		rate = middleware.DefaultRate
	}
	rateLimiter, err := middleware.RateLimiter(rate)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	statusH := handlers.NewStatusHandler(vaultMgr)
	syncH := handlers.NewSyncHandler(vaultMgr)
	conflictH := handlers.NewConflictHandler(vaultMgr)
	settingsH := handlers.NewSettingsHandler(vaultMgr)
	logsH := handlers.NewLogsHandler(routeConfig.LogFilePath)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(rateLimiter)

	r.GET("/", IndexHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(routeConfig.Auth))
	{
		v1.GET("/status", statusH.Status)

		v1.POST("/sync", syncH.TriggerSync)
		v1.POST("/sync/remote", syncH.CheckRemote)
		v1.GET("/sync/files", syncH.Files)
		v1.GET("/sync/file", syncH.FileStatus)
		v1.POST("/reconcile", syncH.Reconcile)

		v1Conflicts := v1.Group("/conflicts")
		{
			v1Conflicts.GET("", conflictH.List)
			v1Conflicts.GET("/:id", conflictH.Get)
			v1Conflicts.POST("/:id/resolve", conflictH.Resolve)
		}

		v1.GET("/settings", settingsH.Get)
		v1.PUT("/settings", settingsH.Update)

		v1.GET("/logs", logsH.GetLogs)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, handlers.ControlPlaneError{
			ErrorCode: handlers.ErrCodeNotFound,
			Error:     "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, handlers.ControlPlaneError{
			ErrorCode: handlers.ErrCodeBadRequest,
			Error:     "method not allowed",
		})
	})

	return r.Handler(), nil
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.PureJSON(http.StatusOK, gin.H{
		"app":     version.AppName,
		"version": version.Detailed(),
	})
}
