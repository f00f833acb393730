package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/unreal-server-manager/internal/api/handlers"
	"github.com/yourusername/unreal-server-manager/internal/api/middleware"
	"github.com/yourusername/unreal-server-manager/internal/archive"
	"github.com/yourusername/unreal-server-manager/internal/config"
	"github.com/yourusername/unreal-server-manager/internal/logging"
	"github.com/yourusername/unreal-server-manager/internal/metrics"
	"github.com/yourusername/unreal-server-manager/internal/supervisor"
	"github.com/yourusername/unreal-server-manager/internal/websocket"
)

// Services are the components the HTTP API drives. Recorder and Archives
// are optional.
type Services struct {
	Supervisor     *supervisor.Supervisor
	ServerManager  *config.ServerManager
	ActivityLogger *logging.ActivityLogger
	Recorder       *metrics.Recorder
	Archives       *archive.Manager
	Hub            *websocket.Hub
	// OnRemove runs after a server has been deleted through the API.
	OnRemove []func(serverID string)
}

// SetupRouter configures and returns the HTTP router
func SetupRouter(cfg *config.Config, svc Services) (*gin.Engine, func()) {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.Security.CORS))
	router.Use(middleware.RateLimit(cfg.Security.RateLimit))
	router.Use(middleware.SecurityHeaders(cfg.Server.TLS.Enabled))

	// Initialize handlers
	serverHandler := handlers.NewServerHandler(svc.Supervisor, svc.ServerManager, svc.ActivityLogger)
	for _, fn := range svc.OnRemove {
		serverHandler.OnRemove(fn)
	}
	logHandler := handlers.NewLogHandler(svc.Supervisor, svc.Archives)
	metricsHandler := handlers.NewMetricsHandler(svc.Supervisor, svc.Recorder)
	activityHandler := handlers.NewActivityHandler(svc.ActivityLogger)
	settingsHandler := handlers.NewSettingsHandler(cfg, config.GetConfigPath())
	eventsHandler := handlers.NewEventsHandler(cfg, svc.Supervisor, svc.Hub)

	v1 := router.Group("/api/v1")
	{
		servers := v1.Group("/servers")
		{
			servers.GET("", serverHandler.ListServers)
			servers.POST("", serverHandler.CreateServer)
			servers.GET("/metrics/latest", metricsHandler.GetAllLatestMetrics)
			servers.GET("/:id", serverHandler.GetServer)
			servers.PUT("/:id", serverHandler.UpdateServer)
			servers.DELETE("/:id", serverHandler.DeleteServer)

			servers.POST("/:id/start", serverHandler.StartServer)
			servers.POST("/:id/stop", serverHandler.StopServer)
			servers.POST("/:id/restart", serverHandler.RestartServer)
			servers.GET("/:id/status", serverHandler.GetServerStatus)

			servers.GET("/:id/logs", logHandler.GetLogs)
			servers.DELETE("/:id/logs", logHandler.ClearLogs)
			servers.GET("/:id/logs/search", logHandler.SearchLogs)
			servers.GET("/:id/logs/export", logHandler.ExportLogs)
			servers.GET("/:id/archives", logHandler.ListArchives)
			servers.POST("/:id/archives", logHandler.CreateArchive)

			servers.GET("/:id/metrics", metricsHandler.GetLatestMetrics)
			servers.GET("/:id/metrics/live", metricsHandler.GetLiveMetrics)
			servers.GET("/:id/metrics/history", metricsHandler.GetMetricsHistory)
			servers.GET("/:id/metrics/summary", metricsHandler.GetMetricsSummary)

			servers.GET("/:id/activity", activityHandler.GetServerActivity)
			servers.GET("/:id/activity/stats", activityHandler.GetServerActivityStats)
			servers.GET("/:id/runs", activityHandler.GetServerRuns)
		}

		archives := v1.Group("/archives")
		{
			archives.GET("/:archiveId", logHandler.GetArchive)
			archives.GET("/:archiveId/download", logHandler.DownloadArchive)
			archives.DELETE("/:archiveId", logHandler.DeleteArchive)
		}

		v1.GET("/activity", activityHandler.ListActivities)

		v1.GET("/settings", settingsHandler.GetSettings)
		v1.PUT("/settings", settingsHandler.UpdateSettings)

		v1.GET("/ws/events", eventsHandler.HandleServersWebSocket)
		v1.GET("/ws/servers/:id", eventsHandler.HandleServerWebSocket)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"servers":     len(svc.Supervisor.ListServers()),
			"subscribers": svc.Supervisor.Bus().SubscriberCount(),
		})
	})

	shutdown := func() {
		log.Println("Waiting for background server operations to complete...")
		serverHandler.WaitForCompletion()
		log.Println("Background operations completed")
	}

	return router, shutdown
}
