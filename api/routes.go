package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"picocontrol/models"
	"picocontrol/project"
	"picocontrol/service"
	"picocontrol/store"
)

// DiscoveryHistory reads past discovery outcomes. *store.Store implements it.
type DiscoveryHistory interface {
	RecentDiscoveries(ctx context.Context, limit int) ([]store.DiscoveryEntry, error)
}

// Services bundles what the handlers need.
type Services struct {
	Devices  *service.DeviceManager
	Projects *project.Service
	Tasks    *service.TaskRunner
	Tooling  *service.Tooling
	History  DiscoveryHistory
	Hub      *WebSocketHub
	// Workspace is used when a request names no workspace.
	Workspace string
	// AllowedOrigins may call the API from a browser.
	AllowedOrigins []string
}

func SetupRoutes(router *gin.Engine, s *Services) {
	// Enable CORS
	router.Use(CORSMiddleware(s.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		Health(c, s)
	})

	// API routes
	api := router.Group("/api")
	{
		// Device routes
		devices := api.Group("/devices")
		{
			devices.GET("", func(c *gin.Context) {
				GetDevices(c, s.Devices)
			})
			devices.POST("/scan", func(c *gin.Context) {
				ScanDevices(c, s.Devices)
			})
			devices.GET("/history", func(c *gin.Context) {
				GetDiscoveryHistory(c, s.History)
			})
		}

		// Project routes
		projects := api.Group("/projects")
		{
			projects.GET("", func(c *gin.Context) {
				ListProjects(c, s)
			})
			projects.POST("", func(c *gin.Context) {
				CreateProject(c, s)
			})
			projects.POST("/resume", func(c *gin.Context) {
				ResumeProject(c, s)
			})
			projects.DELETE("", func(c *gin.Context) {
				DeleteProject(c, s.Projects)
			})
			projects.GET("/settings", func(c *gin.Context) {
				GetProjectSettings(c, s.Projects)
			})
			projects.PUT("/settings", func(c *gin.Context) {
				UpdateProjectSettings(c, s.Projects)
			})
			projects.POST("/tasks", func(c *gin.Context) {
				RunConfiguredTask(c, s)
			})
			projects.POST("/build", func(c *gin.Context) {
				BuildProject(c, s.Tooling)
			})
			projects.POST("/flash", func(c *gin.Context) {
				FlashProject(c, s.Tooling)
			})
		}

		// Debug server and serial monitor
		openocd := api.Group("/openocd")
		{
			openocd.POST("/start", func(c *gin.Context) {
				StartOpenOCD(c, s.Tooling)
			})
			openocd.POST("/stop", func(c *gin.Context) {
				StopOpenOCD(c, s.Tooling)
			})
		}
		monitor := api.Group("/monitor")
		{
			monitor.POST("/start", func(c *gin.Context) {
				StartMonitor(c, s.Tooling)
			})
			monitor.POST("/stop", func(c *gin.Context) {
				StopMonitor(c, s.Tooling)
			})
		}

		// Task routes
		tasks := api.Group("/tasks")
		{
			tasks.GET("", func(c *gin.Context) {
				GetTasks(c, s.Tasks)
			})
			tasks.GET("/:id", func(c *gin.Context) {
				GetTask(c, s.Tasks)
			})
		}
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(s.Hub, s.Devices, c)
	})
}

// CORSMiddleware answers cross-origin requests from the allowed origins and
// refuses every other cross-origin request before it reaches a handler.
// Requests without an Origin header (curl, scripts) and same-host requests
// pass through.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || sameHost(origin, c.Request.Host) {
			c.Next()
			return
		}
		if !allowed[origin] {
			c.AbortWithStatusJSON(http.StatusForbidden, models.CodedErrorResponse("origin_not_allowed", "origin not allowed: "+origin))
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && u.Host == host
}
