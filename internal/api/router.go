package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/numdata/printwire/internal/api/handlers"
	"github.com/numdata/printwire/internal/api/middleware"
)

// NewRouter assembles the HTTP API. Auth endpoints are open; everything
// under /api requires a valid session.
func NewRouter(auth *middleware.AuthMiddleware, printers *handlers.PrintersHandler,
	jobs *handlers.JobsHandler, webhooks *handlers.WebhooksHandler,
	archives *handlers.ArchivesHandler) *gin.Engine {

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/auth/setup", auth.SetupHandler)
	r.POST("/auth/login", auth.LoginHandler)
	r.POST("/auth/logout", auth.LogoutHandler)
	r.GET("/auth/status", auth.StatusHandler)

	api := r.Group("/api")
	api.Use(auth.RequireAuth())
	{
		api.POST("/auth/password", auth.ChangePasswordHandler)

		api.POST("/printers", printers.CreatePrinter)
		api.GET("/printers", printers.ListPrinters)
		api.GET("/printers/:id", printers.GetPrinter)
		api.PUT("/printers/:id", printers.UpdatePrinter)
		api.DELETE("/printers/:id", printers.DeletePrinter)
		api.GET("/printers/:id/status", printers.CheckStatus)
		api.GET("/printers/:id/queue", printers.QueueState)
		api.DELETE("/printers/:id/queue/current", printers.RemoveJob)
		api.POST("/printers/:id/pause", printers.PausePrinter)
		api.POST("/printers/:id/resume", printers.ResumePrinter)

		api.POST("/jobs", jobs.CreateJob)
		api.GET("/jobs", jobs.ListJobs)
		api.GET("/jobs/:id", jobs.GetJob)
		api.POST("/jobs/:id/cancel", jobs.CancelJob)
		api.POST("/jobs/:id/retry", jobs.RetryJob)
		api.POST("/jobs/:id/reprint", jobs.ReprintJob)
		api.GET("/jobs/stats", jobs.QueueStats)

		api.GET("/webhooks", webhooks.ListWebhooks)
		api.POST("/webhooks", webhooks.CreateWebhook)
		api.GET("/webhooks/:id", webhooks.GetWebhook)
		api.PUT("/webhooks/:id", webhooks.UpdateWebhook)
		api.DELETE("/webhooks/:id", webhooks.DeleteWebhook)
		api.POST("/webhooks/:id/test", webhooks.TestWebhook)

		api.GET("/archives", archives.ListArchives)
		api.POST("/archives/run", archives.TriggerArchive)
		api.POST("/archives/restore", archives.RestoreJob)
		api.GET("/archives/:filename/download", archives.DownloadArchive)
		api.DELETE("/archives/:filename", archives.DeleteArchive)
	}

	return r
}
