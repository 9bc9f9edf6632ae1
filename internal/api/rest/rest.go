package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/studyflow/tracker-sync/internal/api/middleware"
)

// SetupRoutes configures all REST API routes. Reads are public; mutations
// require authentication.
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	auth := middleware.Auth(authCfg)

	v1 := router.Group("/api/v1")
	{
		// Deliverable items
		v1.POST("/items", auth, handler.CreateItem)
		v1.GET("/items/:id", handler.GetItem)

		// Trackers
		v1.GET("/trackers/:id", handler.GetTracker)
		v1.PATCH("/trackers/:id", auth, handler.UpdateTracker)
		v1.DELETE("/trackers/:id", auth, handler.DeleteTracker)

		// Assignments and workflow status
		v1.PUT("/trackers/:id/assignees/:role", auth, handler.Assign)
		v1.DELETE("/trackers/:id/assignees/:role", auth, handler.Unassign)
		v1.POST("/trackers/:id/status", auth, handler.AdvanceStatus)

		// Comments
		v1.POST("/trackers/:id/comments", auth, handler.CreateComment)
		v1.GET("/trackers/:id/comments", handler.ListComments)
		v1.POST("/comments/:id/resolve", auth, handler.ResolveComment)

		// Polling fallback (public read access)
		v1.GET("/changes/check", handler.CheckChanges)
	}
}
