package sessions

import (
	"github.com/gin-gonic/gin"
)

func SetupSessionRoutes(router *gin.RouterGroup, controller Controller) {
	// Public routes - browse sessions and their seat counts
	publicSessions := router.Group("/sessions")
	{
		publicSessions.GET("", controller.ListSessions)
		publicSessions.GET("/:id", controller.GetSession)
	}

	// Admin routes - session lifecycle and capacity
	adminSessions := router.Group("/admin/sessions")
	{
		adminSessions.POST("", controller.CreateSession)
		adminSessions.PUT("/:id/capacity", controller.SetCapacity)
		adminSessions.PUT("/:id/settings", controller.UpdateSettings)
	}
}
