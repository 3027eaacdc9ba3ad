package main

import (
	"callwake-platform/internal/httpapi"
	"callwake-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// protected API group
	v1 := r.Group("/v1")

	// AUTH routes (token issuance) stay outside the access-token gate.
	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
	}

	v1.Use(authMW)
	{
		// CALL lifecycle routes
		calls := v1.Group("/calls")
		{
			calls.POST("", h.ScheduleCall)
			calls.POST("/once", h.ScheduleCallOnce)
			calls.POST("/immediate", h.ScheduleImmediate)
			calls.GET("", h.ListCalls)
			calls.DELETE("/:id", h.CancelCall)
			calls.PATCH("/toggle", h.Toggle)
			calls.POST("/response", h.RecordResponse)
		}

		// RECIPIENT-scoped routes
		recipients := v1.Group("/recipients")
		{
			recipients.GET("/:recipient_id/calls", h.ListByRecipient)
			recipients.DELETE("/:recipient_id/calls", h.CancelByRecipient)
			recipients.GET("/:recipient_id/history", h.History)
		}

		v1.GET("/stats", h.Stats)

		// ADMIN routes
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/events", h.AdminEvents)
			admin.POST("/cleanup", h.AdminCleanup)
		}
	}
}
