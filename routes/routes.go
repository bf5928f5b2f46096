package routes

import (
	"net/http"
	"time"

	"wellbook/handlers"
	"wellbook/middleware"
	"wellbook/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterAvailabilityRoutes registers the public calendar endpoints.
func RegisterAvailabilityRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/providers/:providerID/slots")
	{
		api.GET("", hb.Availability.GetSlots)
		api.GET("/check", hb.Availability.CheckSlot)
	}
}

// RegisterBookingRoutes registers the reservation endpoints.
func RegisterBookingRoutes(r *gin.Engine, hb *handlers.HandlerBundle, verifier *utils.TokenVerifier) {
	api := r.Group("/api/bookings")
	{
		api.Use(middleware.JWTAuthMiddleware(verifier))
		api.POST("", hb.Booking.Reserve)
		api.GET("/:id", hb.Booking.Get)
		api.POST("/:id/confirm", hb.Booking.Confirm)
		api.POST("/:id/cancel", hb.Booking.Cancel)
		api.POST("/:id/complete", hb.Booking.Complete)
	}
}

// RegisterTokenRoutes registers the caller's own ledger endpoints.
func RegisterTokenRoutes(r *gin.Engine, hb *handlers.HandlerBundle, verifier *utils.TokenVerifier) {
	api := r.Group("/api/tokens")
	{
		api.Use(middleware.JWTAuthMiddleware(verifier))
		api.GET("/balance", hb.Tokens.Balance)
		api.GET("/transactions", hb.Tokens.Transactions)
		api.POST("/spend", hb.Tokens.Spend)
	}
}

// RegisterAdminRoutes registers ledger administration endpoints.
func RegisterAdminRoutes(r *gin.Engine, hb *handlers.HandlerBundle, verifier *utils.TokenVerifier) {
	adminGroup := r.Group("/api/admin")
	{
		adminGroup.Use(middleware.JWTAuthMiddleware(verifier), middleware.RequireRole(utils.RoleAdmin))
		adminGroup.POST("/tokens/award", hb.Tokens.Award)
		adminGroup.POST("/missions/complete", hb.Tokens.CompleteMission)
		adminGroup.GET("/tokens/audit/:userID", hb.Tokens.Audit)
	}
}

// RegisterHealthRoute reports the last dependency probe. A nil monitor
// always reports ok.
func RegisterHealthRoute(r *gin.Engine, monitor *utils.HealthMonitor) {
	r.GET("/health", func(c *gin.Context) {
		if monitor == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		status := monitor.Status()
		if !status.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	})
}

// RegisterMetricsRoute exposes the Prometheus registry.
func RegisterMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle, verifier *utils.TokenVerifier, monitor *utils.HealthMonitor) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", handlers.IdempotencyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	RegisterHealthRoute(r, monitor)
	RegisterMetricsRoute(r)
	RegisterAvailabilityRoutes(r, hb)
	RegisterBookingRoutes(r, hb, verifier)
	RegisterTokenRoutes(r, hb, verifier)
	RegisterAdminRoutes(r, hb, verifier)
}
