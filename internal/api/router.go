package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/handler"
	"github.com/jengzang/fleet-records-go/internal/middleware"
	"github.com/jengzang/fleet-records-go/internal/throttle"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Telemetry    *handler.TelemetryHandler
	Trips        *handler.TripHandler
	Productivity *handler.ProductivityHandler
	Geocoding    *handler.GeocodingHandler
	Tasks        *handler.AnalysisTaskHandler
}

// SetupRouter 设置路由. rateLimit is requests per minute per client IP, 0
// disables limiting.
func SetupRouter(h Handlers, rateLimit int) (*gin.Engine, *throttle.Limiter) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Fleet records API is running",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var limiter *throttle.Limiter
	if rateLimit > 0 {
		limiter = throttle.NewLimiter(rateLimit, time.Minute)
	}

	// API 路由组
	api := r.Group("/api/v1")
	if limiter != nil {
		api.Use(middleware.RateLimit(limiter))
	}
	{
		api.POST("/telemetry", h.Telemetry.Ingest)
		api.GET("/vehicles", h.Telemetry.ListVehicles)

		vehicles := api.Group("/vehicles/:id")
		{
			vehicles.GET("/status", h.Telemetry.GetStatus)
			vehicles.GET("/trips", h.Trips.GetTrips)
			vehicles.GET("/route", h.Trips.GetRoute)
			vehicles.GET("/parking", h.Trips.GetParking)
			vehicles.GET("/productivity", h.Productivity.GetHistory)
			vehicles.GET("/productivity/daily/:date", h.Productivity.GetDaily)
			vehicles.GET("/productivity/report", h.Productivity.GetReport)
		}

		api.GET("/trips/:id", h.Trips.GetTripByID)

		api.GET("/clients", h.Geocoding.ListClients)
		api.GET("/clients/match", h.Geocoding.MatchClient)
	}

	// 管理接口
	admin := r.Group("/api/admin")
	{
		admin.PUT("/clients", h.Geocoding.UpsertClient)
		admin.POST("/clients/reload", h.Geocoding.ReloadGazetteer)

		admin.POST("/analysis/backfill", h.Tasks.CreateBackfill)
		admin.GET("/analysis/tasks", h.Tasks.ListTasks)
		admin.GET("/analysis/tasks/:id", h.Tasks.GetTask)
		admin.DELETE("/analysis/tasks/:id", h.Tasks.CancelTask)
	}

	return r, limiter
}
