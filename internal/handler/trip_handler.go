package handler

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/service"
	"github.com/jengzang/fleet-records-go/pkg/response"
)

// defaultTripWindow is the lookback when no time range is given
const defaultTripWindow = 24 * time.Hour

// TripHandler handles HTTP requests for trips and parking periods
type TripHandler struct {
	service      *service.TripService
	productivity *service.ProductivityService
}

// NewTripHandler creates a new trip handler. productivity resolves report
// dates for the parking endpoint.
func NewTripHandler(service *service.TripService, productivity *service.ProductivityService) *TripHandler {
	return &TripHandler{service: service, productivity: productivity}
}

// GetTrips handles GET /api/v1/vehicles/:id/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	from, to, ok := timeWindow(c, filter.StartTime, filter.EndTime)
	if !ok {
		return
	}

	vehicleID := c.Param("id")
	trips, err := h.service.GetTrips(c.Request.Context(), vehicleID, from, to, filter.Consolidated, filter.WithPoints)
	if err != nil {
		log.Printf("[TripHandler] Trips of %s failed: %v", vehicleID, err)
		response.InternalError(c, "Failed to get trips")
		return
	}

	response.Success(c, gin.H{
		"trips":     trips,
		"count":     len(trips),
		"startTime": from.Unix(),
		"endTime":   to.Unix(),
	})
}

// GetTripByID handles GET /api/v1/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	trip, err := h.service.GetTripByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("[TripHandler] Trip %s failed: %v", c.Param("id"), err)
		response.InternalError(c, "Failed to get trip")
		return
	}
	if trip == nil {
		response.NotFound(c, "Trip not found")
		return
	}

	response.Success(c, trip)
}

// GetParking handles GET /api/v1/vehicles/:id/parking?date=YYYY-MM-DD
func (h *TripHandler) GetParking(c *gin.Context) {
	var filter models.ParkingFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "date is required")
		return
	}
	day, err := h.productivity.ParseDate(filter.Date)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	vehicleID := c.Param("id")
	periods, err := h.service.GetParkingPeriods(c.Request.Context(), vehicleID, day, day.AddDate(0, 0, 1))
	if err != nil {
		log.Printf("[TripHandler] Parking of %s failed: %v", vehicleID, err)
		response.InternalError(c, "Failed to get parking periods")
		return
	}

	response.Success(c, gin.H{
		"date":    filter.Date,
		"periods": periods,
	})
}

// GetRoute handles GET /api/v1/vehicles/:id/route
func (h *TripHandler) GetRoute(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	from, to, ok := timeWindow(c, filter.StartTime, filter.EndTime)
	if !ok {
		return
	}

	vehicleID := c.Param("id")
	points, err := h.service.GetRoute(c.Request.Context(), vehicleID, from, to)
	if err != nil {
		log.Printf("[TripHandler] Route of %s failed: %v", vehicleID, err)
		response.InternalError(c, "Failed to get route")
		return
	}

	response.Success(c, gin.H{
		"points":    points,
		"count":     len(points),
		"startTime": from.Unix(),
		"endTime":   to.Unix(),
	})
}

// timeWindow resolves unix startTime/endTime query values, defaulting to the
// last defaultTripWindow
func timeWindow(c *gin.Context, startTime, endTime int64) (time.Time, time.Time, bool) {
	to := time.Now().UTC()
	if endTime > 0 {
		to = time.Unix(endTime, 0).UTC()
	}
	from := to.Add(-defaultTripWindow)
	if startTime > 0 {
		from = time.Unix(startTime, 0).UTC()
	}
	if !to.After(from) {
		response.BadRequest(c, "endTime must be after startTime")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
