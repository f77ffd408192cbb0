package handler

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/service"
	"github.com/jengzang/fleet-records-go/pkg/response"
)

// ProductivityHandler handles HTTP requests for productivity periods and reports
type ProductivityHandler struct {
	service *service.ProductivityService
}

// NewProductivityHandler creates a new productivity handler
func NewProductivityHandler(service *service.ProductivityService) *ProductivityHandler {
	return &ProductivityHandler{service: service}
}

// GetDaily handles GET /api/v1/vehicles/:id/productivity/daily/:date
func (h *ProductivityHandler) GetDaily(c *gin.Context) {
	var filter models.ProductivityFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	date := c.Param("date")
	if _, err := h.service.ParseDate(date); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	vehicleID := c.Param("id")
	period, err := h.service.GetDaily(c.Request.Context(), vehicleID, date, filter.Refresh)
	if err != nil {
		log.Printf("[ProductivityHandler] Daily %s %s failed: %v", vehicleID, date, err)
		response.InternalError(c, "Failed to compute productivity")
		return
	}

	response.Success(c, period)
}

// GetReport handles GET /api/v1/vehicles/:id/productivity/report
func (h *ProductivityHandler) GetReport(c *gin.Context) {
	var filter models.ReportFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	switch filter.Kind {
	case "", models.ReportWeekly, models.ReportMonthly:
	case models.ReportCustom:
		if filter.StartDate == "" || filter.EndDate == "" {
			response.BadRequest(c, "custom reports need startDate and endDate")
			return
		}
	default:
		response.BadRequest(c, "kind must be weekly, monthly or custom")
		return
	}
	var dates []time.Time
	for _, d := range []string{filter.StartDate, filter.EndDate} {
		if d == "" {
			continue
		}
		day, err := h.service.ParseDate(d)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		dates = append(dates, day)
	}
	if filter.Kind == models.ReportCustom && dates[1].Before(dates[0]) {
		response.BadRequest(c, "endDate must not be before startDate")
		return
	}

	vehicleID := c.Param("id")
	report, err := h.service.GetReport(c.Request.Context(), vehicleID, filter)
	if err != nil {
		log.Printf("[ProductivityHandler] Report %s failed: %v", vehicleID, err)
		response.InternalError(c, "Failed to build report")
		return
	}

	response.Success(c, report)
}

// GetHistory handles GET /api/v1/vehicles/:id/productivity?startDate=..&endDate=..
// and lists stored periods without recomputing
func (h *ProductivityHandler) GetHistory(c *gin.Context) {
	var filter models.ReportFilter
	if err := c.ShouldBindQuery(&filter); err != nil || filter.StartDate == "" || filter.EndDate == "" {
		response.BadRequest(c, "startDate and endDate are required")
		return
	}

	vehicleID := c.Param("id")
	periods, err := h.service.ListStored(c.Request.Context(), vehicleID, filter.StartDate, filter.EndDate)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"periods": periods,
		"count":   len(periods),
	})
}
