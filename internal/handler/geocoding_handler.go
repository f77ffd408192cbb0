package handler

import (
	"log"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/service"
	"github.com/jengzang/fleet-records-go/pkg/response"
)

// GeocodingHandler handles HTTP requests for the client gazetteer
type GeocodingHandler struct {
	service *service.GeocodingService
}

// NewGeocodingHandler creates a new geocoding handler
func NewGeocodingHandler(service *service.GeocodingService) *GeocodingHandler {
	return &GeocodingHandler{service: service}
}

// ListClients handles GET /api/v1/clients
func (h *GeocodingHandler) ListClients(c *gin.Context) {
	clients := h.service.ListClients()
	response.Success(c, gin.H{
		"clients": clients,
		"count":   len(clients),
	})
}

// UpsertClient handles PUT /api/admin/clients
func (h *GeocodingHandler) UpsertClient(c *gin.Context) {
	loc := models.ClientLocation{IsActive: true}
	if err := c.ShouldBindJSON(&loc); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	if err := h.service.UpsertClient(c.Request.Context(), loc); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, gin.H{"message": "Client location stored"})
}

// ReloadGazetteer handles POST /api/admin/clients/reload
func (h *GeocodingHandler) ReloadGazetteer(c *gin.Context) {
	count, loadedAt, err := h.service.ReloadGazetteer(c.Request.Context())
	if err != nil {
		log.Printf("[GeocodingHandler] Gazetteer reload failed: %v", err)
		response.InternalError(c, "Failed to reload client locations")
		return
	}

	response.Success(c, gin.H{
		"count":    count,
		"loadedAt": loadedAt.Unix(),
	})
}

// MatchClient handles GET /api/v1/clients/match?lat=..&lng=..
func (h *GeocodingHandler) MatchClient(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(c, "lat and lng are required")
		return
	}

	match, ok := h.service.Match(c.Request.Context(), lat, lng)
	if !ok {
		response.NotFound(c, "No client at this location")
		return
	}

	response.Success(c, match)
}
