package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/service"
	"github.com/jengzang/fleet-records-go/pkg/response"
)

// maxIngestBody caps one ingest request
const maxIngestBody = 8 << 20

// TelemetryHandler handles HTTP requests for telemetry ingest and vehicle status
type TelemetryHandler struct {
	service *service.TelemetryService
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(service *service.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{service: service}
}

// Ingest handles POST /api/v1/telemetry. The body is one raw sample, an
// array of samples or {"samples": [...]}.
func (h *TelemetryHandler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIngestBody))
	if err != nil {
		response.BadRequest(c, "Failed to read request body")
		return
	}

	raws, err := decodeSamples(body)
	if err != nil {
		response.BadRequest(c, "Invalid telemetry payload: "+err.Error())
		return
	}
	if len(raws) == 0 {
		response.BadRequest(c, "No samples in request")
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), raws)
	if err != nil {
		log.Printf("[TelemetryHandler] Ingest failed: %v", err)
		response.InternalError(c, "Failed to ingest telemetry")
		return
	}

	response.Success(c, result)
}

func decodeSamples(body []byte) ([]models.RawSample, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var raws []models.RawSample
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}

	var envelope struct {
		Samples []models.RawSample `json:"samples"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.Samples != nil {
		return envelope.Samples, nil
	}

	var raw models.RawSample
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return []models.RawSample{raw}, nil
}

// GetStatus handles GET /api/v1/vehicles/:id/status
func (h *TelemetryHandler) GetStatus(c *gin.Context) {
	vehicleID := c.Param("id")

	status, err := h.service.VehicleStatus(c.Request.Context(), vehicleID)
	if err != nil {
		log.Printf("[TelemetryHandler] Status of %s failed: %v", vehicleID, err)
		response.InternalError(c, "Failed to get vehicle status")
		return
	}
	if status == nil {
		response.NotFound(c, "No telemetry for vehicle")
		return
	}

	response.Success(c, status)
}

// ListVehicles handles GET /api/v1/vehicles
func (h *TelemetryHandler) ListVehicles(c *gin.Context) {
	ids, err := h.service.ListVehicles(c.Request.Context())
	if err != nil {
		log.Printf("[TelemetryHandler] List vehicles failed: %v", err)
		response.InternalError(c, "Failed to list vehicles")
		return
	}

	response.Success(c, gin.H{
		"vehicles": ids,
		"count":    len(ids),
	})
}
