package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opws/opws-telemetry/services/api/ingest"
)

// handleV1Uplink accepts one telemetry uplink record
// POST /api/v1/ingest/uplink
func (s *Server) handleV1Uplink(c *gin.Context) {
	var uplink ingest.Uplink
	if err := c.ShouldBindJSON(&uplink); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed uplink body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	result, err := s.gateway.Ingest(ctx, uplink)
	if err != nil {
		var schemaErr *ingest.SchemaError
		switch {
		case errors.Is(err, ingest.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "inserted": 0})
		case errors.As(err, &schemaErr):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "inserted": 0})
		default:
			s.log.Error("uplink ingestion failed", "dev_eui", uplink.DevEUI, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "inserted": 0, "retryable": true})
		}
		return
	}

	if result.Provisioned {
		s.log.Info("auto-provisioned station for new device",
			"dev_eui", uplink.DevEUI, "station", result.Station)
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"station":   result.Station,
		"inserted":  result.Inserted,
		"timestamp": result.Timestamp.Format(time.RFC3339),
	})
}
