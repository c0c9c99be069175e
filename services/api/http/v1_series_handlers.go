package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opws/opws-telemetry/services/api/series"
)

// handleV1Series returns time-aligned series per requested variable key
// GET /api/v1/series?station_id=1&keys=air_temp_c,rainfall_mm&from=...&to=...&group=hour
func (s *Server) handleV1Series(c *gin.Context) {
	stationID, err := strconv.Atoi(c.Query("station_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid station_id"})
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
		return
	}

	keys := make([]string, 0)
	for _, key := range strings.Split(c.Query("keys"), ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	req := series.Request{
		StationID:   stationID,
		Keys:        keys,
		From:        from.UTC(),
		To:          to.UTC(),
		Granularity: series.ParseGranularity(c.Query("group")),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	out, err := s.engine.Query(ctx, req)
	if err != nil {
		if errors.Is(err, series.ErrInvalidQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.log.Error("series query failed", "station_id", stationID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, out)
}
