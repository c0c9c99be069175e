package http

import "github.com/gin-gonic/gin"

// registerV1Routes sets up the v1 API structure
// Groups: /api/v1/ingest, /api/v1/series, /api/v1/core
func (s *Server) registerV1Routes() {
	v1 := s.router.Group("/api/v1")
	v1.Use(apiVersionMiddleware()) // Add X-API-Version: v1 header

	// Ingestion gateway - uplink webhook. Stays outside the bearer gate:
	// uplink sources authenticate at the network integration layer.
	in := v1.Group("/ingest")
	{
		in.POST("/uplink", s.handleV1Uplink)
	}

	// Read surface, token-gated when a bearer token is configured.
	read := v1.Group("")
	if s.cfg.BearerToken != "" {
		read.Use(bearerAuthMiddleware(s.cfg.BearerToken))
	}

	// Series - the aggregation query engine
	read.GET("/series", s.handleV1Series)

	// Core endpoints - read-only topology and catalog metadata
	core := read.Group("/core")
	{
		core.GET("/stations", s.handleV1ListStations)
		core.GET("/stations/:id", s.handleV1GetStation)
		core.GET("/devices", s.handleV1ListDevices)
		core.GET("/kinds", s.handleV1ListKinds)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", "v1")
		c.Next()
	}
}
