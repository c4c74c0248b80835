package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Realtime endpoint — identity is claimed in-band via the authenticate
	// frame, so the route itself is open.
	s.echo.GET("/ws", s.handleWebSocket)

	// Registry stats (read-only scan)
	s.echo.GET("/api/realtime/stats", s.handleStats)

	// Domain event ingest from the platform (bearer token, not end users)
	s.echo.POST("/internal/events", s.handleIngestEvent)
}
