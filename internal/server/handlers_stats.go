package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleStats reports a point-in-time view of the connection registry.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Stats())
}
