package server

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prop-ie/realtime/internal/events"
	"github.com/prop-ie/realtime/internal/metrics"
)

// handleIngestEvent accepts a domain event envelope from the platform and
// fans it out through the adapter.
func (s *Server) handleIngestEvent(c echo.Context) error {
	if !s.checkIngestAuth(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing bearer token"})
	}

	var envelope events.Envelope
	if err := json.NewDecoder(c.Request().Body).Decode(&envelope); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed event envelope"})
	}

	event, err := envelope.Decode()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	metrics.DomainEventsReceived.WithLabelValues(envelope.Kind, "http").Inc()
	if err := s.adapter.Handle(event); err != nil {
		slog.Error("Failed to broadcast ingested event", "kind", envelope.Kind, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "broadcast failed"})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) checkIngestAuth(c echo.Context) bool {
	auth := c.Request().Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.IngestAPIKey)) == 1
}
