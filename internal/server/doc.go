// Package server implements the HTTP surface using Echo framework.
//
// Routes: WebSocket endpoint (/ws), domain event ingest (/internal/events),
// registry stats, health, metrics, version. Handlers split by concern:
// handlers_ws.go, handlers_events.go, handlers_stats.go, handlers_health.go.
package server
