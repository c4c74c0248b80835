package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prop-ie/realtime/internal/config"
	"github.com/prop-ie/realtime/internal/events"
	"github.com/prop-ie/realtime/internal/realtime"
	goredis "github.com/redis/go-redis/v9"
)

type Server struct {
	echo        *echo.Echo
	config      *config.Config
	hub         *realtime.Hub
	adapter     *events.Adapter
	redisClient *goredis.Client // nil when the Redis bridge is disabled
	limits      *ConnectionLimits
	clock       clockwork.Clock
	startTime   time.Time
}

// NewServer wires the HTTP surface: the WebSocket endpoint, the event
// ingest route, and the observability endpoints. redisClient may be nil.
func NewServer(cfg *config.Config, hub *realtime.Hub, adapter *events.Adapter, redisClient *goredis.Client, clock clockwork.Clock) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:        e,
		config:      cfg,
		hub:         hub,
		adapter:     adapter,
		redisClient: redisClient,
		limits:      NewConnectionLimits(cfg.MaxConnections, cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		clock:       clock,
		startTime:   clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
