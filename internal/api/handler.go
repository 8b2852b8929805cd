package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autotrade-core/internal/engine"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/session"
)

// EventSource delivers session notifications to websocket clients.
type EventSource interface {
	Subscribe(fn session.Observer) func()
}

// Server wires HTTP endpoints around the engine facade.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Events    EventSource
	Metrics   *monitor.SystemMetrics
	JWTSecret string
}

// Options configures NewServer.
type Options struct {
	Engine         engine.Service
	Events         EventSource
	Metrics        *monitor.SystemMetrics
	JWTSecret      string
	RequestTimeout time.Duration
}

func NewServer(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                       // Panic recovery (first)
	r.Use(RequestIDMiddleware())                // Request ID tracking
	r.Use(RequestLogger(opts.Metrics))          // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())                // Rate limiting
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Events:    opts.Events,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/market/:segment", s.getMarketStatus)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/strategies", s.getStrategies)

			protected.GET("/sessions", s.listSessions)
			protected.POST("/sessions", s.startSession)
			protected.POST("/sessions/emergency-stop", s.emergencyStop)
			protected.GET("/sessions/:id", s.getSession)
			protected.GET("/sessions/:id/audit", s.getSessionAudit)
			protected.GET("/sessions/:id/indicators", s.getSessionIndicators)
			protected.POST("/sessions/:id/pause", s.pauseSession)
			protected.POST("/sessions/:id/resume", s.resumeSession)
			protected.POST("/sessions/:id/stop", s.stopSession)

			protected.GET("/accounts/:account/sessions", s.listAccountSessions)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
