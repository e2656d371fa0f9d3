// Package api exposes the control surface: auth, bot CRUD, run lifecycle
// actions, arming, kill switch, and audit queries.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"botcore/internal/events"
	"botcore/internal/orchestrator"
	"botcore/internal/run"
	"botcore/pkg/crypto"
	"botcore/pkg/db"
)

// Server wires HTTP endpoints around the core services.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Rec       *events.Recorder
	DB        *db.Database
	Runs      *run.Manager
	Orch      *orchestrator.Orchestrator
	Keys      *crypto.KeyManager
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	LiveEnabled bool
	Venue       string
	Version     string
}

func NewServer(bus *events.Bus, rec *events.Recorder, database *db.Database, runs *run.Manager, orch *orchestrator.Orchestrator, keys *crypto.KeyManager, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Rec:       rec,
		DB:        database,
		Runs:      runs,
		Orch:      orch,
		Keys:      keys,
		JWTSecret: jwtSecret,
		Meta:      meta,
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

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/bots", s.listBots)
			protected.POST("/bots", s.createBot)
			protected.GET("/bots/:id", s.getBot)
			protected.PUT("/bots/:id", s.updateBot)
			protected.DELETE("/bots/:id", s.deleteBot)

			// Run lifecycle actions
			protected.POST("/bots/:id/start", s.controlAction(run.ActionStart))
			protected.POST("/bots/:id/pause", s.controlAction(run.ActionPause))
			protected.POST("/bots/:id/stop", s.controlAction(run.ActionStop))
			protected.POST("/bots/:id/kill", s.controlAction(run.ActionKill))

			// Live arming protocol
			protected.POST("/bots/:id/arm", s.requestArm)
			protected.POST("/bots/:id/arm/confirm", s.confirmArm)

			protected.POST("/bots/:id/tick", s.tickBot)
			protected.GET("/bots/:id/orders", s.getOrders)
			protected.GET("/bots/:id/positions", s.getPositions)
			protected.GET("/bots/:id/events", s.getEvents)

			protected.GET("/kill-switch", s.getKillSwitch)
			protected.POST("/kill-switch", s.setKillSwitch)

			protected.POST("/credentials", s.createCredential)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"live_enabled": s.Meta.LiveEnabled,
		"venue":        s.Meta.Venue,
		"version":      s.Meta.Version,
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
