package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/adapters/signal"
	"github.com/edlive/classroom/internal/app"
	"github.com/edlive/classroom/internal/config"
	"github.com/edlive/classroom/internal/core"
	"github.com/edlive/classroom/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware gives every browser a stable token so the
// surrounding application can correlate a page session with its signaling
// connections. The signaling core itself keys on connection handles.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the HTTP surface: static classroom UI, the signaling
// WebSocket endpoint, and a diagnostics REST API over the room directory.
func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.Controller, rt *app.Router, rooms *core.Directory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ClassroomSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	// Signaling lives on its own path, away from the REST traffic.
	r.GET("/ws/classroom", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// GET /api/rooms — list rooms with member counts
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": rooms.List()})
	})

	// GET /api/rooms/:id/roster — diagnostics roster snapshot
	api.GET("/rooms/:id/roster", func(c *gin.Context) {
		id := domain.RoomID(c.Param("id"))
		roster, ok := rooms.Roster(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomId": id, "members": roster, "count": len(roster)})
	})

	// DELETE /api/rooms/:id — evict every member through the normal path
	api.DELETE("/rooms/:id", func(c *gin.Context) {
		rt.EvictRoom(domain.RoomID(c.Param("id")))
		c.Status(http.StatusNoContent)
	})

	// GET /api/ice-servers — STUN/TURN config for peers establishing media
	api.GET("/ice-servers", func(c *gin.Context) {
		servers := make([]webrtc.ICEServer, 0, len(cfg.STUNServers))
		for _, u := range cfg.STUNServers {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	return r
}
