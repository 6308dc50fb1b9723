// Package signal is the WebSocket adapter for the classroom protocol: it
// owns the transport connections and feeds raw frames to the router.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/app"
	"github.com/edlive/classroom/internal/config"
	"github.com/edlive/classroom/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

const writeWait = 5 * time.Second

type Controller struct {
	Registry *app.Registry
	Router   *app.Router
	Limiter  *RateLimiter
	Cfg      *config.Config
}

func NewController(reg *app.Registry, rt *app.Router, limiter *RateLimiter, cfg *config.Config) *Controller {
	return &Controller{Registry: reg, Router: rt, Limiter: limiter, Cfg: cfg}
}

// wsConn adapts a gorilla connection to core.SignalConnection. Writes go
// through a buffered channel drained by the write pump, so TrySend never
// waits on a slow consumer.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Probe sends a ping control frame. WriteControl is safe to call
// concurrently with the write pump.
func (c *wsConn) Probe() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the connection. Identity
// is validated out of band before the request reaches this subsystem; here
// the connection starts unbound and joins a room by message.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	log.Info().Str("module", "signal").Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	sid := ctl.Registry.Register(conn, cancel)

	// Eviction cancels the connection's context; tear the socket down so a
	// blocked read returns and the client learns it was dropped.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ws.SetReadLimit(ctl.Cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		ctl.Registry.MarkAlive(sid)
		return nil
	})

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
