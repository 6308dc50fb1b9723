package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/edlive/classroom/internal/app"
	"github.com/edlive/classroom/internal/config"
	"github.com/edlive/classroom/internal/core"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		ReadLimit:  32768,
		SendBuffer: 32,
		RateLimit:  64,
		RateWindow: time.Second,
	}
	reg := app.NewRegistry()
	rooms := core.NewDirectory(reg)
	rt := app.NewRouter(reg, rooms, app.SimplePolicy{}, nil)
	ctl := NewController(reg, rt, NewRateLimiter(cfg.RateLimit, cfg.RateWindow), cfg)

	r := gin.New()
	r.GET("/ws/classroom", func(c *gin.Context) {
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/classroom"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestWebSocketJoinRoundTrip(t *testing.T) {
	srv, reg := newTestServer(t)
	ws := dial(t, srv)

	join := map[string]any{"kind": "join", "roomId": "algebra-101", "senderId": "alice"}
	if err := ws.WriteJSON(join); err != nil {
		t.Fatalf("write join: %v", err)
	}

	reply := readEnvelope(t, ws)
	if reply["kind"] != "roster" {
		t.Fatalf("reply kind = %v, want roster", reply["kind"])
	}

	if reg.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", reg.Count())
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dial(t, srv)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("::junk::")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := readEnvelope(t, ws)
	if reply["kind"] != "error" {
		t.Fatalf("reply kind = %v, want error", reply["kind"])
	}

	// The connection survives a protocol error.
	if err := ws.WriteJSON(map[string]any{"kind": "join", "roomId": "r", "senderId": "a"}); err != nil {
		t.Fatalf("write after error: %v", err)
	}
	if reply := readEnvelope(t, ws); reply["kind"] != "roster" {
		t.Fatalf("reply kind = %v, want roster", reply["kind"])
	}
}

func TestWebSocketEvictionClosesClientSocket(t *testing.T) {
	srv, reg := newTestServer(t)
	ws := dial(t, srv)

	if err := ws.WriteJSON(map[string]any{"kind": "join", "roomId": "r", "senderId": "a"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readEnvelope(t, ws)

	handles := reg.Handles()
	if len(handles) != 1 {
		t.Fatalf("handles = %d, want 1", len(handles))
	}
	reg.Unregister(handles[0])

	// The server must tear the socket down on its own; the client sends
	// nothing and still sees the connection close rather than hang.
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if err == nil {
		t.Fatal("read succeeded after eviction, want closed connection")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		t.Fatalf("read timed out instead of observing a close: %v", err)
	}
}

func TestWebSocketDisconnectCleansRoom(t *testing.T) {
	srv, reg := newTestServer(t)
	ws := dial(t, srv)

	if err := ws.WriteJSON(map[string]any{"kind": "join", "roomId": "r", "senderId": "a"}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	readEnvelope(t, ws)

	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for reg.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("registry count = %d after disconnect, want 0", reg.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
