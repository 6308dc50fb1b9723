package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/core"
	"github.com/edlive/classroom/internal/domain"
	"github.com/edlive/classroom/internal/protocol"
)

var (
	// ErrAlreadyBound rejects re-binding a connection that still holds a
	// different identity in an active room.
	ErrAlreadyBound = errors.New("connection already bound")
	// ErrTargetUnavailable means best-effort delivery did not happen.
	// Callers must not assume delivery succeeded.
	ErrTargetUnavailable = errors.New("target unavailable")
)

type connEntry struct {
	conn     core.SignalConnection
	identity string
	room     domain.RoomID
	cancel   context.CancelFunc
	lastSeen time.Time
}

// Registry owns the state of every live transport connection: identity and
// room bindings plus liveness bookkeeping. It is the only component allowed
// to touch a connection's transport for delivery.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		now:   time.Now,
	}
}

// Register creates state for a freshly accepted connection: no identity, no
// room. It always succeeds and returns the new handle.
func (r *Registry) Register(conn core.SignalConnection, cancel context.CancelFunc) core.ConnID {
	sid := core.ConnID(uuid.NewString())
	r.mu.Lock()
	r.conns[sid] = &connEntry{conn: conn, cancel: cancel, lastSeen: r.now()}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("registered connection")
	return sid
}

// Bind associates an identity and room with a connection. A connection that
// is already bound must leave before taking another identity or room.
func (r *Registry) Bind(sid core.ConnID, identity string, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok {
		return ErrTargetUnavailable
	}
	if e.room != "" && (e.identity != identity || e.room != room) {
		return ErrAlreadyBound
	}
	e.identity = identity
	e.room = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("id", identity).Str("room", string(room)).Msg("bound identity")
	return nil
}

// ClearBinding drops the room association but keeps the connection
// registered, returning it to the unbound state.
func (r *Registry) ClearBinding(sid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[sid]; ok {
		e.identity = ""
		e.room = ""
	}
}

// Binding returns the identity/room currently bound to a connection.
func (r *Registry) Binding(sid core.ConnID) (string, domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[sid]
	if !ok || e.room == "" {
		return "", "", false
	}
	return e.identity, e.room, true
}

// Send encodes env and hands it to the connection's transport. It never
// blocks: a missing connection or a transport write failure degrades to
// ErrTargetUnavailable.
func (r *Registry) Send(sid core.ConnID, env *protocol.Envelope) error {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return ErrTargetUnavailable
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := e.conn.TrySend(core.Frame(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}
	return nil
}

// MarkAlive records probe or message activity on a connection.
func (r *Registry) MarkAlive(sid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[sid]; ok {
		e.lastSeen = r.now()
	}
}

// Stale returns every connection with no observed activity inside the
// timeout window.
func (r *Registry) Stale(timeout time.Duration) []core.ConnID {
	cutoff := r.now().Add(-timeout)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnID
	for sid, e := range r.conns {
		if e.lastSeen.Before(cutoff) {
			out = append(out, sid)
		}
	}
	return out
}

// Handles snapshots the registered connection handles.
func (r *Registry) Handles() []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ConnID, 0, len(r.conns))
	for sid := range r.conns {
		out = append(out, sid)
	}
	return out
}

// Probe fires a liveness check on the connection. Fire-and-forget: the
// answer, if any, comes back through MarkAlive.
func (r *Registry) Probe(sid core.ConnID) error {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return ErrTargetUnavailable
	}
	return e.conn.Probe()
}

// Unregister removes the connection's state and cancels its serving context.
// Idempotent: explicit disconnect and liveness eviction may race to call it.
func (r *Registry) Unregister(sid core.ConnID) {
	r.mu.Lock()
	e, ok := r.conns[sid]
	delete(r.conns, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered connection")
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
