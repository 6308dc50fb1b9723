package app

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/core"
	"github.com/edlive/classroom/internal/domain"
	"github.com/edlive/classroom/internal/protocol"
)

// Leave reasons carried in member-left broadcasts.
const (
	ReasonLeave      = "leave"
	ReasonDisconnect = "disconnect"
	ReasonTimeout    = "timeout"
	ReasonKicked     = "kicked"
	ReasonSlow       = "slow-consumer"
)

// Router is the protocol state machine: it decodes inbound envelopes,
// checks preconditions against the registry, and either mutates room state
// through the directory or relays the envelope to peers. Every precondition
// violation is answered with an error envelope, never a silent drop.
type Router struct {
	Registry *Registry
	Rooms    *core.Directory
	Policy   Policy
	Events   core.EventSink

	now func() time.Time
}

func NewRouter(reg *Registry, rooms *core.Directory, policy Policy, events core.EventSink) *Router {
	return &Router{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		Events:   events,
		now:      time.Now,
	}
}

// HandleFrame processes one raw inbound frame from a connection.
func (rt *Router) HandleFrame(sid core.ConnID, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "cannot decode envelope"))
		return
	}

	switch env.Kind {
	case protocol.KindJoin:
		rt.handleJoin(sid, env)
	case protocol.KindLeave:
		rt.handleLeave(sid)
	case protocol.KindNegotiate:
		rt.handleNegotiate(sid, env)
	case protocol.KindMediaState:
		rt.handleMediaState(sid, env)
	case protocol.KindRoomMessage:
		rt.handleRoomMessage(sid, env)
	case protocol.KindRoster:
		rt.handleRoster(sid)
	default:
		// Decode already rejected non-client kinds.
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "unsupported kind"))
	}
}

func (rt *Router) handleJoin(sid core.ConnID, env *protocol.Envelope) {
	if _, _, bound := rt.Registry.Binding(sid); bound {
		rt.reply(sid, protocol.NewError(protocol.CodeAlreadyJoined, "leave current room first"))
		return
	}
	if env.RoomID == "" || env.SenderID == "" {
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "join requires roomId and senderId"))
		return
	}
	var p protocol.JoinPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "bad join payload"))
			return
		}
	}
	member, err := domain.NewParticipant(env.SenderID, p.DisplayName, p.Role)
	if err != nil {
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, err.Error()))
		return
	}

	roomID := domain.RoomID(env.RoomID)
	if err := rt.Registry.Bind(sid, member.ID, roomID); err != nil {
		code := protocol.CodeAlreadyJoined
		if errors.Is(err, ErrTargetUnavailable) {
			code = protocol.CodeTargetUnavailable
		}
		rt.reply(sid, protocol.NewError(code, err.Error()))
		return
	}

	notice := protocol.NewEvent(protocol.KindMemberJoined, roomID, member.ID,
		protocol.MemberEventPayload{Member: *member}).Stamp(rt.now())
	roster, status := rt.Rooms.Join(roomID, member, sid, notice)
	if status == core.IdentityInUse {
		rt.Registry.ClearBinding(sid)
		rt.reply(sid, protocol.NewError(protocol.CodeAlreadyJoined, "identity already in use"))
		return
	}

	rt.reply(sid, protocol.NewEvent(protocol.KindRoster, roomID, member.ID, protocol.RosterPayload{
		RoomID:  string(roomID),
		Members: roster,
		Count:   len(roster),
	}).Stamp(rt.now()))

	if status == core.Joined {
		rt.emit(core.Event{Kind: protocol.KindMemberJoined, RoomID: roomID, Member: *member, At: rt.now()})
	}
}

func (rt *Router) handleLeave(sid core.ConnID) {
	identity, roomID, bound := rt.Registry.Binding(sid)
	if !bound {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	rt.leaveRoom(sid, identity, roomID, ReasonLeave)
	// Confirm to the sender; the connection stays open for a future join.
	rt.reply(sid, protocol.NewEvent(protocol.KindMemberLeft, roomID, identity,
		protocol.MemberEventPayload{Member: domain.Participant{ID: identity}, Reason: ReasonLeave}).Stamp(rt.now()))
}

func (rt *Router) handleNegotiate(sid core.ConnID, env *protocol.Envelope) {
	identity, roomID, bound := rt.Registry.Binding(sid)
	if !bound {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	if env.TargetID == "" {
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "negotiate requires targetId"))
		return
	}
	if env.RoomID != "" && env.RoomID != string(roomID) {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not a member of that room"))
		return
	}

	target, ok := rt.Rooms.Resolve(roomID, env.TargetID)
	if !ok {
		rt.reply(sid, protocol.NewError(protocol.CodeUnknownTarget, "target not in room"))
		return
	}

	// Relay verbatim, annotated with the sender's identity. The payload is
	// never interpreted here.
	fwd := *env
	fwd.RoomID = string(roomID)
	fwd.SenderID = identity
	fwd.Stamp(rt.now())
	if err := rt.Registry.Send(target, &fwd); err != nil {
		rt.reply(sid, protocol.NewError(protocol.CodeTargetUnavailable, "delivery failed"))
	}
}

func (rt *Router) handleMediaState(sid core.ConnID, env *protocol.Envelope) {
	identity, roomID, bound := rt.Registry.Binding(sid)
	if !bound {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	var state domain.MediaState
	if err := json.Unmarshal(env.Payload, &state); err != nil {
		rt.reply(sid, protocol.NewError(protocol.CodeMalformedEnvelope, "bad media-state payload"))
		return
	}

	notice := protocol.NewEvent(protocol.KindMediaState, roomID, identity, state).Stamp(rt.now())
	res, ok := rt.Rooms.SetMediaState(roomID, identity, state, notice)
	if !ok {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	rt.applyPolicy(roomID, res)
}

func (rt *Router) handleRoomMessage(sid core.ConnID, env *protocol.Envelope) {
	identity, roomID, bound := rt.Registry.Binding(sid)
	if !bound {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}

	// Stamped with server time and the sender's identity; the sender is
	// included in the fan-out so its client confirms delivery.
	msg := *env
	msg.RoomID = string(roomID)
	msg.SenderID = identity
	msg.Stamp(rt.now())
	res, ok := rt.Rooms.Broadcast(roomID, &msg, "")
	if !ok {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	rt.applyPolicy(roomID, res)
	rt.emit(core.Event{Kind: protocol.KindRoomMessage, RoomID: roomID, Member: domain.Participant{ID: identity}, At: rt.now()})
}

func (rt *Router) handleRoster(sid core.ConnID) {
	identity, roomID, bound := rt.Registry.Binding(sid)
	if !bound {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	roster, ok := rt.Rooms.Roster(roomID)
	if !ok {
		rt.reply(sid, protocol.NewError(protocol.CodeNotInRoom, "not in a room"))
		return
	}
	rt.reply(sid, protocol.NewEvent(protocol.KindRoster, roomID, identity, protocol.RosterPayload{
		RoomID:  string(roomID),
		Members: roster,
		Count:   len(roster),
	}).Stamp(rt.now()))
}

// OnDisconnect is the teardown path for a transport close or read failure.
// It funnels through the same leave path as an explicit departure.
func (rt *Router) OnDisconnect(sid core.ConnID) {
	rt.drop(sid, ReasonDisconnect)
}

// Evict is the liveness monitor's entry point for a dead connection.
func (rt *Router) Evict(sid core.ConnID) {
	rt.drop(sid, ReasonTimeout)
}

// EvictRoom removes every member of a room through the normal leave path.
func (rt *Router) EvictRoom(roomID domain.RoomID) {
	roster, ok := rt.Rooms.Roster(roomID)
	if !ok {
		return
	}
	for _, member := range roster {
		if sid, ok := rt.Rooms.Resolve(roomID, member.ID); ok {
			rt.drop(sid, ReasonKicked)
		}
	}
}

func (rt *Router) drop(sid core.ConnID, reason string) {
	if identity, roomID, bound := rt.Registry.Binding(sid); bound {
		rt.leaveRoom(sid, identity, roomID, reason)
	}
	rt.Registry.Unregister(sid)
}

// leaveRoom removes the identity from its room and broadcasts member-left to
// whoever remains. The directory's leave is idempotent, so a race between an
// explicit leave and an eviction sweep yields exactly one broadcast.
func (rt *Router) leaveRoom(sid core.ConnID, identity string, roomID domain.RoomID, reason string) {
	notice := protocol.NewEvent(protocol.KindMemberLeft, roomID, identity,
		protocol.MemberEventPayload{Member: domain.Participant{ID: identity}, Reason: reason}).Stamp(rt.now())
	removed, res := rt.Rooms.Leave(roomID, identity, notice)
	rt.Registry.ClearBinding(sid)
	if !removed {
		return
	}
	rt.applyPolicy(roomID, res)
	rt.emit(core.Event{Kind: protocol.KindMemberLeft, RoomID: roomID, Member: domain.Participant{ID: identity}, Reason: reason, At: rt.now()})
}

// applyPolicy reacts to broadcast backpressure. Dropped deliveries are
// expected for broadcasts and never abort the rest of the room.
func (rt *Router) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	if rt.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch rt.Policy.OnBackPressure(roomID, slow) {
		case KickMember:
			log.Warn().Str("module", "app.router").Str("sid", string(slow)).Str("room", string(roomID)).Msg("kicking slow consumer")
			rt.drop(slow, ReasonSlow)
		case MarkSlow, DropFrame, NoAction:
		}
	}
}

func (rt *Router) reply(sid core.ConnID, env *protocol.Envelope) {
	if env.Timestamp == 0 {
		env.Stamp(rt.now())
	}
	if err := rt.Registry.Send(sid, env); err != nil {
		log.Debug().Str("module", "app.router").Str("sid", string(sid)).Err(err).Msg("reply not delivered")
	}
}

func (rt *Router) emit(evt core.Event) {
	if rt.Events != nil {
		rt.Events.RoomEvent(evt)
	}
}
