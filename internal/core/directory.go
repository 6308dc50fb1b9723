package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edlive/classroom/internal/domain"
	"github.com/edlive/classroom/internal/protocol"
)

// JoinStatus reports the outcome of a Directory.Join.
type JoinStatus int

const (
	// Joined means the identity was added to the room.
	Joined JoinStatus = iota
	// AlreadyMember means the same connection re-joined; a no-op.
	AlreadyMember
	// IdentityInUse means another connection holds this identity.
	IdentityInUse
)

// Directory owns the room set. A room exists if and only if its member set
// is non-empty: first join creates it, last leave deletes it. Operations on
// different rooms proceed in parallel; within a room they are serialized.
type Directory struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*room
	sender Sender
}

func NewDirectory(sender Sender) *Directory {
	return &Directory{
		rooms:  make(map[domain.RoomID]*room),
		sender: sender,
	}
}

// Join adds p to the room, creating it on demand, and broadcasts notice to
// the members that were already present. It returns the pre-existing roster
// so the caller can inform the joining connection of who is there.
// Joining a room the identity is already in (same connection) is a no-op
// that returns the current roster unchanged.
func (d *Directory) Join(roomID domain.RoomID, p *domain.Participant, sid ConnID, notice *protocol.Envelope) ([]domain.Participant, JoinStatus) {
	for {
		d.mu.Lock()
		r, ok := d.rooms[roomID]
		if !ok {
			r = newRoom(roomID)
			d.rooms[roomID] = r
		}
		d.mu.Unlock()

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		if m, ok := r.members[p.ID]; ok {
			roster := r.snapshot(p.ID)
			status := AlreadyMember
			if m.conn != sid {
				status = IdentityInUse
			}
			r.mu.Unlock()
			return roster, status
		}
		roster := r.snapshot("")
		r.members[p.ID] = &member{conn: sid, meta: p}
		if notice != nil {
			r.fanout(d.sender, notice, p.ID)
		}
		r.mu.Unlock()

		log.Info().Str("module", "core.directory").Str("room", string(roomID)).Str("id", p.ID).Msg("member joined")
		return roster, Joined
	}
}

// Leave removes the identity and broadcasts notice to the remaining members.
// Removing an absent identity or room is a no-op, not an error: an explicit
// leave racing a liveness eviction must produce exactly one broadcast.
// The last member leaving deletes the room.
func (d *Directory) Leave(roomID domain.RoomID, id string, notice *protocol.Envelope) (bool, PublishResult) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return false, PublishResult{}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, PublishResult{}
	}
	if _, ok := r.members[id]; !ok {
		r.mu.Unlock()
		return false, PublishResult{}
	}
	delete(r.members, id)
	var res PublishResult
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	} else if notice != nil {
		res = r.fanout(d.sender, notice, id)
	}
	r.mu.Unlock()

	if empty {
		d.mu.Lock()
		if d.rooms[roomID] == r {
			delete(d.rooms, roomID)
		}
		d.mu.Unlock()
		log.Info().Str("module", "core.directory").Str("room", string(roomID)).Msg("room deleted")
	}
	log.Info().Str("module", "core.directory").Str("room", string(roomID)).Str("id", id).Msg("member left")
	return true, res
}

// Broadcast fans env out to the room's current members, skipping exclude
// when non-empty. The second return is false when the room does not exist.
func (d *Directory) Broadcast(roomID domain.RoomID, env *protocol.Envelope, exclude string) (PublishResult, bool) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return PublishResult{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, false
	}
	res := r.fanout(d.sender, env, exclude)
	log.Debug().Str("module", "core.directory").Str("room", string(roomID)).Int("sent", res.Sent).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res, true
}

// SetMediaState updates a member's media flags and broadcasts notice to the
// rest of the room under the same lock.
func (d *Directory) SetMediaState(roomID domain.RoomID, id string, state domain.MediaState, notice *protocol.Envelope) (PublishResult, bool) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return PublishResult{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PublishResult{}, false
	}
	m, ok := r.members[id]
	if !ok {
		return PublishResult{}, false
	}
	m.meta.Media = state
	var res PublishResult
	if notice != nil {
		res = r.fanout(d.sender, notice, id)
	}
	return res, true
}

// Resolve maps an identity to its connection handle within a room.
func (d *Directory) Resolve(roomID domain.RoomID, id string) (ConnID, bool) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return "", false
	}
	return m.conn, true
}

// Roster is a read-only snapshot for diagnostics and join responses.
func (d *Directory) Roster(roomID domain.RoomID) ([]domain.Participant, bool) {
	d.mu.RLock()
	r, ok := d.rooms[roomID]
	d.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(""), true
}

func (d *Directory) List() []RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoomInfo, 0, len(d.rooms))
	for id, r := range d.rooms {
		r.mu.Lock()
		n := len(r.members)
		r.mu.Unlock()
		out = append(out, RoomInfo{ID: id, MemberCount: n})
	}
	return out
}
