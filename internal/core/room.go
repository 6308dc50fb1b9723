package core

import (
	"sync"

	"github.com/edlive/classroom/internal/domain"
	"github.com/edlive/classroom/internal/protocol"
)

// member pairs a participant's meta with its connection handle.
type member struct {
	conn ConnID
	meta *domain.Participant
}

// room is a threadsafe in-memory member set. All mutations and the
// broadcasts they trigger happen under one mutex, so per-room ordering
// holds: a member-left can never race ahead of the removal it describes.
// The room never closes adapter-owned resources.
type room struct {
	id domain.RoomID

	mu      sync.Mutex
	members map[string]*member
	// closed marks a room emptied and removed from the directory; a
	// concurrent join that still holds a stale pointer must retry.
	closed bool
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id, members: make(map[string]*member)}
}

// fanout delivers env to every member except exclude. Best effort:
// per-member failures are collected, never aborting the rest.
// Caller holds r.mu.
func (r *room) fanout(sender Sender, env *protocol.Envelope, exclude string) PublishResult {
	var res PublishResult
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if err := sender.Send(m.conn, env); err != nil {
			res.Dropped = append(res.Dropped, m.conn)
			continue
		}
		res.Sent++
	}
	return res
}

// snapshot returns the roster excluding the given identity ("" for all).
// Caller holds r.mu.
func (r *room) snapshot(exclude string) []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		out = append(out, *m.meta)
	}
	return out
}
