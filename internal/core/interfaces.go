package core

import (
	"time"

	"github.com/edlive/classroom/internal/domain"
	"github.com/edlive/classroom/internal/protocol"
)

// Frame is a raw encoded envelope ready for the wire.
type Frame []byte

// ConnID is the opaque handle of one live transport session, independent of
// the identity that later binds to it.
type ConnID string

// SignalConnection abstracts for a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	// Probe fires a liveness check; the answer arrives out of band and is
	// reported through the registry's MarkAlive.
	Probe() error
	Close()
}

// Sender delivers an envelope to a registered connection. Implemented by the
// connection registry; the room directory never touches transports directly.
type Sender interface {
	Send(ConnID, *protocol.Envelope) error
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	Sent    int
	Dropped []ConnID
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"memberCount"`
}

// Event is the subscription-hook view of a room lifecycle change. An
// external store may consume these; the core never persists anything.
type Event struct {
	Kind   protocol.Kind
	RoomID domain.RoomID
	Member domain.Participant
	Reason string
	At     time.Time
}

// EventSink receives room events. Sink failures must never affect delivery,
// so the interface has no error return.
type EventSink interface {
	RoomEvent(Event)
}
