// Package protocol defines the signaling wire format: the envelope exchanged
// over a classroom connection and the closed set of message kinds.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/edlive/classroom/internal/domain"
)

// Kind tags an envelope. The set is closed; the router dispatches over it
// with an exhaustive switch.
type Kind string

// Client-originated kinds.
const (
	KindJoin        Kind = "join"
	KindLeave       Kind = "leave"
	KindNegotiate   Kind = "negotiate"
	KindMediaState  Kind = "media-state"
	KindRoomMessage Kind = "room-message"
	KindRoster      Kind = "roster"
)

// Server-emitted kinds.
const (
	KindError        Kind = "error"
	KindMemberJoined Kind = "member-joined"
	KindMemberLeft   Kind = "member-left"
)

// Valid reports whether k is a kind a client is allowed to send.
func (k Kind) Valid() bool {
	switch k {
	case KindJoin, KindLeave, KindNegotiate, KindMediaState, KindRoomMessage, KindRoster:
		return true
	}
	return false
}

// Code identifies which precondition a rejected envelope violated.
type Code string

const (
	CodeNotInRoom         Code = "NotInRoom"
	CodeAlreadyJoined     Code = "AlreadyJoined"
	CodeUnknownTarget     Code = "UnknownTarget"
	CodeMalformedEnvelope Code = "MalformedEnvelope"
	CodeTargetUnavailable Code = "TargetUnavailable"
	CodeRateLimited       Code = "RateLimited"
)

var ErrMalformed = errors.New("malformed envelope")

// Envelope is the unit of exchange. It is never persisted.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	RoomID    string          `json:"roomId,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Decode parses a raw frame into an envelope. A frame that is not JSON or
// carries a kind outside the client set is rejected as malformed.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}
	if !env.Kind.Valid() {
		return nil, ErrMalformed
	}
	return &env, nil
}

// Stamp sets the server-time timestamp on an egress envelope.
func (e *Envelope) Stamp(now time.Time) *Envelope {
	e.Timestamp = now.UnixMilli()
	return e
}

// NewError builds an error-kind reply identifying the failed precondition.
func NewError(code Code, msg string) *Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: msg})
	return &Envelope{Kind: KindError, Payload: payload}
}

// NewEvent builds a server-emitted envelope with a marshaled payload.
// Payloads here are built by the server, so a marshal failure is a bug;
// it degrades to an empty payload rather than panicking.
func NewEvent(kind Kind, roomID domain.RoomID, senderID string, payload any) *Envelope {
	raw, _ := json.Marshal(payload)
	return &Envelope{
		Kind:     kind,
		RoomID:   string(roomID),
		SenderID: senderID,
		Payload:  raw,
	}
}
