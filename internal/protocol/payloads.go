package protocol

import (
	"github.com/pion/webrtc/v4"

	"github.com/edlive/classroom/internal/domain"
)

// JoinPayload carries the profile a participant claims on join.
type JoinPayload struct {
	DisplayName string      `json:"displayName,omitempty"`
	Role        domain.Role `json:"role,omitempty"`
}

// NegotiatePayload is the typed view of a directed negotiate envelope.
// The server relays the payload verbatim and never interprets the SDP;
// this struct exists so clients and tests share one shape.
type NegotiatePayload struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// ChatPayload is the body of a room-message envelope.
type ChatPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is the body of an error-kind envelope.
type ErrorPayload struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

// RosterPayload answers a join or roster request with the room snapshot.
type RosterPayload struct {
	RoomID  string               `json:"roomId"`
	Members []domain.Participant `json:"members"`
	Count   int                  `json:"count"`
}

// MemberEventPayload is the body of member-joined and member-left broadcasts.
type MemberEventPayload struct {
	Member domain.Participant `json:"member"`
	Reason string             `json:"reason,omitempty"`
}
